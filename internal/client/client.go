// Package client talks to the cache administration HTTP surface of a running node.
package client

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/rs/zerolog"

	"github.com/dhis2/dhis2-core-sub010/internal/config"
	"github.com/dhis2/dhis2-core-sub010/internal/models"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultRetries    = 2
	retryBackoff      = 200 * time.Millisecond
	retryMaxBackoff   = 2 * time.Second
	versionHeaderName = "X-Cache-Admin-Version"
)

// Client defines the operations of the cache administration API
type Client interface {
	Info(ctx context.Context, condensed bool) (*models.CacheInfo, error)
	Regions(ctx context.Context) ([]string, error)
	Region(ctx context.Context, name string) (*models.CacheGroupInfo, error)
	Cap(ctx context.Context) (*models.CacheCapInfo, error)
	UpdateCap(ctx context.Context, update models.CapUpdate) error
	Invalidate(ctx context.Context) error
	InvalidateRegion(ctx context.Context, name string) error
	Health(ctx context.Context) (*Health, error)

	// ServerVersion returns the version announced by the last response, or "" before any request.
	ServerVersion() string
}

// Options configures a Client.
type Options struct {
	BaseURL               string // e.g. "http://localhost:8080"
	Timeout               string // Go duration, defaults to 30s
	ProxyConnectionString string
	Retries               int // Retries for transient failures; negative disables retrying
	Logger                *zerolog.Logger
}

// client implements the Client interface
type client struct {
	httpClient *http.Client
	baseURL    string
	retry      retrypolicy.RetryPolicy[any]
	logger     zerolog.Logger
	version    versionTracker
}

// NewClient creates a new client instance with proxy configuration if provided
func NewClient(opts Options) Client {
	logger := config.GetLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	// Parse timeout duration
	timeout := defaultTimeout
	if opts.Timeout != "" {
		if parsedTimeout, err := time.ParseDuration(opts.Timeout); err != nil {
			logger.Warn().Err(err).Str("timeout", opts.Timeout).Msg("Invalid timeout duration, using default 30s")
		} else {
			timeout = parsedTimeout
		}
	}

	// Clone DefaultTransport to preserve its pooling and HTTP/2 settings
	baseTransport := http.DefaultTransport.(*http.Transport).Clone()

	if opts.ProxyConnectionString != "" {
		proxyURL, err := url.Parse(opts.ProxyConnectionString)
		if err != nil {
			logger.Warn().Err(err).Str("proxy", opts.ProxyConnectionString).Msg("Invalid proxy URL, continuing without proxy")
		} else {
			baseTransport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	retries := opts.Retries
	if retries == 0 {
		retries = defaultRetries
	}
	if retries < 0 {
		retries = 0
	}

	return &client{
		// Wrap transport with compression support (gzip, brotli, zstd)
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: newCompressionTransport(baseTransport),
		},
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		retry: retrypolicy.NewBuilder[any]().
			HandleIf(func(_ any, err error) bool { return isTransient(err) }).
			WithMaxRetries(retries).
			WithBackoff(retryBackoff, retryMaxBackoff).
			ReturnLastFailure().
			Build(),
		logger: logger,
	}
}

func (c *client) ServerVersion() string {
	return c.version.get()
}
