package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/failsafe-go/failsafe-go"

	"github.com/dhis2/dhis2-core-sub010/internal/models"
	"github.com/dhis2/dhis2-core-sub010/internal/version"
)

// Health is the body of GET /healthz
type Health struct {
	Status  string `json:"status"`
	Cache   string `json:"cache"`
	Version string `json:"version"`
}

// errorBody is the JSON error document returned by the admin API.
type errorBody struct {
	HTTPStatusCode int    `json:"httpStatusCode"`
	Message        string `json:"message"`
}

// Info fetches the cache snapshot
func (c *client) Info(ctx context.Context, condensed bool) (*models.CacheInfo, error) {
	query := url.Values{}
	if condensed {
		query.Set("condensed", "true")
	}
	var info models.CacheInfo
	if err := c.do(ctx, http.MethodGet, "/caches", query, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Regions lists the region names
func (c *client) Regions(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.do(ctx, http.MethodGet, "/caches/regions", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// Region fetches the snapshot of one region
func (c *client) Region(ctx context.Context, name string) (*models.CacheGroupInfo, error) {
	var info models.CacheGroupInfo
	if err := c.do(ctx, http.MethodGet, "/caches/regions/"+url.PathEscape(name), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// Cap fetches the cap percentages
func (c *client) Cap(ctx context.Context) (*models.CacheCapInfo, error) {
	var info models.CacheCapInfo
	if err := c.do(ctx, http.MethodGet, "/caches/cap", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// UpdateCap sends the fields set in update
func (c *client) UpdateCap(ctx context.Context, update models.CapUpdate) error {
	query := url.Values{}
	if update.Heap != nil {
		query.Set("heap", strconv.Itoa(*update.Heap))
	}
	if update.Hard != nil {
		query.Set("hard", strconv.Itoa(*update.Hard))
	}
	if update.Soft != nil {
		query.Set("soft", strconv.Itoa(*update.Soft))
	}
	return c.do(ctx, http.MethodPut, "/caches/cap", query, nil)
}

// Invalidate clears every region
func (c *client) Invalidate(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/caches/invalidate", nil, nil)
}

// InvalidateRegion clears one region
func (c *client) InvalidateRegion(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/caches/regions/"+url.PathEscape(name)+"/invalidate", nil, nil)
}

// Health fetches the liveness document
func (c *client) Health(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// do executes one request with retries for transient failures and decodes a 2xx body into out.
func (c *client) do(ctx context.Context, method, path string, query url.Values, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	attempt := 0
	err := failsafe.With[any](c.retry).WithContext(ctx).Run(func() error {
		attempt++
		if attempt > 1 {
			c.logger.Debug().Str("method", method).Str("url", target).Int("attempt", attempt).Msg("Retrying cache admin request")
		}
		return c.once(ctx, method, target, out)
	})
	if err != nil {
		var t *transientError
		if errors.As(err, &t) {
			return t.err
		}
		return err
	}
	return nil
}

func (c *client) once(ctx context.Context, method, target string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &transientError{err: fmt.Errorf("cache admin request failed: %w", err)}
	}
	defer resp.Body.Close()

	if err := c.version.check(resp.Header.Get(versionHeaderName)); err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var body errorBody
		if data, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); readErr == nil && json.Unmarshal(data, &body) == nil {
			apiErr.Message = body.Message
		}
		if isTransientStatus(resp.StatusCode) {
			return &transientError{err: apiErr}
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", target, err)
	}
	return nil
}

// versionTracker remembers the last announced server version and rejects a change of major version.
type versionTracker struct {
	mu     sync.Mutex
	latest string
}

func (v *versionTracker) check(announced string) error {
	if announced == "" {
		return nil
	}
	v.mu.Lock()
	v.latest = announced
	v.mu.Unlock()
	if !version.Compatible(version.Canonical(), announced) {
		return fmt.Errorf("%w: server %s, client %s", ErrIncompatibleServer, announced, version.Canonical())
	}
	return nil
}

func (v *versionTracker) get() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.latest
}
