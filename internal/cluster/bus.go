// Package cluster broadcasts cache invalidations between nodes that run the same cache.
// Only invalidation messages cross the network; cached values always stay local.
package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Scope is the extent of an invalidation.
type Scope string

const (
	// ScopeAll clears every region.
	ScopeAll Scope = "all"
	// ScopeRegion clears one region.
	ScopeRegion Scope = "region"
)

// Message is an invalidation broadcast by one node to its peers.
type Message struct {
	Node   string    `json:"node"`
	Scope  Scope     `json:"scope"`
	Region string    `json:"region,omitempty"`
	SentAt time.Time `json:"sentAt"`
}

// Validate reports whether the message can be applied.
func (m Message) Validate() error {
	switch m.Scope {
	case ScopeAll:
		return nil
	case ScopeRegion:
		if m.Region == "" {
			return fmt.Errorf("cluster: region invalidation without region")
		}
		return nil
	default:
		return fmt.Errorf("cluster: unknown invalidation scope %q", m.Scope)
	}
}

// Handler receives messages delivered by a Bus.
type Handler func(Message)

// Bus carries invalidation messages between nodes.
type Bus interface {
	// Publish sends msg to every subscriber, including the publishing node itself.
	Publish(ctx context.Context, msg Message) error

	// Subscribe delivers incoming messages to handler until ctx is cancelled or the bus is closed.
	// It blocks; the returned error is nil on cancellation.
	Subscribe(ctx context.Context, handler Handler) error

	// Close releases the resources held by the bus.
	Close() error
}

// ProviderConfig holds the configuration needed to create a bus.
type ProviderConfig struct {
	// RedisAddress is the Redis/Valkey server address (e.g., "localhost:6379").
	RedisAddress string

	// RedisPassword is the password for the Redis/Valkey server.
	RedisPassword string

	// RedisDB is the Redis/Valkey database number.
	RedisDB int

	// Channel is the pub/sub channel invalidations are exchanged on.
	Channel string

	// PublishRetries is the number of times a failed publish is retried.
	PublishRetries int

	// Logger receives connection and decoding errors.
	Logger zerolog.Logger
}

// Provider is a constructor function that creates a Bus from config.
type Provider func(cfg ProviderConfig) (Bus, error)

var (
	mu        sync.RWMutex
	providers = make(map[string]Provider)
)

// Register registers a bus provider under the given name.
// It panics if the name is already registered or the provider is nil.
func Register(name string, p Provider) {
	mu.Lock()
	defer mu.Unlock()

	if p == nil {
		panic("cluster: Register provider is nil")
	}
	if _, exists := providers[name]; exists {
		panic(fmt.Sprintf("cluster: provider %q already registered", name))
	}
	providers[name] = p
}

// New creates a bus using the named provider.
func New(name string, cfg ProviderConfig) (Bus, error) {
	mu.RLock()
	p, ok := providers[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("cluster: unknown provider %q (available: %v)", name, Providers())
	}
	return p(cfg)
}

// Providers returns the sorted names of all registered providers.
func Providers() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
