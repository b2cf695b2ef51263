package cluster

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhis2/dhis2-core-sub010/internal/cache"
	"github.com/dhis2/dhis2-core-sub010/internal/models"
)

// memoryHub fans messages out to every subscribed memoryBus, like a pub/sub channel.
type memoryHub struct {
	mu       sync.Mutex
	handlers map[int]Handler
	next     int
}

func newMemoryHub() *memoryHub {
	return &memoryHub{handlers: make(map[int]Handler)}
}

type memoryBus struct {
	hub        *memoryHub
	publishErr error
	subscribed chan struct{}
}

func (h *memoryHub) bus() *memoryBus {
	return &memoryBus{hub: h, subscribed: make(chan struct{})}
}

func (b *memoryBus) Publish(_ context.Context, msg Message) error {
	if b.publishErr != nil {
		return b.publishErr
	}
	b.hub.mu.Lock()
	handlers := make([]Handler, 0, len(b.hub.handlers))
	for _, h := range b.hub.handlers {
		handlers = append(handlers, h)
	}
	b.hub.mu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
	return nil
}

func (b *memoryBus) Subscribe(ctx context.Context, handler Handler) error {
	b.hub.mu.Lock()
	id := b.hub.next
	b.hub.next++
	b.hub.handlers[id] = handler
	b.hub.mu.Unlock()
	close(b.subscribed)

	<-ctx.Done()

	b.hub.mu.Lock()
	delete(b.hub.handlers, id)
	b.hub.mu.Unlock()
	return nil
}

func (b *memoryBus) Close() error { return nil }

func newTestCache(t *testing.T, name string) *cache.CappedLocalCache {
	t.Helper()
	c, err := cache.New(cache.Options{
		Name: name,
		Heap: cache.FixedHeap(1 << 20),
		Cap:  models.CacheCapInfo{CapPercent: 100, HardCapPercentage: 100, SoftCapPercentage: 100},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// startNode creates a coordinator on hub and runs its subscription for the duration of the test.
func startNode(t *testing.T, hub *memoryHub, name string) *Coordinator {
	t.Helper()
	bus := hub.bus()
	node := NewCoordinator(newTestCache(t, t.Name()+"/"+name), bus, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- node.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})

	select {
	case <-bus.subscribed:
	case <-time.After(time.Second):
		t.Fatal("node did not subscribe")
	}
	return node
}

func TestCoordinator_InvalidateRegionPropagates(t *testing.T) {
	hub := newMemoryHub()
	a := startNode(t, hub, "a")
	b := startNode(t, hub, "b")

	for _, node := range []*Coordinator{a, b} {
		node.Put("users", "alice", "admin")
		node.Put("orgs", "sierra-leone", "root")
	}

	a.InvalidateRegion("users")

	for _, node := range []*Coordinator{a, b} {
		assert.Equal(t, []string{"orgs"}, node.Regions(), "node %s", node.NodeID())
		_, ok := node.Get("orgs", "sierra-leone")
		assert.True(t, ok)
	}
}

func TestCoordinator_InvalidatePropagates(t *testing.T) {
	hub := newMemoryHub()
	a := startNode(t, hub, "a")
	b := startNode(t, hub, "b")

	b.Put("users", "alice", "admin")
	a.Put("users", "bob", "user")

	b.Invalidate()

	assert.Empty(t, a.Regions())
	assert.Empty(t, b.Regions())
	assert.Zero(t, a.Burden())
}

func TestCoordinator_IgnoresOwnMessages(t *testing.T) {
	hub := newMemoryHub()
	a := startNode(t, hub, "a")

	a.Put("users", "alice", "admin")
	a.apply(Message{Node: a.NodeID(), Scope: ScopeAll})

	assert.Equal(t, []string{"users"}, a.Regions())
}

func TestCoordinator_IgnoresUnknownScope(t *testing.T) {
	hub := newMemoryHub()
	a := startNode(t, hub, "a")

	a.Put("users", "alice", "admin")
	a.apply(Message{Node: "peer", Scope: Scope("everything")})

	assert.Equal(t, []string{"users"}, a.Regions())
}

func TestCoordinator_PublishFailureKeepsLocalInvalidation(t *testing.T) {
	bus := &memoryBus{hub: newMemoryHub(), publishErr: errors.New("connection refused")}
	node := NewCoordinator(newTestCache(t, t.Name()), bus, zerolog.Nop())

	node.Put("users", "alice", "admin")
	node.InvalidateRegion("users")

	assert.Empty(t, node.Regions())
}

func TestCoordinator_NodeIDsAreUnique(t *testing.T) {
	c := newTestCache(t, t.Name())
	a := NewCoordinator(c, noopBus{}, zerolog.Nop())
	b := NewCoordinator(c, noopBus{}, zerolog.Nop())

	assert.NotEmpty(t, a.NodeID())
	assert.NotEqual(t, a.NodeID(), b.NodeID())
}
