package cluster

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dhis2/dhis2-core-sub010/internal/cache"
	"github.com/dhis2/dhis2-core-sub010/internal/metrics"
)

// publishTimeout bounds a broadcast, retries included.
const publishTimeout = 5 * time.Second

// Coordinator wraps a cache so that invalidations are applied locally and then broadcast to the
// other nodes of the cluster. Every other cache operation is served by the embedded cache.
type Coordinator struct {
	*cache.CappedLocalCache

	bus    Bus
	node   string
	now    func() time.Time
	logger zerolog.Logger
}

// NewCoordinator returns a coordinator for c publishing on bus under a fresh node id.
func NewCoordinator(c *cache.CappedLocalCache, bus Bus, logger zerolog.Logger) *Coordinator {
	node := uuid.NewString()
	return &Coordinator{
		CappedLocalCache: c,
		bus:              bus,
		node:             node,
		now:              time.Now,
		logger:           logger.With().Str("node", node).Logger(),
	}
}

// NodeID returns the id this node tags its messages with.
func (c *Coordinator) NodeID() string {
	return c.node
}

// Invalidate clears every region locally and asks the peers to do the same.
// A failed broadcast is logged; the local invalidation stands.
func (c *Coordinator) Invalidate() {
	c.CappedLocalCache.Invalidate()
	metrics.InvalidationsTotal.WithLabelValues(string(ScopeAll), "local").Inc()
	c.broadcast(Message{Scope: ScopeAll})
}

// InvalidateRegion clears one region locally and asks the peers to do the same.
func (c *Coordinator) InvalidateRegion(name string) {
	c.CappedLocalCache.InvalidateRegion(name)
	metrics.InvalidationsTotal.WithLabelValues(string(ScopeRegion), "local").Inc()
	c.broadcast(Message{Scope: ScopeRegion, Region: name})
}

func (c *Coordinator) broadcast(msg Message) {
	msg.Node = c.node
	msg.SentAt = c.now().UTC()

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := c.bus.Publish(ctx, msg); err != nil {
		metrics.ClusterMessagesTotal.WithLabelValues("published", "error").Inc()
		c.logger.Error().Err(err).Str("scope", string(msg.Scope)).Str("region", msg.Region).Msg("Failed to broadcast invalidation")
		return
	}
	metrics.ClusterMessagesTotal.WithLabelValues("published", "success").Inc()
}

// Run applies invalidations received from peers until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	c.logger.Info().Msg("Listening for cluster invalidations")
	return c.bus.Subscribe(ctx, c.apply)
}

func (c *Coordinator) apply(msg Message) {
	if msg.Node == c.node {
		return
	}
	metrics.ClusterMessagesTotal.WithLabelValues("received", "success").Inc()

	switch msg.Scope {
	case ScopeAll:
		c.CappedLocalCache.Invalidate()
	case ScopeRegion:
		c.CappedLocalCache.InvalidateRegion(msg.Region)
	default:
		c.logger.Warn().Str("scope", string(msg.Scope)).Msg("Ignoring invalidation with unknown scope")
		return
	}
	metrics.InvalidationsTotal.WithLabelValues(string(msg.Scope), "remote").Inc()
	c.logger.Debug().
		Str("from", msg.Node).
		Str("scope", string(msg.Scope)).
		Str("region", msg.Region).
		Msg("Applied cluster invalidation")
}
