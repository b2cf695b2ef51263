// Package cache implements an in-process cache partitioned into named regions whose total
// footprint is bounded by a percentage of the process heap capacity.
//
// Every write is arbitrated by a CapPolicy: below the soft cap it commits, between the soft and
// the hard cap it commits and records the crossing, above the hard cap the cache evicts entries
// (largest region first, oldest entry within it) until the write fits, or drops the write.
// Writes are best-effort and never fail; callers inspect PutResult when they care.
package cache

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/dhis2/dhis2-core-sub010/internal/models"
)

// Outcome is the admission result of a single Put.
type Outcome int

const (
	// Committed means the entry was stored without evicting anything.
	Committed Outcome = iota
	// Evicted means other entries were evicted to make room before the entry was stored.
	Evicted
	// Rejected means the entry could not fit under the hard cap and was dropped.
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case Evicted:
		return "evicted"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// PutResult describes what happened to a write.
type PutResult struct {
	Outcome Outcome
	Evicted int   // Number of entries evicted to make room; only set for the Evicted outcome.
	Size    int64 // Estimated size of the written value in bytes.
}

// EvictCallback is called after an entry leaves the cache because of capacity pressure or expiry.
// It runs outside of region locks but must not block.
type EvictCallback func(region, key string, value any)

// Options configures a CappedLocalCache.
type Options struct {
	// Name labels the cache's Prometheus collectors. Defaults to "default".
	Name string

	// Cap holds the initial percentages. It is validated like any later update.
	Cap models.CacheCapInfo

	// Heap reports the heap capacity the percentages are applied to. It is sampled on every
	// admission decision. Required.
	Heap HeapCapacityProvider

	// SizeEstimator computes the size of stored values. Defaults to EstimateSize.
	SizeEstimator SizeEstimator

	// Now is the clock used for entry timestamps and expiry. Defaults to time.Now.
	Now func() time.Time

	// DefaultTTL applies to entries written without an explicit TTL. Zero means entries never expire.
	DefaultTTL time.Duration

	// ReapInterval is the period of the background goroutine that drops expired entries and trims
	// the cache down to the soft cap. Zero disables the goroutine.
	ReapInterval time.Duration

	// OnEvict is called for every evicted or expired entry.
	OnEvict EvictCallback

	// Logger receives debug and error output. If nil, logging is disabled.
	Logger *zerolog.Logger
}
