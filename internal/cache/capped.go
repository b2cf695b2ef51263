package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dhis2/dhis2-core-sub010/internal/apperrors"
	"github.com/dhis2/dhis2-core-sub010/internal/invariant"
	"github.com/dhis2/dhis2-core-sub010/internal/models"
)

// evictionSlack bounds the eviction loop beyond the number of entries present when it started.
// Concurrent fast-path writers can refill freed space, so the loop may need a few extra rounds.
const evictionSlack = 1024

// evictedEntry is an entry that left the cache and still has to be reported to OnEvict.
type evictedEntry struct {
	region string
	removedEntry
}

// CappedLocalCache is an in-process cache partitioned into regions whose total size is kept under
// the hard cap of its CapPolicy. It is safe for concurrent use.
type CappedLocalCache struct {
	name     string
	policy   *CapPolicy
	estimate SizeEstimator
	now      func() time.Time
	ttl      time.Duration
	interval time.Duration
	onEvict  EvictCallback
	logger   zerolog.Logger

	ledger ledger

	mu      sync.RWMutex
	regions map[string]*RegionStore

	// evictMu serializes writers that must evict and the trimming done by the reaper and cap
	// updates. It is always taken before the registry lock and never while a region lock is held.
	evictMu sync.Mutex

	startOnce sync.Once
	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates a cache from opts and registers its Prometheus collector.
func New(opts Options) (*CappedLocalCache, error) {
	policy, err := NewCapPolicy(opts.Heap, opts.Cap)
	if err != nil {
		return nil, err
	}
	if opts.DefaultTTL < 0 {
		return nil, fmt.Errorf("cache: default TTL must not be negative, got %s", opts.DefaultTTL)
	}

	c := &CappedLocalCache{
		name:     opts.Name,
		policy:   policy,
		estimate: opts.SizeEstimator,
		now:      opts.Now,
		ttl:      opts.DefaultTTL,
		interval: opts.ReapInterval,
		onEvict:  opts.OnEvict,
		logger:   zerolog.Nop(),
		regions:  make(map[string]*RegionStore),
	}
	if c.name == "" {
		c.name = "default"
	}
	if c.estimate == nil {
		c.estimate = SizeEstimatorFunc(EstimateSize)
	}
	if c.now == nil {
		c.now = time.Now
	}
	if opts.Logger != nil {
		c.logger = opts.Logger.With().Str("cache", c.name).Logger()
	}

	registerCollector(c)
	return c, nil
}

// Name returns the name the cache was created with.
func (c *CappedLocalCache) Name() string {
	return c.name
}

// Start launches the reaper goroutine when a reap interval is configured. It stops when ctx is
// cancelled or Close is called. Calling Start more than once has no effect.
func (c *CappedLocalCache) Start(ctx context.Context) {
	if c.interval <= 0 {
		return
	}
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		c.done = make(chan struct{})
		go c.reapLoop(ctx)
	})
}

// Close stops the reaper and unregisters the cache's collector. Entries are left in place.
func (c *CappedLocalCache) Close() error {
	c.closeOnce.Do(func() {
		// Block a later Start from launching the reaper.
		c.startOnce.Do(func() {})
		if c.cancel != nil {
			c.cancel()
			<-c.done
		}
		unregisterCollector(c)
	})
	return nil
}

func (c *CappedLocalCache) reapLoop(ctx context.Context) {
	defer close(c.done)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, trimmed := c.Reap()
			if expired > 0 || trimmed > 0 {
				c.logger.Debug().Int("expired", expired).Int("trimmed", trimmed).Msg("Reaped cache entries")
			}
		}
	}
}

// Get returns the value stored under key in region. Expired entries are reported as absent.
func (c *CappedLocalCache) Get(region, key string) (any, bool) {
	r := c.lookup(region)
	if r == nil {
		MissesTotal.WithLabelValues(c.name, region).Inc()
		return nil, false
	}

	value, ok, expired := r.Get(key, c.now())
	if ok {
		HitsTotal.WithLabelValues(c.name, region).Inc()
		return value, true
	}
	MissesTotal.WithLabelValues(c.name, region).Inc()
	if expired != nil {
		ExpirationsTotal.WithLabelValues(c.name, region).Inc()
		c.notify(evictedEntry{region: region, removedEntry: *expired})
	}
	return nil, false
}

// Put stores value under key in region using the default TTL.
func (c *CappedLocalCache) Put(region, key string, value any) PutResult {
	return c.PutWithTTL(region, key, value, c.ttl)
}

// PutWithTTL stores value under key in region. A zero ttl stores the entry without expiry.
//
// Writes never fail. If the value cannot fit under the hard cap, even after evicting other entries,
// it is dropped together with any previous value stored under the same key.
func (c *CappedLocalCache) PutWithTTL(region, key string, value any, ttl time.Duration) PutResult {
	size := c.estimate.EstimateSize(value)
	if size < 0 {
		size = 0
	}
	now := c.now()
	e := &entry{value: value, size: size, storedAt: now}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}

	budget := c.policy.Budget()
	if size > budget.Hard {
		return c.reject(region, key, size, budget)
	}

	for {
		crossed := false
		committed, dead := c.region(region).tryPut(key, e, c.reserve(budget, size, &crossed))
		if dead {
			continue
		}
		if committed {
			if crossed {
				SoftCapCrossingsTotal.WithLabelValues(c.name).Inc()
			}
			return PutResult{Outcome: Committed, Size: size}
		}
		break
	}

	result, evicted := c.putEvicting(region, key, e)
	c.notify(evicted...)
	return result
}

// reserve returns the admission callback handed to RegionStore.tryPut. It reserves the size change
// in the burden with a compare-and-swap, so concurrent writers can never push the burden above the
// hard cap of budget.
func (c *CappedLocalCache) reserve(budget Budget, size int64, crossed *bool) func(oldSize int64) bool {
	return func(oldSize int64) bool {
		delta := size - oldSize
		for {
			current := c.ledger.Load()
			decision := budget.Admit(current, delta)
			if decision != Commit && decision != CommitAboveSoft {
				return false
			}
			if c.ledger.burden.CompareAndSwap(current, current+delta) {
				*crossed = decision == CommitAboveSoft
				return true
			}
		}
	}
}

// putEvicting is the slow write path: it evicts the oldest entry of the largest region until e
// fits under the hard cap, or gives up when nothing is left to evict.
//
// Fast-path writers do not take evictMu and may refill the space freed here, so the number of
// rounds is bounded by the entries present at the start plus evictionSlack. When the bound is hit
// the write is rejected. Entries evicted before that stay evicted: they are reported to OnEvict and
// counted in cache_evictions_total, but not in the returned PutResult, which describes a rejection.
//
// A previous value stored under the written key may be chosen as a victim. It is superseded by the
// write rather than evicted for it, so it is not counted as an eviction anywhere.
func (c *CappedLocalCache) putEvicting(region, key string, e *entry) (PutResult, []evictedEntry) {
	c.evictMu.Lock()
	defer c.evictMu.Unlock()

	var evicted []evictedEntry
	limit := c.entryCount() + evictionSlack
	for attempt := int64(0); ; attempt++ {
		// Re-sampled on every round so cap updates and heap changes are honored.
		budget := c.policy.Budget()
		if e.size > budget.Hard {
			return c.reject(region, key, e.size, budget), evicted
		}

		crossed := false
		committed, dead := c.region(region).tryPut(key, e, c.reserve(budget, e.size, &crossed))
		if dead {
			continue
		}
		if committed {
			if crossed {
				SoftCapCrossingsTotal.WithLabelValues(c.name).Inc()
			}
			if len(evicted) == 0 {
				return PutResult{Outcome: Committed, Size: e.size}, evicted
			}
			c.logger.Debug().
				Str("region", region).
				Int("evicted", len(evicted)).
				Int64("size", e.size).
				Msg("Evicted entries to admit write")
			return PutResult{Outcome: Evicted, Evicted: len(evicted), Size: e.size}, evicted
		}

		if attempt >= limit {
			return c.reject(region, key, e.size, budget), evicted
		}
		victim, from, ok := c.evictOne()
		if !ok {
			return c.reject(region, key, e.size, budget), evicted
		}
		if victim.region == region && victim.key == key {
			continue
		}
		c.recordEviction(from)
		evicted = append(evicted, victim)
	}
}

// reject drops a write and any stale value still stored under its key.
func (c *CappedLocalCache) reject(region, key string, size int64, budget Budget) PutResult {
	c.region(region).Remove(key)
	RejectionsTotal.WithLabelValues(c.name, region).Inc()
	c.logger.Debug().
		Str("region", region).
		Int64("size", size).
		Int64("burden", c.ledger.Load()).
		Int64("hard_cap_bytes", budget.Hard).
		Msg("Rejected cache write")
	return PutResult{Outcome: Rejected, Size: size}
}

// evictOne removes the oldest entry of the largest region. Callers must hold evictMu and count
// the eviction.
func (c *CappedLocalCache) evictOne() (evictedEntry, *RegionStore, bool) {
	for {
		victim := c.largestRegion()
		if victim == nil {
			return evictedEntry{}, nil, false
		}
		removed, _, ok := victim.RemoveOldest()
		if !ok {
			// Emptied concurrently; pick again.
			continue
		}
		return evictedEntry{region: victim.Name(), removedEntry: *removed}, victim, true
	}
}

func (c *CappedLocalCache) recordEviction(r *RegionStore) {
	r.recordEviction()
	EvictionsTotal.WithLabelValues(c.name, r.Name()).Inc()
}

// largestRegion returns the region holding the most bytes, preferring the one with more entries
// and then the lower name on ties. It returns nil when every region is empty.
func (c *CappedLocalCache) largestRegion() *RegionStore {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var largest *RegionStore
	var largestSize, largestLen int64
	for _, r := range c.regions {
		size, n := r.Size(), r.Len()
		if n == 0 {
			continue
		}
		if largest == nil ||
			size > largestSize ||
			(size == largestSize && n > largestLen) ||
			(size == largestSize && n == largestLen && r.Name() < largest.Name()) {
			largest, largestSize, largestLen = r, size, n
		}
	}
	return largest
}

// Remove deletes key from region. It reports whether the key was present.
func (c *CappedLocalCache) Remove(region, key string) bool {
	r := c.lookup(region)
	if r == nil {
		return false
	}
	_, ok := r.Remove(key)
	return ok
}

// Invalidate clears every region.
func (c *CappedLocalCache) Invalidate() {
	release := c.ledger.hold()
	c.mu.Lock()
	regions := c.regions
	c.regions = make(map[string]*RegionStore)
	c.mu.Unlock()

	var freed int64
	for _, r := range regions {
		freed += r.detach()
	}
	release()
	c.logger.Info().Int("regions", len(regions)).Int64("freed_bytes", freed).Msg("Invalidated cache")
	c.checkBurden()
}

// InvalidateRegion clears the named region. Invalidating an unknown region is a no-op.
func (c *CappedLocalCache) InvalidateRegion(name string) {
	release := c.ledger.hold()
	c.mu.Lock()
	r, ok := c.regions[name]
	delete(c.regions, name)
	c.mu.Unlock()

	if !ok {
		release()
		return
	}
	freed := r.detach()
	release()
	c.logger.Info().Str("region", name).Int64("freed_bytes", freed).Msg("Invalidated cache region")
	c.checkBurden()
}

// Regions returns the names of all regions, sorted alphabetically.
func (c *CappedLocalCache) Regions() []string {
	c.mu.RLock()
	names := make([]string, 0, len(c.regions))
	for name := range c.regions {
		names = append(names, name)
	}
	c.mu.RUnlock()

	sort.Strings(names)
	return names
}

// RegionInfo returns a snapshot of the named region, or an *apperrors.ErrNotFound.
func (c *CappedLocalCache) RegionInfo(name string) (models.CacheGroupInfo, error) {
	r := c.lookup(name)
	if r == nil {
		return models.CacheGroupInfo{}, apperrors.NewRegionNotFoundError(name)
	}
	return r.Snapshot(), nil
}

// CapInfo returns the cap percentages in effect.
func (c *CappedLocalCache) CapInfo() models.CacheCapInfo {
	return c.policy.CapInfo()
}

// Budget returns the byte limits computed from the current heap capacity.
func (c *CappedLocalCache) Budget() Budget {
	return c.policy.Budget()
}

// Burden returns the bytes used by all entries.
func (c *CappedLocalCache) Burden() int64 {
	return c.ledger.Load()
}

// Info returns a point-in-time snapshot of the cache. Regions are sorted by name.
//
// The ledger is frozen while the counters are read, so region sizes always add up to the burden.
// Writers wait for that read only, never for a region lock.
func (c *CappedLocalCache) Info() models.CacheInfo {
	capInfo, budget := c.policy.Snapshot()

	release := c.ledger.freeze()
	c.mu.RLock()
	regions := make([]models.CacheGroupInfo, 0, len(c.regions))
	for _, r := range c.regions {
		regions = append(regions, r.Snapshot())
	}
	c.mu.RUnlock()
	burden := c.ledger.Load()
	release()

	sort.Slice(regions, func(i, j int) bool { return regions[i].Name < regions[j].Name })
	return models.CacheInfo{
		Cap:          capInfo,
		Burden:       burden,
		Total:        budget.Ceiling,
		HardCapBytes: budget.Hard,
		SoftCapBytes: budget.Soft,
		Regions:      regions,
	}
}

// SetCapPercent sets the share of heap capacity usable by the cache.
func (c *CappedLocalCache) SetCapPercent(n int) error {
	return c.UpdateCap(models.CapUpdate{Heap: &n})
}

// SetHardCapPercentage sets the share of the ceiling at which writes evict or are rejected.
func (c *CappedLocalCache) SetHardCapPercentage(n int) error {
	return c.UpdateCap(models.CapUpdate{Hard: &n})
}

// SetSoftCapPercentage sets the share of the ceiling at which the reaper starts trimming.
func (c *CappedLocalCache) SetSoftCapPercentage(n int) error {
	return c.UpdateCap(models.CapUpdate{Soft: &n})
}

// UpdateCap applies any subset of the three percentages at once. On success the cache is trimmed
// to the new hard cap; on failure nothing changes.
func (c *CappedLocalCache) UpdateCap(update models.CapUpdate) error {
	if err := c.policy.Update(update); err != nil {
		return err
	}
	capInfo := c.policy.CapInfo()
	trimmed := c.trim(func(b Budget) int64 { return b.Hard })
	c.logger.Info().
		Int("cap_percent", capInfo.CapPercent).
		Int("hard_cap_percentage", capInfo.HardCapPercentage).
		Int("soft_cap_percentage", capInfo.SoftCapPercentage).
		Int("trimmed", trimmed).
		Msg("Updated cache cap")
	return nil
}

// Reap drops expired entries and trims the cache down to its soft cap. It returns the number of
// expired and evicted entries. The reaper goroutine calls it on every tick.
func (c *CappedLocalCache) Reap() (expired, trimmed int) {
	now := c.now()

	c.mu.RLock()
	regions := make([]*RegionStore, 0, len(c.regions))
	for _, r := range c.regions {
		regions = append(regions, r)
	}
	c.mu.RUnlock()

	var dropped []evictedEntry
	for _, r := range regions {
		for _, removed := range r.RemoveExpired(now) {
			ExpirationsTotal.WithLabelValues(c.name, r.Name()).Inc()
			dropped = append(dropped, evictedEntry{region: r.Name(), removedEntry: removed})
		}
	}
	c.notify(dropped...)

	trimmed = c.trim(func(b Budget) int64 { return b.Soft })
	return len(dropped), trimmed
}

// trim evicts entries until the burden is at or below target(budget).
func (c *CappedLocalCache) trim(target func(Budget) int64) int {
	c.evictMu.Lock()
	var evicted []evictedEntry
	for c.ledger.Load() > target(c.policy.Budget()) {
		victim, from, ok := c.evictOne()
		if !ok {
			break
		}
		c.recordEviction(from)
		evicted = append(evicted, victim)
	}
	c.evictMu.Unlock()

	c.notify(evicted...)
	c.checkBurden()
	return len(evicted)
}

// region returns the named region, creating it if needed.
func (c *CappedLocalCache) region(name string) *RegionStore {
	if r := c.lookup(name); r != nil {
		return r
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.regions[name]; ok {
		return r
	}
	r := newRegionStore(name, &c.ledger)
	c.regions[name] = r
	return r
}

func (c *CappedLocalCache) lookup(name string) *RegionStore {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.regions[name]
}

func (c *CappedLocalCache) entryCount() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var n int64
	for _, r := range c.regions {
		n += r.Len()
	}
	return n
}

func (c *CappedLocalCache) notify(entries ...evictedEntry) {
	if c.onEvict == nil {
		return
	}
	for _, e := range entries {
		c.onEvict(e.region, e.key, e.value)
	}
}

// checkBurden raises an invariant when the burden counter has gone negative, which can only happen
// if a size change was applied to a region without being mirrored in the burden.
func (c *CappedLocalCache) checkBurden() {
	if burden := c.ledger.Load(); burden < 0 {
		invariant.Raise(c.logger, "cache", "negative_burden", "cache burden dropped below zero", map[string]interface{}{
			"burden": burden,
		})
	}
}
