package cache

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/dhis2/dhis2-core-sub010/internal/models"
)

// entry is a single cached value.
type entry struct {
	value     any
	size      int64
	storedAt  time.Time
	expiresAt time.Time // Zero means the entry never expires.
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// removedEntry is reported to eviction callbacks once region locks are released.
type removedEntry struct {
	key   string
	value any
}

// RegionStore holds the entries of one named region. Entries are kept in recency order so the
// least recently used entry is the first eviction candidate. Counters are atomics so snapshots
// never wait on the region lock.
//
// Every change to a region's size is mirrored into the shared ledger while the region lock and a
// shared ledger hold are held, which keeps sum(region sizes) equal to the burden for snapshots.
type RegionStore struct {
	name   string
	ledger *ledger // Shared with the owning cache.

	mu      sync.Mutex
	entries *simplelru.LRU[string, *entry]
	dead    bool // Set once the region has been invalidated and detached from the cache.

	size      atomic.Int64
	count     atomic.Int64
	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

func newRegionStore(name string, l *ledger) *RegionStore {
	// The LRU is used as an ordered map; capacity is enforced in bytes by the cache, never by count.
	entries, err := simplelru.NewLRU[string, *entry](math.MaxInt, nil)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &RegionStore{name: name, ledger: l, entries: entries}
}

// Name returns the region name.
func (r *RegionStore) Name() string {
	return r.name
}

// Size returns the bytes held by the region.
func (r *RegionStore) Size() int64 {
	return r.size.Load()
}

// Len returns the number of entries in the region.
func (r *RegionStore) Len() int64 {
	return r.count.Load()
}

// Get returns the value stored under key. Expired entries are dropped and reported as absent.
func (r *RegionStore) Get(key string, now time.Time) (any, bool, *removedEntry) {
	defer r.ledger.hold()()
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries.Get(key)
	if !ok {
		r.misses.Add(1)
		return nil, false, nil
	}
	if e.expired(now) {
		r.removeLocked(key, e)
		r.misses.Add(1)
		return nil, false, &removedEntry{key: key, value: e.value}
	}
	r.hits.Add(1)
	return e.value, true, nil
}

// tryPut stores e under key if reserve accepts the size change. reserve receives the size of the
// entry being replaced (zero for a new key) and must account for the change in the burden. It runs
// under the ledger hold, so the reservation and the size change are seen together.
// It returns dead=true when the region was invalidated concurrently and nothing was written.
func (r *RegionStore) tryPut(key string, e *entry, reserve func(oldSize int64) bool) (committed, dead bool) {
	defer r.ledger.hold()()
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.dead {
		return false, true
	}
	var oldSize int64
	old, replacing := r.entries.Peek(key)
	if replacing {
		oldSize = old.size
	}
	if !reserve(oldSize) {
		return false, false
	}
	r.entries.Add(key, e)
	r.size.Add(e.size - oldSize)
	if !replacing {
		r.count.Add(1)
	}
	return true, false
}

// Remove deletes key and returns the freed bytes. ok is false if key was not present.
func (r *RegionStore) Remove(key string) (freed int64, ok bool) {
	defer r.ledger.hold()()
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries.Peek(key)
	if !ok {
		return 0, false
	}
	r.removeLocked(key, e)
	return e.size, true
}

// RemoveOldest removes the least recently used entry. The caller decides whether it counts as an
// eviction.
func (r *RegionStore) RemoveOldest() (*removedEntry, int64, bool) {
	defer r.ledger.hold()()
	r.mu.Lock()
	defer r.mu.Unlock()

	key, e, ok := r.entries.GetOldest()
	if !ok {
		return nil, 0, false
	}
	r.removeLocked(key, e)
	return &removedEntry{key: key, value: e.value}, e.size, true
}

func (r *RegionStore) recordEviction() {
	r.evictions.Add(1)
}

// RemoveExpired drops every entry expired at now.
func (r *RegionStore) RemoveExpired(now time.Time) []removedEntry {
	defer r.ledger.hold()()
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []removedEntry
	for _, key := range r.entries.Keys() {
		e, ok := r.entries.Peek(key)
		if !ok || !e.expired(now) {
			continue
		}
		r.removeLocked(key, e)
		removed = append(removed, removedEntry{key: key, value: e.value})
	}
	return removed
}

// Clear removes all entries and returns the freed bytes.
func (r *RegionStore) Clear() int64 {
	defer r.ledger.hold()()
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clearLocked()
}

// detach clears the region and marks it dead so in-flight writers retry against a fresh region.
// The caller holds the ledger, so removing the region from the registry and releasing its bytes
// look like one step to snapshots.
func (r *RegionStore) detach() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.dead = true
	return r.clearLocked()
}

// Snapshot returns the region's counters without taking the region lock. The size and entry count
// agree with each other and with the burden only while the ledger is frozen, as Info does.
func (r *RegionStore) Snapshot() models.CacheGroupInfo {
	return models.CacheGroupInfo{
		Name:      r.name,
		Entries:   r.count.Load(),
		Size:      r.size.Load(),
		Hits:      r.hits.Load(),
		Misses:    r.misses.Load(),
		Evictions: r.evictions.Load(),
	}
}

func (r *RegionStore) removeLocked(key string, e *entry) {
	r.entries.Remove(key)
	r.size.Add(-e.size)
	r.count.Add(-1)
	r.ledger.burden.Add(-e.size)
}

func (r *RegionStore) clearLocked() int64 {
	freed := r.size.Load()
	r.entries.Purge()
	r.size.Store(0)
	r.count.Store(0)
	r.ledger.burden.Add(-freed)
	return freed
}
