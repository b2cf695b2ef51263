package cache

import (
	"testing"
	"time"
)

func allow(int64) bool { return true }

func putEntry(t *testing.T, r *RegionStore, key string, size int64) {
	t.Helper()
	e := &entry{value: key, size: size}
	committed, dead := r.tryPut(key, e, func(old int64) bool {
		r.ledger.burden.Add(size - old)
		return true
	})
	if !committed || dead {
		t.Fatalf("tryPut(%q) committed=%v dead=%v", key, committed, dead)
	}
}

func TestRegionStore_PutReplaceRemove(t *testing.T) {
	burden := &ledger{}
	r := newRegionStore("users", burden)

	putEntry(t, r, "a", 100)
	putEntry(t, r, "b", 50)
	if r.Len() != 2 || r.Size() != 150 || burden.Load() != 150 {
		t.Fatalf("After puts: len=%d size=%d burden=%d", r.Len(), r.Size(), burden.Load())
	}

	putEntry(t, r, "a", 30)
	if r.Len() != 2 || r.Size() != 80 || burden.Load() != 80 {
		t.Fatalf("After replace: len=%d size=%d burden=%d", r.Len(), r.Size(), burden.Load())
	}

	freed, ok := r.Remove("a")
	if !ok || freed != 30 {
		t.Errorf("Remove(a) = %d, %v; want 30, true", freed, ok)
	}
	if _, ok := r.Remove("a"); ok {
		t.Error("Expected second Remove to report absence")
	}
	if r.Len() != 1 || r.Size() != 50 || burden.Load() != 50 {
		t.Errorf("After remove: len=%d size=%d burden=%d", r.Len(), r.Size(), burden.Load())
	}
}

func TestRegionStore_ReserveRefusal(t *testing.T) {
	burden := &ledger{}
	r := newRegionStore("users", burden)

	committed, dead := r.tryPut("a", &entry{size: 10}, func(int64) bool { return false })
	if committed || dead {
		t.Errorf("Expected refused write, got committed=%v dead=%v", committed, dead)
	}
	if r.Len() != 0 || r.Size() != 0 {
		t.Errorf("Refused write changed region: len=%d size=%d", r.Len(), r.Size())
	}
}

func TestRegionStore_RemoveOldestIsLeastRecentlyUsed(t *testing.T) {
	burden := &ledger{}
	r := newRegionStore("users", burden)

	putEntry(t, r, "a", 1)
	putEntry(t, r, "b", 1)
	putEntry(t, r, "c", 1)

	if _, ok, _ := r.Get("a", time.Now()); !ok {
		t.Fatal("Expected hit for a")
	}

	removed, freed, ok := r.RemoveOldest()
	if !ok || removed.key != "b" || freed != 1 {
		t.Errorf("RemoveOldest() = %+v, %d, %v; want b", removed, freed, ok)
	}
	if got := r.Snapshot().Evictions; got != 0 {
		t.Errorf("Removal alone must not count as an eviction, got %d", got)
	}
	r.recordEviction()
	if got := r.Snapshot().Evictions; got != 1 {
		t.Errorf("Expected 1 eviction, got %d", got)
	}
}

func TestRegionStore_Expiry(t *testing.T) {
	burden := &ledger{}
	r := newRegionStore("sessions", burden)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	reserve := func(size int64) func(int64) bool {
		return func(old int64) bool { burden.burden.Add(size - old); return true }
	}
	r.tryPut("short", &entry{value: 1, size: 8, expiresAt: now.Add(time.Minute)}, reserve(8))
	r.tryPut("long", &entry{value: 2, size: 8, expiresAt: now.Add(time.Hour)}, reserve(8))
	r.tryPut("forever", &entry{value: 3, size: 8}, reserve(8))

	later := now.Add(2 * time.Minute)
	if _, ok, expired := r.Get("short", later); ok || expired == nil || expired.key != "short" {
		t.Errorf("Expected short to be expired on Get, ok=%v expired=%+v", ok, expired)
	}

	r.tryPut("short2", &entry{value: 4, size: 8, expiresAt: now.Add(time.Minute)}, reserve(8))
	removed := r.RemoveExpired(later)
	if len(removed) != 1 || removed[0].key != "short2" {
		t.Errorf("RemoveExpired() = %+v, want [short2]", removed)
	}
	if r.Len() != 2 || burden.Load() != 16 {
		t.Errorf("After expiry: len=%d burden=%d, want 2 and 16", r.Len(), burden.Load())
	}
}

func TestRegionStore_DetachMarksDead(t *testing.T) {
	burden := &ledger{}
	r := newRegionStore("users", burden)
	putEntry(t, r, "a", 10)
	putEntry(t, r, "b", 20)

	if freed := r.detach(); freed != 30 {
		t.Errorf("detach() freed %d, want 30", freed)
	}
	if burden.Load() != 0 || r.Len() != 0 {
		t.Errorf("After detach: burden=%d len=%d", burden.Load(), r.Len())
	}

	committed, dead := r.tryPut("c", &entry{size: 1}, allow)
	if committed || !dead {
		t.Errorf("Expected write to a detached region to report dead, got committed=%v dead=%v", committed, dead)
	}
}

func TestRegionStore_SnapshotCounters(t *testing.T) {
	burden := &ledger{}
	r := newRegionStore("users", burden)
	putEntry(t, r, "a", 10)

	now := time.Now()
	r.Get("a", now)
	r.Get("a", now)
	r.Get("missing", now)

	s := r.Snapshot()
	if s.Name != "users" || s.Entries != 1 || s.Size != 10 || s.Hits != 2 || s.Misses != 1 {
		t.Errorf("Unexpected snapshot: %+v", s)
	}

	if freed := r.Clear(); freed != 10 {
		t.Errorf("Clear() freed %d, want 10", freed)
	}
	if s := r.Snapshot(); s.Entries != 0 || s.Size != 0 {
		t.Errorf("Unexpected snapshot after clear: %+v", s)
	}
}
