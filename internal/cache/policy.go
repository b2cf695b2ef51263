package cache

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dhis2/dhis2-core-sub010/internal/apperrors"
	"github.com/dhis2/dhis2-core-sub010/internal/models"
)

// Decision is the CapPolicy's verdict on a single write.
type Decision int

const (
	// Commit means the write fits under the soft cap.
	Commit Decision = iota
	// CommitAboveSoft means the write fits under the hard cap but crosses the soft cap.
	CommitAboveSoft
	// EvictThenCommit means entries must be evicted before the write fits under the hard cap.
	EvictThenCommit
	// Reject means the write cannot fit under the hard cap even with an empty cache.
	Reject
)

func (d Decision) String() string {
	switch d {
	case Commit:
		return "commit"
	case CommitAboveSoft:
		return "commit_above_soft"
	case EvictThenCommit:
		return "evict_then_commit"
	case Reject:
		return "reject"
	default:
		return "unknown"
	}
}

// Budget holds absolute byte limits derived from the configured percentages.
type Budget struct {
	Heap    int64 // Heap capacity sampled when the budget was computed.
	Ceiling int64 // Heap * capPercent / 100.
	Hard    int64 // Ceiling * hardCapPercentage / 100.
	Soft    int64 // Ceiling * softCapPercentage / 100.
}

// Admit decides whether incoming bytes can be added to current bytes.
// incoming may be negative when an entry is replaced by a smaller one.
func (b Budget) Admit(current, incoming int64) Decision {
	next := current + incoming
	switch {
	case next <= b.Soft:
		return Commit
	case next <= b.Hard:
		return CommitAboveSoft
	case incoming > b.Hard:
		return Reject
	default:
		return EvictThenCommit
	}
}

// percentOf returns floor(v * percent / 100) without overflowing for any non-negative int64 v.
func percentOf(v int64, percent int) int64 {
	if v <= 0 || percent <= 0 {
		return 0
	}
	p := int64(percent)
	return v/100*p + v%100*p/100
}

// CapPolicy converts the three cap percentages into byte budgets against the current heap
// capacity. Percentages are read lock-free on every admission; updates are serialized.
type CapPolicy struct {
	heap    HeapCapacityProvider
	current atomic.Pointer[models.CacheCapInfo]
	mu      sync.Mutex // Serializes validate-and-swap in setters.
}

// NewCapPolicy validates initial and returns a policy applying it to heap.
func NewCapPolicy(heap HeapCapacityProvider, initial models.CacheCapInfo) (*CapPolicy, error) {
	if heap == nil {
		return nil, fmt.Errorf("cache: heap capacity provider is required")
	}
	if err := validateCap(initial); err != nil {
		return nil, err
	}
	p := &CapPolicy{heap: heap}
	p.current.Store(&initial)
	return p, nil
}

// CapInfo returns the percentages currently in effect.
func (p *CapPolicy) CapInfo() models.CacheCapInfo {
	return *p.current.Load()
}

// Budget re-samples the heap capacity and returns the absolute limits.
func (p *CapPolicy) Budget() Budget {
	_, budget := p.Snapshot()
	return budget
}

// Snapshot returns the percentages in effect together with the budget computed from them.
func (p *CapPolicy) Snapshot() (models.CacheCapInfo, Budget) {
	info := p.current.Load()
	return *info, p.budgetFor(info)
}

func (p *CapPolicy) budgetFor(info *models.CacheCapInfo) Budget {
	heap := p.heap.HeapCapacity()
	if heap < 0 {
		heap = 0
	}
	ceiling := percentOf(heap, info.CapPercent)
	return Budget{
		Heap:    heap,
		Ceiling: ceiling,
		Hard:    percentOf(ceiling, info.HardCapPercentage),
		Soft:    percentOf(ceiling, info.SoftCapPercentage),
	}
}

// Admit decides on a write of incoming bytes against the current budget.
func (p *CapPolicy) Admit(current, incoming int64) Decision {
	return p.Budget().Admit(current, incoming)
}

// SetCapPercent sets the share of heap capacity usable by the cache.
func (p *CapPolicy) SetCapPercent(n int) error {
	return p.Update(models.CapUpdate{Heap: &n})
}

// SetHardCapPercentage sets the share of the ceiling at which writes evict or are rejected.
func (p *CapPolicy) SetHardCapPercentage(n int) error {
	return p.Update(models.CapUpdate{Hard: &n})
}

// SetSoftCapPercentage sets the share of the ceiling at which background reduction engages.
func (p *CapPolicy) SetSoftCapPercentage(n int) error {
	return p.Update(models.CapUpdate{Soft: &n})
}

// Update applies a partial update atomically. If the resulting combination is invalid nothing
// changes and an *apperrors.ErrInvalidConfiguration is returned.
func (p *CapPolicy) Update(update models.CapUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	next := update.Apply(*p.current.Load())
	if err := validateCap(next); err != nil {
		return err
	}
	p.current.Store(&next)
	return nil
}

func validateCap(info models.CacheCapInfo) error {
	for _, field := range []struct {
		name  string
		value int
	}{
		{"capPercent", info.CapPercent},
		{"hardCapPercentage", info.HardCapPercentage},
		{"softCapPercentage", info.SoftCapPercentage},
	} {
		if field.value < 0 || field.value > 100 {
			return apperrors.NewInvalidConfigurationError(field.name, field.value, "must be between 0 and 100")
		}
	}
	if info.SoftCapPercentage > info.HardCapPercentage {
		return apperrors.NewInvalidConfigurationError("softCapPercentage", info.SoftCapPercentage,
			fmt.Sprintf("must not exceed hardCapPercentage (%d)", info.HardCapPercentage))
	}
	return nil
}
