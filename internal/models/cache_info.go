package models

import (
	"cmp"
	"slices"
)

// CacheCapInfo holds the three percentages that bound the cache.
type CacheCapInfo struct {
	CapPercent        int `json:"capPercent"`        // Share of heap capacity usable by the cache.
	HardCapPercentage int `json:"hardCapPercentage"` // Share of the ceiling at which writes evict or are rejected.
	SoftCapPercentage int `json:"softCapPercentage"` // Share of the ceiling at which proactive reduction engages.
}

// CacheGroupInfo is a point-in-time snapshot of a single region.
type CacheGroupInfo struct {
	Name      string `json:"name"`
	Entries   int64  `json:"entries"`
	Size      int64  `json:"size"` // Bytes.
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Evictions int64  `json:"evictions"`
}

// CacheInfo is a point-in-time snapshot of the whole cache.
type CacheInfo struct {
	Cap          CacheCapInfo     `json:"cap"`
	Burden       int64            `json:"burden"` // Bytes currently used by all entries.
	Total        int64            `json:"total"`  // Configured ceiling in bytes.
	HardCapBytes int64            `json:"hardCapBytes"`
	SoftCapBytes int64            `json:"softCapBytes"`
	Regions      []CacheGroupInfo `json:"regions"`
}

// Condensed returns a copy of the snapshot that only lists regions holding entries,
// largest first. Regions of equal size are ordered by name.
func (i CacheInfo) Condensed() CacheInfo {
	condensed := i
	condensed.Regions = make([]CacheGroupInfo, 0, len(i.Regions))
	for _, region := range i.Regions {
		if region.Entries > 0 {
			condensed.Regions = append(condensed.Regions, region)
		}
	}
	slices.SortStableFunc(condensed.Regions, func(a, b CacheGroupInfo) int {
		if c := cmp.Compare(b.Size, a.Size); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return condensed
}

// CapUpdate is a partial update of CacheCapInfo; nil fields keep their current value.
type CapUpdate struct {
	Heap *int `json:"heap,omitempty"`
	Hard *int `json:"hard,omitempty"`
	Soft *int `json:"soft,omitempty"`
}

// IsEmpty reports whether the update changes nothing.
func (u CapUpdate) IsEmpty() bool {
	return u.Heap == nil && u.Hard == nil && u.Soft == nil
}

// Apply returns current with the fields set in u replaced.
func (u CapUpdate) Apply(current CacheCapInfo) CacheCapInfo {
	if u.Heap != nil {
		current.CapPercent = *u.Heap
	}
	if u.Hard != nil {
		current.HardCapPercentage = *u.Hard
	}
	if u.Soft != nil {
		current.SoftCapPercentage = *u.Soft
	}
	return current
}
