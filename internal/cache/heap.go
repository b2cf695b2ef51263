package cache

import (
	"math"
	"runtime/debug"
)

// HeapCapacityProvider reports the current usable heap capacity in bytes.
type HeapCapacityProvider interface {
	HeapCapacity() int64
}

// HeapCapacityFunc adapts a function to the HeapCapacityProvider interface.
type HeapCapacityFunc func() int64

// HeapCapacity makes HeapCapacityFunc satisfy HeapCapacityProvider.
func (f HeapCapacityFunc) HeapCapacity() int64 {
	return f()
}

// FixedHeap returns a provider that always reports bytes.
func FixedHeap(bytes int64) HeapCapacityProvider {
	return HeapCapacityFunc(func() int64 { return bytes })
}

// RuntimeMemoryLimit returns a provider that reports the Go runtime soft memory limit
// (GOMEMLIMIT or debug.SetMemoryLimit). When no limit is set, fallback is reported instead.
func RuntimeMemoryLimit(fallback int64) HeapCapacityProvider {
	return HeapCapacityFunc(func() int64 {
		// A negative input only reads the current limit.
		limit := debug.SetMemoryLimit(-1)
		if limit <= 0 || limit == math.MaxInt64 {
			return fallback
		}
		return limit
	})
}
