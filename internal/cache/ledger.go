package cache

import (
	"sync"
	"sync/atomic"
)

// ledger holds the burden of a cache and orders byte accounting against snapshots.
//
// Every change to a region's size, and the matching change to the burden, happens under a shared
// hold, which writers share. Info takes the exclusive hold for the duration of its read, so it
// never observes a size change without the matching burden change.
//
// Lock order: ledger, then the region registry, then a region lock.
type ledger struct {
	mu     sync.RWMutex
	burden atomic.Int64
}

// hold takes the shared hold and returns its release. It must not be taken twice by the same
// goroutine: a pending snapshot would deadlock the second acquisition.
func (l *ledger) hold() func() {
	l.mu.RLock()
	return l.mu.RUnlock
}

// freeze takes the exclusive hold and returns its release.
func (l *ledger) freeze() func() {
	l.mu.Lock()
	return l.mu.Unlock
}

// Load returns the burden.
func (l *ledger) Load() int64 {
	return l.burden.Load()
}
