package engine

import (
	"sync"
	"sync/atomic"
)

// RunLock admits at most one collection run at a time. There is no queue:
// a second caller is refused immediately.
type RunLock struct {
	held atomic.Bool
}

// TryAcquire takes the lock if it is free. The returned release func is
// safe to call more than once.
func (l *RunLock) TryAcquire() (release func(), ok bool) {
	if !l.held.CompareAndSwap(false, true) {
		return nil, false
	}
	var once sync.Once
	return func() {
		once.Do(func() { l.held.Store(false) })
	}, true
}

// Busy reports whether a run holds the lock.
func (l *RunLock) Busy() bool {
	return l.held.Load()
}
