// Package sync provides the spinlock shared by the boot stages. There is no
// scheduler underneath the bootloader, so contended acquisitions busy-wait.
package sync

import "sync/atomic"

const (
	// spinAttempts is the number of failed acquisition attempts after which
	// Acquire invokes yieldFn (if set).
	spinAttempts = 64
)

var (
	// yieldFn is invoked while spinning on a contended lock. The boot
	// stages have nobody to yield to so it stays nil; tests and host-side
	// tools may set it to runtime.Gosched.
	yieldFn func()
)

// Spinlock implements a lock where each execution context trying to acquire
// it busy-waits till the lock becomes available. The zero value is an
// unlocked Spinlock.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the current execution
// context. Any attempt to re-acquire a lock already held by the current
// context will cause a deadlock.
func (l *Spinlock) Acquire() {
	acquireSpinlock(&l.state, spinAttempts)
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other contexts to acquire it.
// Calling Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}

// acquireSpinlock spins on state until it transitions from 0 to 1. Between
// attempts it only reads the lock word so contending contexts do not keep
// bouncing the cache line with writes.
func acquireSpinlock(state *uint32, attemptsBeforeYielding uint32) {
	var attempts uint32
	for {
		if atomic.LoadUint32(state) == 0 && atomic.CompareAndSwapUint32(state, 0, 1) {
			return
		}

		if attempts++; attempts >= attemptsBeforeYielding {
			attempts = 0
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}
