// Package lock declares the distributed-leader discipline consumed by the
// scheduler: at most one holder per lock name cluster-wide, with async
// acquired/released callbacks.
package lock

import "context"

// Callback receives lock lifecycle notifications. Both funcs may be invoked
// from any goroutine and may interleave any number of times over a manager's
// lifetime; consumers must not assume same-goroutine delivery.
type Callback struct {
	OnAcquired func(lockName string)
	OnReleased func(lockName string)
}

// FencedLockManager elects a single leader per lock name.
//
// AcquireLockAsync starts a background contender that keeps competing for
// the lock until the context is cancelled or CancelAsyncLockAcquiring is
// called. Release may occur due to an IO fault, host eviction, or explicit
// cancel; after a release the contender competes again.
type FencedLockManager interface {
	AcquireLockAsync(ctx context.Context, lockName string, callback Callback)
	CancelAsyncLockAcquiring(lockName string)
}
