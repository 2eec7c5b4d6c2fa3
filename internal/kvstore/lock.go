package kvstore

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Lock is a mutual-exclusion domain that admits waiters in arrival order.
// A composition root creates one and hands it to every store that must share it.
type Lock struct {
	sem *semaphore.Weighted
}

func NewLock() *Lock {
	return &Lock{sem: semaphore.NewWeighted(1)}
}

// Do runs fn while holding the lock. It returns ctx.Err() if ctx ends while waiting.
func (l *Lock) Do(ctx context.Context, fn func()) error {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer l.sem.Release(1)
	fn()
	return nil
}
