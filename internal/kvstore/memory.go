package kvstore

import (
	"context"
	"time"

	"github.com/cimillas/ticket-reservations/internal/clock"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e entry[V]) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// Memory is an in-process Store. Expired entries are evicted lazily when touched;
// there is no background sweep. Contents do not survive a restart.
type Memory[V any] struct {
	lock    *Lock
	clock   clock.Clock
	entries map[string]entry[V]
}

var _ Store[int] = (*Memory[int])(nil)

func NewMemory[V any](lock *Lock, clk clock.Clock) *Memory[V] {
	return &Memory[V]{
		lock:    lock,
		clock:   clk,
		entries: make(map[string]entry[V]),
	}
}

func (m *Memory[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var (
		value V
		found bool
	)
	err := m.lock.Do(ctx, func() {
		var e entry[V]
		e, found = m.lookup(key)
		value = e.value
	})
	return value, found, err
}

func (m *Memory[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) error {
	return m.lock.Do(ctx, func() {
		m.entries[key] = m.newEntry(value, ttl)
	})
}

func (m *Memory[V]) TryInsert(ctx context.Context, key string, value V, ttl time.Duration) (bool, error) {
	var inserted bool
	err := m.lock.Do(ctx, func() {
		if _, ok := m.lookup(key); ok {
			return
		}
		m.entries[key] = m.newEntry(value, ttl)
		inserted = true
	})
	return inserted, err
}

func (m *Memory[V]) Delete(ctx context.Context, key string) (bool, error) {
	var removed bool
	err := m.lock.Do(ctx, func() {
		_, removed = m.lookup(key)
		delete(m.entries, key)
	})
	return removed, err
}

func (m *Memory[V]) Has(ctx context.Context, key string) (bool, error) {
	var found bool
	err := m.lock.Do(ctx, func() {
		_, found = m.lookup(key)
	})
	return found, err
}

// lookup must be called with the lock held.
func (m *Memory[V]) lookup(key string) (entry[V], bool) {
	e, ok := m.entries[key]
	if !ok {
		return entry[V]{}, false
	}
	if !e.live(m.clock.Now()) {
		delete(m.entries, key)
		return entry[V]{}, false
	}
	return e, true
}

func (m *Memory[V]) newEntry(value V, ttl time.Duration) entry[V] {
	e := entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}
	return e
}
