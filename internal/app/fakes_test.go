package app

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cimillas/ticket-reservations/internal/domain"
)

type fakeOrderRepo struct {
	mu     sync.Mutex
	events map[string]*domain.Event
	orders map[string]domain.Order

	createCalls atomic.Int32
	// beforeCreate runs before the capacity check; a non-nil error aborts the create.
	beforeCreate func(ctx context.Context) error
}

func newFakeOrderRepo(events ...domain.Event) *fakeOrderRepo {
	repo := &fakeOrderRepo{
		events: make(map[string]*domain.Event),
		orders: make(map[string]domain.Order),
	}
	for i := range events {
		ev := events[i]
		repo.events[ev.ID] = &ev
	}
	return repo
}

func (f *fakeOrderRepo) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (f *fakeOrderRepo) CreateOrder(ctx context.Context, order domain.Order) error {
	f.createCalls.Add(1)
	if f.beforeCreate != nil {
		if err := f.beforeCreate(ctx); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[order.EventID]
	if !ok {
		return &domain.EventNotFoundError{EventID: order.EventID}
	}
	if ev.Status == domain.EventStatusClosed {
		return &domain.EventClosedError{EventID: ev.ID, ClosedAt: ev.ClosedAt}
	}
	if ev.Allocated >= ev.Capacity {
		return &domain.InsufficientCapacityError{EventID: ev.ID, Requested: 1, Available: ev.Available()}
	}
	ev.Allocated++
	f.orders[order.ID] = order
	return nil
}

func (f *fakeOrderRepo) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return domain.Order{}, &domain.ReservationNotFoundError{ReservationID: id}
	}
	return o, nil
}

func (f *fakeOrderRepo) GetOrderForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return f.GetOrder(ctx, id)
}

func (f *fakeOrderRepo) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeOrderRepo) MarkOrderConfirmed(ctx context.Context, order domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = order
	return nil
}

func (f *fakeOrderRepo) MarkOrderCancelled(ctx context.Context, order domain.Order) error {
	return f.release(order)
}

func (f *fakeOrderRepo) MarkOrderExpired(ctx context.Context, order domain.Order) error {
	return f.release(order)
}

func (f *fakeOrderRepo) release(order domain.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[order.ID] = order
	if ev, ok := f.events[order.EventID]; ok {
		ev.Allocated--
	}
	return nil
}

func (f *fakeOrderRepo) allocated(eventID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[eventID].Allocated
}

func (f *fakeOrderRepo) put(o domain.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = o
}

type fakeRecorder struct {
	mu     sync.Mutex
	events []domain.ReservationEvent
}

func (f *fakeRecorder) Record(ctx context.Context, ev domain.ReservationEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeRecorder) types() []domain.ReservationEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ReservationEventType, 0, len(f.events))
	for _, ev := range f.events {
		out = append(out, ev.Type)
	}
	return out
}

type fakeMetrics struct {
	mu   sync.Mutex
	seen map[string]int
}

func (f *fakeMetrics) Observe(op, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]int)
	}
	f.seen[op+"/"+outcome]++
}

func (f *fakeMetrics) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[key]
}
