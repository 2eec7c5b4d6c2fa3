package postgres

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cimillas/ticket-reservations/internal/domain"
	"github.com/cimillas/ticket-reservations/internal/testutil"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func newPendingOrder(userID, eventID string, createdAt time.Time, ttl time.Duration) domain.Order {
	return domain.Order{
		ID:        uuid.NewString(),
		UserID:    userID,
		EventID:   eventID,
		TTL:       ttl,
		Status:    domain.OrderStatusPending,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestOrderRepository(t *testing.T) {
	pool := testutil.NewTestPool(t)
	repo := NewOrderRepository(pool)
	testutil.ApplyMigrations(t, context.Background(), pool)

	t.Run("CreateOrder persists and allocates a seat", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		userID := testutil.InsertUser(t, ctx, pool, "ana@example.com")
		eventID := testutil.InsertEvent(t, ctx, pool, "Concert", 2)

		order := newPendingOrder(userID, eventID, time.Now().UTC(), 15*time.Minute)
		if err := repo.CreateOrder(ctx, order); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		got, err := repo.GetOrder(ctx, order.ID)
		if err != nil {
			t.Fatalf("get order: %v", err)
		}
		if got.UserID != userID || got.EventID != eventID || got.Status != domain.OrderStatusPending {
			t.Fatalf("unexpected order: %+v", got)
		}
		if got.TTL != 15*time.Minute {
			t.Fatalf("expected ttl 15m, got %s", got.TTL)
		}
		if n := testutil.Allocated(t, ctx, pool, eventID); n != 1 {
			t.Fatalf("expected allocated 1, got %d", n)
		}
	})

	t.Run("CreateOrder rejects when the event is full", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		userID := testutil.InsertUser(t, ctx, pool, "ana@example.com")
		eventID := testutil.InsertEvent(t, ctx, pool, "Concert", 1)

		if err := repo.CreateOrder(ctx, newPendingOrder(userID, eventID, time.Now().UTC(), time.Minute)); err != nil {
			t.Fatalf("first create: %v", err)
		}
		err := repo.CreateOrder(ctx, newPendingOrder(userID, eventID, time.Now().UTC(), time.Minute))
		var capErr *domain.InsufficientCapacityError
		if !errors.As(err, &capErr) {
			t.Fatalf("expected InsufficientCapacityError, got %v", err)
		}
		if capErr.Available != 0 || capErr.Requested != 1 {
			t.Fatalf("unexpected details: %+v", capErr)
		}
	})

	t.Run("CreateOrder never oversells under concurrency", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		userID := testutil.InsertUser(t, ctx, pool, "ana@example.com")
		eventID := testutil.InsertEvent(t, ctx, pool, "Concert", 3)

		const attempts = 12
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			created int
			full    int
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := repo.CreateOrder(ctx, newPendingOrder(userID, eventID, time.Now().UTC(), time.Minute))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					created++
				case errors.Is(err, domain.ErrInsufficientCapacity):
					full++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		if created != 3 || full != attempts-3 {
			t.Fatalf("expected 3 created and %d rejected, got %d and %d", attempts-3, created, full)
		}
		if n := testutil.Allocated(t, ctx, pool, eventID); n != 3 {
			t.Fatalf("expected allocated 3, got %d", n)
		}
	})

	t.Run("CreateOrder reclaims lapsed pending orders", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		userID := testutil.InsertUser(t, ctx, pool, "ana@example.com")
		eventID := testutil.InsertEvent(t, ctx, pool, "Concert", 1)

		past := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
		stale := newPendingOrder(userID, eventID, past, time.Minute)
		if err := repo.CreateOrder(ctx, stale); err != nil {
			t.Fatalf("create stale: %v", err)
		}

		fresh := newPendingOrder(userID, eventID, time.Now().UTC(), time.Minute)
		if err := repo.CreateOrder(ctx, fresh); err != nil {
			t.Fatalf("expected lapsed seat to be reclaimed, got %v", err)
		}

		got, err := repo.GetOrder(ctx, stale.ID)
		if err != nil {
			t.Fatalf("get stale: %v", err)
		}
		if got.ExpiredAt == nil {
			t.Fatalf("expected expired_at to be stamped")
		}
		if !got.ExpiredAt.Equal(stale.ExpiresAt()) {
			t.Fatalf("expected expired_at %s, got %s", stale.ExpiresAt(), got.ExpiredAt)
		}
		if n := testutil.Allocated(t, ctx, pool, eventID); n != 1 {
			t.Fatalf("expected allocated 1, got %d", n)
		}
	})

	t.Run("CreateOrder maps missing rows and closed events", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		userID := testutil.InsertUser(t, ctx, pool, "ana@example.com")
		eventID := testutil.InsertEvent(t, ctx, pool, "Concert", 5)

		err := repo.CreateOrder(ctx, newPendingOrder(userID, uuid.NewString(), time.Now().UTC(), time.Minute))
		if !errors.Is(err, domain.ErrEventNotFound) {
			t.Fatalf("expected EventNotFound, got %v", err)
		}

		err = repo.CreateOrder(ctx, newPendingOrder(uuid.NewString(), eventID, time.Now().UTC(), time.Minute))
		if !errors.Is(err, domain.ErrUserNotFound) {
			t.Fatalf("expected UserNotFound, got %v", err)
		}
		if n := testutil.Allocated(t, ctx, pool, eventID); n != 0 {
			t.Fatalf("expected rollback to keep allocated 0, got %d", n)
		}

		err = repo.CreateOrder(ctx, newPendingOrder(userID, "not-a-uuid", time.Now().UTC(), time.Minute))
		if !errors.Is(err, domain.ErrInvalidID) {
			t.Fatalf("expected ErrInvalidID, got %v", err)
		}

		if _, err := pool.Exec(ctx, `UPDATE events SET status = 'CLOSED', closed_at = NOW() WHERE id = $1`, eventID); err != nil {
			t.Fatalf("close event: %v", err)
		}
		err = repo.CreateOrder(ctx, newPendingOrder(userID, eventID, time.Now().UTC(), time.Minute))
		var closed *domain.EventClosedError
		if !errors.As(err, &closed) || closed.ClosedAt == nil {
			t.Fatalf("expected EventClosedError with closedAt, got %v", err)
		}
	})

	t.Run("GetOrderForUpdate returns order or ReservationNotFound", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		userID := testutil.InsertUser(t, ctx, pool, "ana@example.com")
		eventID := testutil.InsertEvent(t, ctx, pool, "Concert", 5)
		order := newPendingOrder(userID, eventID, time.Now().UTC(), time.Minute)
		if err := repo.CreateOrder(ctx, order); err != nil {
			t.Fatalf("create: %v", err)
		}

		err := repo.WithTx(ctx, func(txCtx context.Context) error {
			got, err := repo.GetOrderForUpdate(txCtx, order.ID)
			if err != nil {
				return err
			}
			if got.ID != order.ID {
				t.Fatalf("unexpected order: %+v", got)
			}
			return nil
		})
		if err != nil {
			t.Fatalf("tx failed: %v", err)
		}

		_, err = repo.GetOrderForUpdate(ctx, uuid.NewString())
		if !errors.Is(err, domain.ErrReservationNotFound) {
			t.Fatalf("expected ReservationNotFound, got %v", err)
		}
		_, err = repo.GetOrder(ctx, "not-a-uuid")
		if !errors.Is(err, domain.ErrInvalidID) {
			t.Fatalf("expected ErrInvalidID, got %v", err)
		}
	})

	t.Run("transitions apply once and release seats", func(t *testing.T) {
		ctx := context.Background()
		testutil.TruncateAll(t, ctx, pool)
		userID := testutil.InsertUser(t, ctx, pool, "ana@example.com")
		eventID := testutil.InsertEvent(t, ctx, pool, "Concert", 5)
		now := time.Now().UTC()

		confirmed := newPendingOrder(userID, eventID, now, time.Minute)
		cancelled := newPendingOrder(userID, eventID, now, time.Minute)
		expired := newPendingOrder(userID, eventID, now, time.Minute)
		for _, o := range []domain.Order{confirmed, cancelled, expired} {
			if err := repo.CreateOrder(ctx, o); err != nil {
				t.Fatalf("create: %v", err)
			}
		}

		next, err := confirmed.Confirm(now)
		if err != nil {
			t.Fatalf("confirm guard: %v", err)
		}
		if err := repo.MarkOrderConfirmed(ctx, next); err != nil {
			t.Fatalf("mark confirmed: %v", err)
		}
		if err := repo.MarkOrderConfirmed(ctx, next); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected InvalidState on second confirm, got %v", err)
		}

		next, err = cancelled.Cancel(userID, now)
		if err != nil {
			t.Fatalf("cancel guard: %v", err)
		}
		if err := repo.MarkOrderCancelled(ctx, next); err != nil {
			t.Fatalf("mark cancelled: %v", err)
		}

		next, err = expired.Expire(userID, now)
		if err != nil {
			t.Fatalf("expire guard: %v", err)
		}
		if err := repo.MarkOrderExpired(ctx, next); err != nil {
			t.Fatalf("mark expired: %v", err)
		}

		if n := testutil.Allocated(t, ctx, pool, eventID); n != 1 {
			t.Fatalf("expected only the confirmed seat allocated, got %d", n)
		}

		orders, err := repo.ListOrdersByUser(ctx, userID)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(orders) != 3 {
			t.Fatalf("expected 3 orders, got %d", len(orders))
		}
		states := map[domain.ReservationState]int{}
		for _, o := range orders {
			states[o.State(now)]++
		}
		if states[domain.StateConfirmed] != 1 || states[domain.StateCancelled] != 1 || states[domain.StateExpired] != 1 {
			t.Fatalf("unexpected states: %v", states)
		}
	})
}

type failingRows struct {
	scanErr error
	iterErr error
	served  bool
	closed  bool
}

func (r *failingRows) Close()                                       { r.closed = true }
func (r *failingRows) Err() error                                   { return r.iterErr }
func (r *failingRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *failingRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *failingRows) Scan(dest ...any) error                       { return r.scanErr }
func (r *failingRows) Values() ([]any, error)                       { return nil, r.scanErr }
func (r *failingRows) RawValues() [][]byte                          { return nil }
func (r *failingRows) Conn() *pgx.Conn                              { return nil }

func (r *failingRows) Next() bool {
	if r.served || r.scanErr == nil {
		return false
	}
	r.served = true
	return true
}

func TestCollectOrders_DriverFailuresAreExternal(t *testing.T) {
	cases := []struct {
		name string
		rows *failingRows
		op   string
	}{
		{"scan", &failingRows{scanErr: errors.New("can't scan into dest[3]")}, "scan order"},
		{"iterate", &failingRows{iterErr: errors.New("conn closed")}, "iterate orders"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := collectOrders(tc.rows)
			var ext *domain.ExternalError
			if !errors.As(err, &ext) {
				t.Fatalf("expected ExternalError, got %T: %v", err, err)
			}
			if ext.Operation != tc.op {
				t.Fatalf("expected operation %q, got %q", tc.op, ext.Operation)
			}
			if !tc.rows.closed {
				t.Fatalf("expected rows to be closed")
			}
		})
	}
}
