package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cimillas/ticket-reservations/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type OrderRepository struct {
	conn
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{conn: conn{pool: pool}}
}

func (r *OrderRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return withTx(ctx, r.pool, fn)
}

const orderColumns = `id, user_id, event_id, ttl_seconds, status, created_at, updated_at, expired_at, cancelled_at, confirmed_at`

// CreateOrder locks the event row, reclaims lapsed pending orders, checks capacity,
// then inserts the order and increments allocated, all in one transaction.
func (r *OrderRepository) CreateOrder(ctx context.Context, order domain.Order) error {
	return withTx(ctx, r.pool, func(txCtx context.Context) error {
		const lockEvent = `
SELECT status, capacity, allocated, closed_at
FROM events
WHERE id = $1 AND deleted_at IS NULL
FOR UPDATE`

		var ev domain.Event
		ev.ID = order.EventID
		var status string
		err := r.queryRow(txCtx, lockEvent, order.EventID).Scan(&status, &ev.Capacity, &ev.Allocated, &ev.ClosedAt)
		if err != nil {
			if isInvalidUUID(err) {
				return domain.ErrInvalidID
			}
			if errors.Is(err, pgx.ErrNoRows) {
				return &domain.EventNotFoundError{EventID: order.EventID}
			}
			return domain.External("lock event", err)
		}
		ev.Status = domain.EventStatus(status)
		if ev.Status == domain.EventStatusClosed {
			return &domain.EventClosedError{EventID: ev.ID, ClosedAt: ev.ClosedAt}
		}

		reclaimed, err := r.reclaimLapsed(txCtx, ev.ID, order.CreatedAt)
		if err != nil {
			return err
		}
		ev.Allocated -= reclaimed

		if ev.Allocated >= ev.Capacity {
			return &domain.InsufficientCapacityError{EventID: ev.ID, Requested: 1, Available: ev.Available()}
		}

		const insert = `
INSERT INTO orders (id, user_id, event_id, ttl_seconds, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
		_, err = r.exec(txCtx, insert,
			order.ID,
			order.UserID,
			order.EventID,
			int(order.TTL/time.Second),
			order.Status,
			order.CreatedAt,
			order.UpdatedAt,
		)
		if err != nil {
			if isInvalidUUID(err) {
				return domain.ErrInvalidID
			}
			if isForeignKeyViolation(err) {
				return &domain.UserNotFoundError{UserID: order.UserID}
			}
			return domain.External("insert order", err)
		}

		const allocate = `UPDATE events SET allocated = allocated + 1, updated_at = $2 WHERE id = $1`
		if _, err := r.exec(txCtx, allocate, ev.ID, order.CreatedAt); err != nil {
			return domain.External("allocate seat", err)
		}
		return nil
	})
}

// reclaimLapsed stamps expired_at on pending orders whose TTL elapsed by now
// and returns their seats to the event. The event row must already be locked.
func (r *OrderRepository) reclaimLapsed(ctx context.Context, eventID string, now time.Time) (int, error) {
	const stmt = `
UPDATE orders
SET expired_at = created_at + ttl_seconds * INTERVAL '1 second', updated_at = $2
WHERE event_id = $1
  AND status = 'PENDING'
  AND expired_at IS NULL
  AND created_at + ttl_seconds * INTERVAL '1 second' <= $2`

	tag, err := r.exec(ctx, stmt, eventID, now)
	if err != nil {
		return 0, domain.External("reclaim lapsed orders", err)
	}
	n := int(tag.RowsAffected())
	if n == 0 {
		return 0, nil
	}

	const release = `UPDATE events SET allocated = allocated - $2, updated_at = $3 WHERE id = $1`
	if _, err := r.exec(ctx, release, eventID, n, now); err != nil {
		return 0, domain.External("release lapsed seats", err)
	}
	return n, nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) GetOrderForUpdate(ctx context.Context, id string) (domain.Order, error) {
	return r.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r *OrderRepository) getOrder(ctx context.Context, query, id string) (domain.Order, error) {
	o, err := scanOrder(r.queryRow(ctx, query, id))
	if err != nil {
		if isInvalidUUID(err) {
			return domain.Order{}, domain.ErrInvalidID
		}
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Order{}, &domain.ReservationNotFoundError{ReservationID: id}
		}
		return domain.Order{}, domain.External("get order", err)
	}
	return o, nil
}

func (r *OrderRepository) ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.query(ctx, query, userID)
	if err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, domain.External("list orders", err)
	}
	return collectOrders(rows)
}

func collectOrders(rows pgx.Rows) ([]domain.Order, error) {
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, domain.External("scan order", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		if isInvalidUUID(err) {
			return nil, domain.ErrInvalidID
		}
		return nil, domain.External("iterate orders", err)
	}
	return orders, nil
}

func (r *OrderRepository) MarkOrderConfirmed(ctx context.Context, order domain.Order) error {
	const stmt = `
UPDATE orders
SET status = 'CONFIRMED', confirmed_at = $2, updated_at = $3
WHERE id = $1 AND status = 'PENDING' AND expired_at IS NULL`

	return r.transition(ctx, "confirm order", stmt, order, order.ConfirmedAt, false)
}

func (r *OrderRepository) MarkOrderCancelled(ctx context.Context, order domain.Order) error {
	const stmt = `
UPDATE orders
SET status = 'CANCELLED', cancelled_at = $2, updated_at = $3
WHERE id = $1 AND status = 'PENDING' AND expired_at IS NULL`

	return r.transition(ctx, "cancel order", stmt, order, order.CancelledAt, true)
}

func (r *OrderRepository) MarkOrderExpired(ctx context.Context, order domain.Order) error {
	const stmt = `
UPDATE orders
SET expired_at = $2, updated_at = $3
WHERE id = $1 AND status = 'PENDING' AND expired_at IS NULL`

	return r.transition(ctx, "expire order", stmt, order, order.ExpiredAt, true)
}

// transition applies a terminal marker to a pending order and, when release is
// set, returns its seat to the event.
func (r *OrderRepository) transition(ctx context.Context, op, stmt string, order domain.Order, at *time.Time, release bool) error {
	if at == nil {
		return fmt.Errorf("%s: missing marker timestamp", op)
	}
	return withTx(ctx, r.pool, func(txCtx context.Context) error {
		tag, err := r.exec(txCtx, stmt, order.ID, *at, order.UpdatedAt)
		if err != nil {
			if isInvalidUUID(err) {
				return domain.ErrInvalidID
			}
			return domain.External(op, err)
		}
		if tag.RowsAffected() == 0 {
			return &domain.InvalidStateError{
				Resource: "reservation",
				Expected: string(domain.StatePending),
				Actual:   "terminal",
			}
		}
		if !release {
			return nil
		}

		const releaseSeat = `UPDATE events SET allocated = allocated - 1, updated_at = $2 WHERE id = $1`
		if _, err := r.exec(txCtx, releaseSeat, order.EventID, order.UpdatedAt); err != nil {
			return domain.External(op, err)
		}
		return nil
	})
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o          domain.Order
		ttlSeconds int
		status     string
	)
	err := row.Scan(
		&o.ID,
		&o.UserID,
		&o.EventID,
		&ttlSeconds,
		&status,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.ExpiredAt,
		&o.CancelledAt,
		&o.ConfirmedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	o.TTL = time.Duration(ttlSeconds) * time.Second
	o.Status = domain.OrderStatus(status)
	return o, nil
}
