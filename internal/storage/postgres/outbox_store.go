package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cimillas/ticket-reservations/internal/domain"
	"github.com/cimillas/ticket-reservations/internal/outbox"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/propagation"
)

const defaultOutboxMaxAttempts = 5

// OutboxStore writes reservation events alongside the order change that caused
// them and hands pending rows to the relay.
type OutboxStore struct {
	conn
	maxAttempts int
}

type OutboxOption func(*OutboxStore)

// WithMaxAttempts bounds how many failed dispatches a row gets before it is parked as failed.
func WithMaxAttempts(n int) OutboxOption {
	return func(s *OutboxStore) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func NewOutboxStore(pool *pgxpool.Pool, opts ...OutboxOption) *OutboxStore {
	s := &OutboxStore{conn: conn{pool: pool}, maxAttempts: defaultOutboxMaxAttempts}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record inserts ev using the transaction in ctx, if any.
func (s *OutboxStore) Record(ctx context.Context, ev domain.ReservationEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode reservation event: %w", err)
	}

	carrier := propagation.MapCarrier{}
	propagation.TraceContext{}.Inject(ctx, carrier)

	const stmt = `
INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, traceparent, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = s.exec(ctx, stmt,
		outbox.AggregateReservation,
		ev.OrderID,
		string(ev.Type),
		payload,
		carrier.Get("traceparent"),
		ev.OccurredAt,
	)
	if err != nil {
		return domain.External("record outbox event", err)
	}
	return nil
}

// LockBatch claims up to batchSize pending rows, plus in-progress rows whose
// lease ran out, for relayID.
func (s *OutboxStore) LockBatch(ctx context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	var events []outbox.Event
	err := withTx(ctx, s.pool, func(txCtx context.Context) error {
		rows, err := s.query(txCtx, `
SELECT id, aggregate_type, aggregate_id, type, payload, traceparent, created_at
FROM outbox
WHERE status = $2 OR (status = $3 AND lease_until < NOW())
ORDER BY id
LIMIT $1
FOR UPDATE SKIP LOCKED`, batchSize, outbox.StatusPending, outbox.StatusInProgress)
		if err != nil {
			return err
		}
		events, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (outbox.Event, error) {
			var ev outbox.Event
			err := row.Scan(&ev.ID, &ev.AggregateType, &ev.AggregateID, &ev.Type, &ev.Payload, &ev.Traceparent, &ev.CreatedAt)
			return ev, err
		})
		if err != nil || len(events) == 0 {
			return err
		}

		ids := make([]int64, 0, len(events))
		for _, ev := range events {
			ids = append(ids, ev.ID)
		}
		_, err = s.exec(txCtx, `
UPDATE outbox
SET status = $4, relay_id = $1, lease_until = NOW() + $2::float8 * INTERVAL '1 second'
WHERE id = ANY($3)`, relayID, lease.Seconds(), ids, outbox.StatusInProgress)
		return err
	})
	if err != nil {
		return nil, domain.External("lock outbox batch", err)
	}
	return events, nil
}

func (s *OutboxStore) MarkSent(ctx context.Context, ids []int64) error {
	tag, err := s.exec(ctx, `UPDATE outbox SET status = $2, lease_until = NULL WHERE id = ANY($1)`, ids, outbox.StatusSent)
	if err != nil {
		return domain.External("mark outbox sent", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.New("mark outbox sent: no rows updated")
	}
	return nil
}

// MarkFailed returns the row to pending for another attempt, or parks it as
// failed once it has used up maxAttempts.
func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, errMsg string) error {
	_, err := s.exec(ctx, `
UPDATE outbox
SET status = CASE WHEN retry_count + 1 < $3 THEN $4::text ELSE $5::text END,
    last_error = $2, retry_count = retry_count + 1, lease_until = NULL
WHERE id = $1`, id, errMsg, s.maxAttempts, outbox.StatusPending, outbox.StatusFailed)
	if err != nil {
		return domain.External("mark outbox failed", err)
	}
	return nil
}
