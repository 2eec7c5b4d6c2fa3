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

type EventRepository struct {
	conn
}

func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{conn: conn{pool: pool}}
}

const eventColumns = `id, name, status, capacity, allocated, closed_at, created_at, updated_at`

func (r *EventRepository) CreateEvent(ctx context.Context, event domain.Event) error {
	const stmt = `
INSERT INTO events (id, name, status, capacity, allocated, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.exec(ctx, stmt,
		event.ID,
		event.Name,
		event.Status,
		event.Capacity,
		event.Allocated,
		event.CreatedAt,
		event.UpdatedAt,
	)
	if err != nil {
		if isInvalidUUID(err) {
			return domain.ErrInvalidID
		}
		return domain.External("create event", err)
	}
	return nil
}

func (r *EventRepository) ListEvents(ctx context.Context) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE deleted_at IS NULL ORDER BY created_at ASC`
	rows, err := r.query(ctx, query)
	if err != nil {
		return nil, domain.External("list events", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, domain.External("iterate events", rows.Err())
	}
	return events, nil
}

func (r *EventRepository) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events WHERE id = $1 AND deleted_at IS NULL`
	event, err := scanEvent(r.queryRow(ctx, query, id))
	if err != nil {
		return domain.Event{}, r.lookupErr("get event", id, err)
	}
	return event, nil
}

// CloseEvent marks the event CLOSED. The first close time is kept on repeat calls.
func (r *EventRepository) CloseEvent(ctx context.Context, id string, closedAt time.Time) (domain.Event, error) {
	stmt := `
UPDATE events
SET status = 'CLOSED', closed_at = COALESCE(closed_at, $2), updated_at = $2
WHERE id = $1 AND deleted_at IS NULL
RETURNING ` + eventColumns
	event, err := scanEvent(r.queryRow(ctx, stmt, id, closedAt))
	if err != nil {
		return domain.Event{}, r.lookupErr("close event", id, err)
	}
	return event, nil
}

func (r *EventRepository) lookupErr(op, id string, err error) error {
	if isInvalidUUID(err) {
		return domain.ErrInvalidID
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.EventNotFoundError{EventID: id}
	}
	return domain.External(op, err)
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		e      domain.Event
		status string
	)
	if err := row.Scan(&e.ID, &e.Name, &status, &e.Capacity, &e.Allocated, &e.ClosedAt, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return domain.Event{}, err
	}
	e.Status = domain.EventStatus(status)
	return e, nil
}
