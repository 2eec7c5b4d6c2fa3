package app

import (
	"context"
	"errors"
	"time"

	"github.com/cimillas/ticket-reservations/internal/clock"
	"github.com/cimillas/ticket-reservations/internal/domain"
	"github.com/cimillas/ticket-reservations/internal/kvstore"
	"github.com/cimillas/ticket-reservations/internal/logging"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OrderRepository persists orders. CreateOrder must check capacity, increment
// the event's allocation and insert the order as one indivisible step.
type OrderRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	CreateOrder(ctx context.Context, order domain.Order) error
	GetOrder(ctx context.Context, id string) (domain.Order, error)
	GetOrderForUpdate(ctx context.Context, id string) (domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID string) ([]domain.Order, error)
	MarkOrderConfirmed(ctx context.Context, order domain.Order) error
	MarkOrderCancelled(ctx context.Context, order domain.Order) error
	MarkOrderExpired(ctx context.Context, order domain.Order) error
}

// EventRecorder stores lifecycle events inside the caller's transaction.
type EventRecorder interface {
	Record(ctx context.Context, event domain.ReservationEvent) error
}

type ReservationService struct {
	repo           OrderRepository
	ledger         kvstore.Store[LedgerEntry]
	clock          clock.Clock
	ledgerTTL      time.Duration
	reservationTTL time.Duration
	recorder       EventRecorder
	logger         *zap.Logger
	metrics        Metrics
	tracer         trace.Tracer
}

const (
	defaultLedgerTTL      = 30 * time.Second
	defaultReservationTTL = 15 * time.Minute
)

func NewReservationService(repo OrderRepository, ledger kvstore.Store[LedgerEntry], clk clock.Clock, opts ...ReservationServiceOption) *ReservationService {
	svc := &ReservationService{
		repo:           repo,
		ledger:         ledger,
		clock:          clk,
		ledgerTTL:      defaultLedgerTTL,
		reservationTTL: defaultReservationTTL,
		logger:         zap.NewNop(),
		metrics:        noopMetrics{},
		tracer:         otel.Tracer("github.com/cimillas/ticket-reservations/internal/app"),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

type ReservationServiceOption func(*ReservationService)

// WithLedgerTTL bounds how long a request key stays claimed.
func WithLedgerTTL(d time.Duration) ReservationServiceOption {
	return func(s *ReservationService) {
		if d > 0 {
			s.ledgerTTL = d
		}
	}
}

// WithReservationTTL overrides how long a new reservation stays pending.
func WithReservationTTL(d time.Duration) ReservationServiceOption {
	return func(s *ReservationService) {
		if d >= time.Second {
			s.reservationTTL = d.Truncate(time.Second)
		}
	}
}

func WithEventRecorder(r EventRecorder) ReservationServiceOption {
	return func(s *ReservationService) {
		s.recorder = r
	}
}

func WithLogger(logger *zap.Logger) ReservationServiceOption {
	return func(s *ReservationService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m Metrics) ReservationServiceOption {
	return func(s *ReservationService) {
		if m != nil {
			s.metrics = m
		}
	}
}

type ReserveInput struct {
	EventID        string
	UserID         string
	IdempotencyKey string
}

// Reserve creates at most one reservation per idempotency key. A key that is
// pending or completed yields DuplicateRequestError; the original result can be
// polled with LookupRequest.
func (s *ReservationService) Reserve(ctx context.Context, in ReserveInput) (id string, err error) {
	if in.IdempotencyKey == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}
	if in.EventID == "" {
		return "", domain.ErrInvalidID
	}
	if in.UserID == "" {
		return "", domain.ErrUserRequired
	}

	ctx, span := s.tracer.Start(ctx, "ReservationService.Reserve", trace.WithAttributes(
		attribute.String("event.id", in.EventID),
		attribute.String("user.id", in.UserID),
	))
	defer func() {
		s.finish(span, "reserve", err)
	}()

	key := in.IdempotencyKey
	won, err := s.ledger.TryInsert(ctx, key, LedgerEntry{Status: LedgerPending}, s.ledgerTTL)
	if err != nil {
		return "", domain.External("ledger try insert", err)
	}
	if !won {
		return "", &domain.DuplicateRequestError{RequestID: key}
	}

	now := s.clock.Now()
	order := domain.Order{
		ID:        newID(),
		UserID:    in.UserID,
		EventID:   in.EventID,
		TTL:       s.reservationTTL,
		Status:    domain.OrderStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		if err := s.repo.CreateOrder(txCtx, order); err != nil {
			return err
		}
		return s.record(txCtx, domain.ReservationCreated, order, now)
	})
	if err != nil {
		s.releaseKey(ctx, key, err)
		return "", err
	}

	if err := s.ledger.Set(ctx, key, LedgerEntry{Status: LedgerCompleted, ReservationID: order.ID}, s.ledgerTTL); err != nil {
		// The order exists; a pending entry left behind still blocks replays until it expires.
		logging.Warn(ctx, s.logger, "mark request completed",
			zap.String("request_id", key),
			zap.String("reservation_id", order.ID),
			zap.Error(err),
		)
	}

	logging.Info(ctx, s.logger, "reservation created",
		zap.String("reservation_id", order.ID),
		zap.String("event_id", order.EventID),
		zap.String("user_id", order.UserID),
	)
	return order.ID, nil
}

// releaseKey deletes the pending entry after a failed create, waiting for the
// delete so an immediate retry sees the key free. When the caller has gone
// away the entry is left to expire.
func (s *ReservationService) releaseKey(ctx context.Context, key string, cause error) {
	if ctx.Err() != nil {
		logging.Warn(ctx, s.logger, "request abandoned, ledger entry left to expire",
			zap.String("request_id", key),
			zap.Error(cause),
		)
		return
	}
	if _, err := s.ledger.Delete(ctx, key); err != nil {
		logging.Error(ctx, s.logger, "release request key",
			zap.String("request_id", key),
			zap.Error(err),
		)
	}
}

// LookupRequest reports the ledger state of a request key.
func (s *ReservationService) LookupRequest(ctx context.Context, key string) (LedgerEntry, bool, error) {
	if key == "" {
		return LedgerEntry{}, false, domain.ErrIdempotencyKeyRequired
	}
	entry, ok, err := s.ledger.Get(ctx, key)
	if err != nil {
		return LedgerEntry{}, false, domain.External("ledger get", err)
	}
	return entry, ok, nil
}

// Confirm moves a pending reservation to CONFIRMED.
func (s *ReservationService) Confirm(ctx context.Context, reservationID string) (domain.Order, error) {
	return s.transition(ctx, "confirm", reservationID, domain.ReservationConfirmed,
		func(o domain.Order, now time.Time) (domain.Order, error) {
			return o.Confirm(now)
		},
		s.repo.MarkOrderConfirmed,
	)
}

// Cancel moves a pending reservation owned by actingUserID to CANCELLED and releases its seat.
func (s *ReservationService) Cancel(ctx context.Context, reservationID, actingUserID string) (domain.Order, error) {
	if actingUserID == "" {
		return domain.Order{}, domain.ErrUserRequired
	}
	return s.transition(ctx, "cancel", reservationID, domain.ReservationCancelled,
		func(o domain.Order, now time.Time) (domain.Order, error) {
			return o.Cancel(actingUserID, now)
		},
		s.repo.MarkOrderCancelled,
	)
}

// Expire records the expiry of a reservation owned by actingUserID and releases its seat.
func (s *ReservationService) Expire(ctx context.Context, reservationID, actingUserID string) (domain.Order, error) {
	if actingUserID == "" {
		return domain.Order{}, domain.ErrUserRequired
	}
	return s.transition(ctx, "expire", reservationID, domain.ReservationExpired,
		func(o domain.Order, now time.Time) (domain.Order, error) {
			return o.Expire(actingUserID, now)
		},
		s.repo.MarkOrderExpired,
	)
}

// transition locks the order, applies a lifecycle step and persists it in one
// transaction. If the step fails because the TTL lapsed and the expiry was never
// written, the expiry is committed first and ReservationExpired is returned.
func (s *ReservationService) transition(
	ctx context.Context,
	op string,
	reservationID string,
	typ domain.ReservationEventType,
	apply func(domain.Order, time.Time) (domain.Order, error),
	persist func(context.Context, domain.Order) error,
) (result domain.Order, err error) {
	if reservationID == "" {
		return domain.Order{}, domain.ErrInvalidID
	}

	ctx, span := s.tracer.Start(ctx, "ReservationService."+op, trace.WithAttributes(
		attribute.String("reservation.id", reservationID),
	))
	defer func() {
		s.finish(span, op, err)
	}()

	now := s.clock.Now()
	var guardErr error

	err = s.repo.WithTx(ctx, func(txCtx context.Context) error {
		order, err := s.repo.GetOrderForUpdate(txCtx, reservationID)
		if err != nil {
			return err
		}

		next, err := apply(order, now)
		if err != nil {
			if errors.Is(err, domain.ErrReservationExpired) && order.NeedsExpiryMark(now) {
				guardErr = err
				return s.persistExpiry(txCtx, order.MarkExpired(now), now)
			}
			return err
		}

		if err := persist(txCtx, next); err != nil {
			return err
		}
		result = next
		return s.record(txCtx, typ, next, now)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if guardErr != nil {
		return domain.Order{}, guardErr
	}

	logging.Info(ctx, s.logger, "reservation "+op,
		zap.String("reservation_id", result.ID),
		zap.String("state", string(result.State(now))),
	)
	return result, nil
}

func (s *ReservationService) persistExpiry(ctx context.Context, order domain.Order, now time.Time) error {
	if err := s.repo.MarkOrderExpired(ctx, order); err != nil {
		return err
	}
	return s.record(ctx, domain.ReservationExpired, order, now)
}

// Get returns a reservation owned by actingUserID.
func (s *ReservationService) Get(ctx context.Context, reservationID, actingUserID string) (domain.Order, error) {
	if reservationID == "" {
		return domain.Order{}, domain.ErrInvalidID
	}
	order, err := s.repo.GetOrder(ctx, reservationID)
	if err != nil {
		return domain.Order{}, err
	}
	if order.UserID != actingUserID {
		return domain.Order{}, &domain.NotOwnedReservationError{ReservationID: reservationID, UserID: actingUserID}
	}
	return order, nil
}

func (s *ReservationService) ListForUser(ctx context.Context, userID string) ([]domain.Order, error) {
	if userID == "" {
		return nil, domain.ErrUserRequired
	}
	return s.repo.ListOrdersByUser(ctx, userID)
}

// Now exposes the service clock so callers render state consistently with the guards.
func (s *ReservationService) Now() time.Time {
	return s.clock.Now()
}

func (s *ReservationService) record(ctx context.Context, typ domain.ReservationEventType, order domain.Order, now time.Time) error {
	if s.recorder == nil {
		return nil
	}
	return s.recorder.Record(ctx, domain.NewReservationEvent(newID(), typ, order, now))
}

func (s *ReservationService) finish(span trace.Span, op string, err error) {
	outcome := Outcome(err)
	s.metrics.Observe(op, outcome)
	span.SetAttributes(attribute.String("outcome", outcome))
	if outcome == "external" || outcome == "error" {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
