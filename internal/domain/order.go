package domain

import "time"

// OrderStatus is the persisted status column. EXPIRED is never stored as a
// status; it is derived from the markers and TTL (see Order.State).
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

// ReservationState is the lifecycle state of an order at a given instant.
type ReservationState string

const (
	StatePending   ReservationState = "PENDING"
	StateConfirmed ReservationState = "CONFIRMED"
	StateCancelled ReservationState = "CANCELLED"
	StateExpired   ReservationState = "EXPIRED"
)

const reservationResource = "reservation"

// Order is a reservation of one seat for an event.
// At most one of ExpiredAt, CancelledAt and ConfirmedAt is ever set.
type Order struct {
	ID          string
	UserID      string
	EventID     string
	TTL         time.Duration
	Status      OrderStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	ExpiredAt   *time.Time
	CancelledAt *time.Time
	ConfirmedAt *time.Time
}

// ExpiresAt is the instant the pending hold lapses.
func (o Order) ExpiresAt() time.Time {
	return o.CreatedAt.Add(o.TTL)
}

// IsLogicallyExpired reports whether the order is expired at now, either by an
// explicit marker or because its TTL elapsed while it was still pending.
func (o Order) IsLogicallyExpired(now time.Time) bool {
	if o.ExpiredAt != nil && !o.ExpiredAt.After(now) {
		return true
	}
	if o.isConfirmed() || o.isCancelled() {
		return false
	}
	return !now.Before(o.ExpiresAt())
}

// State derives the lifecycle state at now.
func (o Order) State(now time.Time) ReservationState {
	switch {
	case o.isCancelled():
		return StateCancelled
	case o.IsLogicallyExpired(now):
		return StateExpired
	case o.isConfirmed():
		return StateConfirmed
	default:
		return StatePending
	}
}

// CheckConfirm evaluates the PENDING -> CONFIRMED guards in fixed order:
// cancelled, expired, already confirmed.
func (o Order) CheckConfirm(now time.Time) error {
	return o.checkTerminal(now)
}

// CheckCancel evaluates ownership first, then the same guards as CheckConfirm.
func (o Order) CheckCancel(actingUserID string, now time.Time) error {
	if o.UserID != actingUserID {
		return &NotOwnedReservationError{ReservationID: o.ID, UserID: actingUserID}
	}
	return o.checkTerminal(now)
}

// CheckExpire permits the owner to lapse a pending order early, or to record
// an expiry that has already happened by TTL but was never persisted.
func (o Order) CheckExpire(actingUserID string, now time.Time) error {
	if o.UserID != actingUserID {
		return &NotOwnedReservationError{ReservationID: o.ID, UserID: actingUserID}
	}
	if o.isCancelled() {
		return &ReservationCancelledError{ReservationID: o.ID, CancelledAt: o.CancelledAt}
	}
	if o.ExpiredAt != nil {
		return &ReservationExpiredError{ReservationID: o.ID, ExpiredAt: o.ExpiredAt}
	}
	if o.isConfirmed() {
		return o.invalidState(StateConfirmed)
	}
	return nil
}

// NeedsExpiryMark reports whether the order is expired by TTL but has no
// ExpiredAt persisted yet, meaning its seat is still counted as allocated.
func (o Order) NeedsExpiryMark(now time.Time) bool {
	return o.ExpiredAt == nil && o.State(now) == StateExpired
}

// Confirm returns the confirmed copy of o, or the guard failure.
func (o Order) Confirm(now time.Time) (Order, error) {
	if err := o.CheckConfirm(now); err != nil {
		return o, err
	}
	o.Status = OrderStatusConfirmed
	o.ConfirmedAt = &now
	o.UpdatedAt = now
	return o, nil
}

// Cancel returns the cancelled copy of o, or the guard failure.
func (o Order) Cancel(actingUserID string, now time.Time) (Order, error) {
	if err := o.CheckCancel(actingUserID, now); err != nil {
		return o, err
	}
	o.Status = OrderStatusCancelled
	o.CancelledAt = &now
	o.UpdatedAt = now
	return o, nil
}

// Expire returns o with its expiry recorded at the earlier of now and the TTL deadline.
func (o Order) Expire(actingUserID string, now time.Time) (Order, error) {
	if err := o.CheckExpire(actingUserID, now); err != nil {
		return o, err
	}
	return o.markExpired(now), nil
}

// MarkExpired records a TTL expiry discovered during another transition.
func (o Order) MarkExpired(now time.Time) Order {
	return o.markExpired(now)
}

func (o Order) markExpired(now time.Time) Order {
	at := now
	if deadline := o.ExpiresAt(); deadline.Before(now) {
		at = deadline
	}
	o.ExpiredAt = &at
	o.UpdatedAt = now
	return o
}

func (o Order) checkTerminal(now time.Time) error {
	if o.isCancelled() {
		return &ReservationCancelledError{ReservationID: o.ID, CancelledAt: o.CancelledAt}
	}
	if o.IsLogicallyExpired(now) {
		expiredAt := o.ExpiredAt
		if expiredAt == nil {
			deadline := o.ExpiresAt()
			expiredAt = &deadline
		}
		return &ReservationExpiredError{ReservationID: o.ID, ExpiredAt: expiredAt}
	}
	if o.isConfirmed() {
		return o.invalidState(StateConfirmed)
	}
	return nil
}

func (o Order) invalidState(actual ReservationState) error {
	return &InvalidStateError{
		Resource: reservationResource,
		Expected: string(StatePending),
		Actual:   string(actual),
	}
}

func (o Order) isCancelled() bool {
	return o.CancelledAt != nil || o.Status == OrderStatusCancelled
}

func (o Order) isConfirmed() bool {
	return o.ConfirmedAt != nil || o.Status == OrderStatusConfirmed
}
