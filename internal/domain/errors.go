package domain

import (
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// Tag discriminates the closed set of business failures.
type Tag string

const (
	TagEventNotFound        Tag = "EventNotFound"
	TagReservationNotFound  Tag = "ReservationNotFound"
	TagNotOwnedReservation  Tag = "NotOwnedReservation"
	TagEventClosed          Tag = "EventClosed"
	TagInsufficientCapacity Tag = "InsufficientCapacity"
	TagReservationExpired   Tag = "ReservationExpired"
	TagReservationCancelled Tag = "ReservationCancelled"
	TagDuplicateRequest     Tag = "DuplicateRequest"
	TagInvalidState         Tag = "InvalidState"
	TagUserAlreadyExists    Tag = "UserAlreadyExists"
	TagUserNotFound         Tag = "UserNotFound"
)

// Tags lists every domain error tag.
func Tags() []Tag {
	return []Tag{
		TagEventNotFound,
		TagReservationNotFound,
		TagNotOwnedReservation,
		TagEventClosed,
		TagInsufficientCapacity,
		TagReservationExpired,
		TagReservationCancelled,
		TagDuplicateRequest,
		TagInvalidState,
		TagUserAlreadyExists,
		TagUserNotFound,
	}
}

// Error is implemented only by the types in this file.
type Error interface {
	error
	Tag() Tag
	// Details returns the tag-specific fields, keyed as they appear on the wire.
	Details() map[string]any
	domainError()
}

// Sentinels for errors.Is matching; every domain error unwraps to one of these.
var (
	ErrEventNotFound        = errors.New("event not found")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrNotOwnedReservation  = errors.New("reservation not owned by user")
	ErrEventClosed          = errors.New("event closed")
	ErrInsufficientCapacity = errors.New("insufficient capacity")
	ErrReservationExpired   = errors.New("reservation expired")
	ErrReservationCancelled = errors.New("reservation cancelled")
	ErrDuplicateRequest     = errors.New("duplicate request")
	ErrInvalidState         = errors.New("invalid state")
	ErrUserAlreadyExists    = errors.New("user already exists")
	ErrUserNotFound         = errors.New("user not found")
)

// Input validation failures, rejected before any business rule runs.
var (
	ErrInvalidID              = errors.New("invalid id")
	ErrIdempotencyKeyRequired = errors.New("idempotency key required")
	ErrUserRequired           = errors.New("user id required")
	ErrEventNameRequired      = errors.New("event name required")
	ErrInvalidCapacity        = errors.New("invalid capacity")
	ErrInvalidUser            = errors.New("invalid user")
)

type EventNotFoundError struct {
	EventID string
}

func (e *EventNotFoundError) Error() string {
	return fmt.Sprintf("event %s not found", e.EventID)
}
func (*EventNotFoundError) Tag() Tag      { return TagEventNotFound }
func (*EventNotFoundError) Unwrap() error { return ErrEventNotFound }
func (*EventNotFoundError) domainError()  {}
func (e *EventNotFoundError) Details() map[string]any {
	return map[string]any{"eventId": e.EventID}
}

type ReservationNotFoundError struct {
	ReservationID string
}

func (e *ReservationNotFoundError) Error() string {
	return fmt.Sprintf("reservation %s not found", e.ReservationID)
}
func (*ReservationNotFoundError) Tag() Tag      { return TagReservationNotFound }
func (*ReservationNotFoundError) Unwrap() error { return ErrReservationNotFound }
func (*ReservationNotFoundError) domainError()  {}
func (e *ReservationNotFoundError) Details() map[string]any {
	return map[string]any{"reservationId": e.ReservationID}
}

type NotOwnedReservationError struct {
	ReservationID string
	UserID        string
}

func (e *NotOwnedReservationError) Error() string {
	return fmt.Sprintf("reservation %s is not owned by user %s", e.ReservationID, e.UserID)
}
func (*NotOwnedReservationError) Tag() Tag      { return TagNotOwnedReservation }
func (*NotOwnedReservationError) Unwrap() error { return ErrNotOwnedReservation }
func (*NotOwnedReservationError) domainError()  {}
func (e *NotOwnedReservationError) Details() map[string]any {
	return map[string]any{"reservationId": e.ReservationID, "userId": e.UserID}
}

type EventClosedError struct {
	EventID  string
	ClosedAt *time.Time
}

func (e *EventClosedError) Error() string {
	return fmt.Sprintf("event %s is closed", e.EventID)
}
func (*EventClosedError) Tag() Tag      { return TagEventClosed }
func (*EventClosedError) Unwrap() error { return ErrEventClosed }
func (*EventClosedError) domainError()  {}
func (e *EventClosedError) Details() map[string]any {
	d := map[string]any{"eventId": e.EventID}
	if e.ClosedAt != nil {
		d["closedAt"] = *e.ClosedAt
	}
	return d
}

type InsufficientCapacityError struct {
	EventID   string
	Requested int
	Available int
}

func (e *InsufficientCapacityError) Error() string {
	return fmt.Sprintf("event %s: requested %d, available %d", e.EventID, e.Requested, e.Available)
}
func (*InsufficientCapacityError) Tag() Tag      { return TagInsufficientCapacity }
func (*InsufficientCapacityError) Unwrap() error { return ErrInsufficientCapacity }
func (*InsufficientCapacityError) domainError()  {}
func (e *InsufficientCapacityError) Details() map[string]any {
	return map[string]any{"eventId": e.EventID, "requested": e.Requested, "available": e.Available}
}

type ReservationExpiredError struct {
	ReservationID string
	ExpiredAt     *time.Time
}

func (e *ReservationExpiredError) Error() string {
	return fmt.Sprintf("reservation %s expired", e.ReservationID)
}
func (*ReservationExpiredError) Tag() Tag      { return TagReservationExpired }
func (*ReservationExpiredError) Unwrap() error { return ErrReservationExpired }
func (*ReservationExpiredError) domainError()  {}
func (e *ReservationExpiredError) Details() map[string]any {
	d := map[string]any{"reservationId": e.ReservationID}
	if e.ExpiredAt != nil {
		d["expiredAt"] = *e.ExpiredAt
	}
	return d
}

type ReservationCancelledError struct {
	ReservationID string
	CancelledAt   *time.Time
}

func (e *ReservationCancelledError) Error() string {
	return fmt.Sprintf("reservation %s cancelled", e.ReservationID)
}
func (*ReservationCancelledError) Tag() Tag      { return TagReservationCancelled }
func (*ReservationCancelledError) Unwrap() error { return ErrReservationCancelled }
func (*ReservationCancelledError) domainError()  {}
func (e *ReservationCancelledError) Details() map[string]any {
	d := map[string]any{"reservationId": e.ReservationID}
	if e.CancelledAt != nil {
		d["cancelledAt"] = *e.CancelledAt
	}
	return d
}

type DuplicateRequestError struct {
	RequestID string
}

func (e *DuplicateRequestError) Error() string {
	return fmt.Sprintf("request %s already in flight or completed", e.RequestID)
}
func (*DuplicateRequestError) Tag() Tag      { return TagDuplicateRequest }
func (*DuplicateRequestError) Unwrap() error { return ErrDuplicateRequest }
func (*DuplicateRequestError) domainError()  {}
func (e *DuplicateRequestError) Details() map[string]any {
	return map[string]any{"requestId": e.RequestID}
}

type InvalidStateError struct {
	Resource string
	Expected string
	Actual   string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s: expected state %s, got %s", e.Resource, e.Expected, e.Actual)
}
func (*InvalidStateError) Tag() Tag      { return TagInvalidState }
func (*InvalidStateError) Unwrap() error { return ErrInvalidState }
func (*InvalidStateError) domainError()  {}
func (e *InvalidStateError) Details() map[string]any {
	return map[string]any{"resource": e.Resource, "expected": e.Expected, "actual": e.Actual}
}

type UserAlreadyExistsError struct {
	Email string
}

func (e *UserAlreadyExistsError) Error() string {
	return fmt.Sprintf("user with email %s already exists", e.Email)
}
func (*UserAlreadyExistsError) Tag() Tag      { return TagUserAlreadyExists }
func (*UserAlreadyExistsError) Unwrap() error { return ErrUserAlreadyExists }
func (*UserAlreadyExistsError) domainError()  {}
func (e *UserAlreadyExistsError) Details() map[string]any {
	return map[string]any{"email": e.Email}
}

// UserNotFoundError identifies the user by id or by email, whichever the lookup used.
type UserNotFoundError struct {
	UserID string
	Email  string
}

func (e *UserNotFoundError) Error() string {
	if e.Email != "" {
		return fmt.Sprintf("user with email %s not found", e.Email)
	}
	return fmt.Sprintf("user %s not found", e.UserID)
}
func (*UserNotFoundError) Tag() Tag      { return TagUserNotFound }
func (*UserNotFoundError) Unwrap() error { return ErrUserNotFound }
func (*UserNotFoundError) domainError()  {}
func (e *UserNotFoundError) Details() map[string]any {
	if e.Email != "" {
		return map[string]any{"email": e.Email}
	}
	return map[string]any{"userId": e.UserID}
}

// AsError extracts the domain error from err's chain.
func AsError(err error) (Error, bool) {
	var de Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// ExternalError reports an infrastructure failure (storage, network, broker).
type ExternalError struct {
	Operation string
	Err       error
}

// External wraps err as an ExternalError. A nil err stays nil.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	var ext *ExternalError
	if errors.As(err, &ext) {
		return err
	}
	return &ExternalError{Operation: op, Err: err}
}

func (e *ExternalError) Error() string {
	return fmt.Sprintf("%s: %v", e.Operation, e.Err)
}

func (e *ExternalError) Unwrap() error { return e.Err }

// UnexpectedError is a broken invariant caught at the process boundary.
type UnexpectedError struct {
	Err   error
	Stack []byte
}

// Unexpected captures the current stack alongside err.
func Unexpected(err error) *UnexpectedError {
	return &UnexpectedError{Err: err, Stack: debug.Stack()}
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("unexpected: %v", e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }
