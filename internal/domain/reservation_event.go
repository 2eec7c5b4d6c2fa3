package domain

import "time"

type ReservationEventType string

const (
	ReservationCreated   ReservationEventType = "reservation.created"
	ReservationConfirmed ReservationEventType = "reservation.confirmed"
	ReservationCancelled ReservationEventType = "reservation.cancelled"
	ReservationExpired   ReservationEventType = "reservation.expired"
)

// ReservationEvent is a lifecycle change recorded for downstream consumers.
type ReservationEvent struct {
	ID         string               `json:"id"`
	Type       ReservationEventType `json:"type"`
	OrderID    string               `json:"reservationId"`
	EventID    string               `json:"eventId"`
	UserID     string               `json:"userId"`
	OccurredAt time.Time            `json:"occurredAt"`
}

// NewReservationEvent describes o having moved to typ at the given instant.
func NewReservationEvent(id string, typ ReservationEventType, o Order, at time.Time) ReservationEvent {
	return ReservationEvent{
		ID:         id,
		Type:       typ,
		OrderID:    o.ID,
		EventID:    o.EventID,
		UserID:     o.UserID,
		OccurredAt: at,
	}
}
