package domain

import "time"

type EventStatus string

const (
	EventStatusOpen   EventStatus = "OPEN"
	EventStatusClosed EventStatus = "CLOSED"
)

// Event is a ticketed event with a single capacity pool.
// Allocated is maintained by the order repository and stays within [0, Capacity].
type Event struct {
	ID        string
	Name      string
	Status    EventStatus
	Capacity  int
	Allocated int
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Available returns the number of unallocated seats.
func (e Event) Available() int {
	if e.Allocated >= e.Capacity {
		return 0
	}
	return e.Capacity - e.Allocated
}
