package app

type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "pending"
	LedgerCompleted LedgerStatus = "completed"
)

// LedgerEntry is the idempotency ledger value for one request key.
// ReservationID is empty while the request is pending.
type LedgerEntry struct {
	Status        LedgerStatus `json:"status"`
	ReservationID string       `json:"reservationId"`
}
