package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cimillas/ticket-reservations/internal/app"
	"github.com/cimillas/ticket-reservations/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const idempotencyHeader = "Idempotency-Key"

// ReservationService is the minimal interface needed for reservation endpoints.
type ReservationService interface {
	Reserve(ctx context.Context, in app.ReserveInput) (string, error)
	LookupRequest(ctx context.Context, key string) (app.LedgerEntry, bool, error)
	Get(ctx context.Context, reservationID, actingUserID string) (domain.Order, error)
	ListForUser(ctx context.Context, userID string) ([]domain.Order, error)
	Confirm(ctx context.Context, reservationID string) (domain.Order, error)
	Cancel(ctx context.Context, reservationID, actingUserID string) (domain.Order, error)
	Expire(ctx context.Context, reservationID, actingUserID string) (domain.Order, error)
	Now() time.Time
}

type reserveResponse struct {
	ReservationID string `json:"reservationId"`
	RequestID     string `json:"requestId"`
}

type requestStatusResponse struct {
	RequestID     string `json:"requestId"`
	Status        string `json:"status"`
	ReservationID string `json:"reservationId,omitempty"`
}

type reservationResponse struct {
	ID          string     `json:"id"`
	EventID     string     `json:"eventId"`
	UserID      string     `json:"userId"`
	State       string     `json:"state"`
	CreatedAt   time.Time  `json:"createdAt"`
	ExpiresAt   time.Time  `json:"expiresAt"`
	ConfirmedAt *time.Time `json:"confirmedAt,omitempty"`
	CancelledAt *time.Time `json:"cancelledAt,omitempty"`
	ExpiredAt   *time.Time `json:"expiredAt,omitempty"`
}

func newReservationResponse(o domain.Order, now time.Time) reservationResponse {
	return reservationResponse{
		ID:          o.ID,
		EventID:     o.EventID,
		UserID:      o.UserID,
		State:       string(o.State(now)),
		CreatedAt:   o.CreatedAt,
		ExpiresAt:   o.ExpiresAt(),
		ConfirmedAt: o.ConfirmedAt,
		CancelledAt: o.CancelledAt,
		ExpiredAt:   o.ExpiredAt,
	}
}

// requestKey derives the ledger key for the caller's Idempotency-Key token on an event.
func requestKey(r *http.Request) (eventID, userID, key string, err error) {
	userID, err = actingUser(r)
	if err != nil {
		return "", "", "", err
	}
	token := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if token == "" {
		return "", "", "", domain.ErrIdempotencyKeyRequired
	}
	eventID = chi.URLParam(r, "id")
	return eventID, userID, app.DeriveIdempotencyKey(eventID, userID, token), nil
}

// HandleReserve creates at most one reservation per (event, user, Idempotency-Key).
func HandleReserve(svc ReservationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		eventID, userID, key, err := requestKey(r)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		id, err := svc.Reserve(r.Context(), app.ReserveInput{
			EventID:        eventID,
			UserID:         userID,
			IdempotencyKey: key,
		})
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, reserveResponse{ReservationID: id, RequestID: key})
	}
}

// HandleRequestStatus reports the ledger state of a reservation request so a
// client that got DuplicateRequest can learn the outcome of its first attempt.
func HandleRequestStatus(svc ReservationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _, key, err := requestKey(r)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}

		entry, ok, err := svc.LookupRequest(r.Context(), key)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, codeNotFound, "request not found", map[string]any{"requestId": key})
			return
		}
		writeJSON(w, http.StatusOK, requestStatusResponse{
			RequestID:     key,
			Status:        string(entry.Status),
			ReservationID: entry.ReservationID,
		})
	}
}

func HandleListReservations(svc ReservationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := actingUser(r)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		orders, err := svc.ListForUser(r.Context(), userID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		now := svc.Now()
		resp := make([]reservationResponse, 0, len(orders))
		for _, o := range orders {
			resp = append(resp, newReservationResponse(o, now))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func HandleGetReservation(svc ReservationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := actingUser(r)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		order, err := svc.Get(r.Context(), chi.URLParam(r, "id"), userID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newReservationResponse(order, svc.Now()))
	}
}

func HandleConfirmReservation(svc ReservationService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		order, err := svc.Confirm(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newReservationResponse(order, svc.Now()))
	}
}

func HandleCancelReservation(svc ReservationService, logger *zap.Logger) http.HandlerFunc {
	return handleOwnedTransition(svc.Cancel, svc.Now, logger)
}

func HandleExpireReservation(svc ReservationService, logger *zap.Logger) http.HandlerFunc {
	return handleOwnedTransition(svc.Expire, svc.Now, logger)
}

func handleOwnedTransition(
	step func(ctx context.Context, reservationID, actingUserID string) (domain.Order, error),
	now func() time.Time,
	logger *zap.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, err := actingUser(r)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		order, err := step(r.Context(), chi.URLParam(r, "id"), userID)
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newReservationResponse(order, now()))
	}
}
