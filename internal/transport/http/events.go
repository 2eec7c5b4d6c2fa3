package http

import (
	"context"
	"net/http"
	"time"

	"github.com/cimillas/ticket-reservations/internal/app"
	"github.com/cimillas/ticket-reservations/internal/domain"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// EventService is the minimal interface needed for event and admin endpoints.
type EventService interface {
	CreateEvent(ctx context.Context, in app.CreateEventInput) (domain.Event, error)
	ListEvents(ctx context.Context) ([]domain.Event, error)
	GetEvent(ctx context.Context, id string) (domain.Event, error)
	CloseEvent(ctx context.Context, id string) (domain.Event, error)
}

type createEventRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	Capacity int    `json:"capacity" validate:"gt=0"`
}

type eventResponse struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Status    string     `json:"status"`
	Capacity  int        `json:"capacity"`
	Allocated int        `json:"allocated"`
	Available int        `json:"available"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func newEventResponse(e domain.Event) eventResponse {
	return eventResponse{
		ID:        e.ID,
		Name:      e.Name,
		Status:    string(e.Status),
		Capacity:  e.Capacity,
		Allocated: e.Allocated,
		Available: e.Available(),
		ClosedAt:  e.ClosedAt,
		CreatedAt: e.CreatedAt,
	}
}

func HandleListEvents(svc EventService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		events, err := svc.ListEvents(r.Context())
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		resp := make([]eventResponse, 0, len(events))
		for _, event := range events {
			resp = append(resp, newEventResponse(event))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func HandleGetEvent(svc EventService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, err := svc.GetEvent(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newEventResponse(event))
	}
}

// HandleCreateEvent is the admin endpoint that opens a new event.
func HandleCreateEvent(svc EventService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createEventRequest
		if !decodeBody(w, r, &req) {
			return
		}
		event, err := svc.CreateEvent(r.Context(), app.CreateEventInput{
			Name:     req.Name,
			Capacity: req.Capacity,
		})
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, newEventResponse(event))
	}
}

// HandleCloseEvent is the admin endpoint that stops new reservations for an event.
func HandleCloseEvent(svc EventService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		event, err := svc.CloseEvent(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newEventResponse(event))
	}
}
