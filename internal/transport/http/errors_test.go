package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cimillas/ticket-reservations/internal/domain"
	"go.uber.org/zap"
)

func TestStatusForTag_CoversEveryTag(t *testing.T) {
	t.Parallel()

	for _, tag := range domain.Tags() {
		if statusForTag(tag) == http.StatusInternalServerError {
			t.Fatalf("tag %s has no status mapping", tag)
		}
	}
}

func TestWriteDomainError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		err            error
		expectedStatus int
		expectedCode   string
		detailKey      string
	}{
		{
			name:           "insufficient capacity",
			err:            &domain.InsufficientCapacityError{EventID: "e1", Requested: 1, Available: 0},
			expectedStatus: http.StatusConflict,
			expectedCode:   "InsufficientCapacity",
			detailKey:      "available",
		},
		{
			name:           "wrapped not found",
			err:            fmt.Errorf("load: %w", &domain.ReservationNotFoundError{ReservationID: "r1"}),
			expectedStatus: http.StatusNotFound,
			expectedCode:   "ReservationNotFound",
			detailKey:      "reservationId",
		},
		{
			name:           "not owned",
			err:            &domain.NotOwnedReservationError{ReservationID: "r1", UserID: "u2"},
			expectedStatus: http.StatusForbidden,
			expectedCode:   "NotOwnedReservation",
			detailKey:      "userId",
		},
		{
			name:           "duplicate request",
			err:            &domain.DuplicateRequestError{RequestID: "k1"},
			expectedStatus: http.StatusConflict,
			expectedCode:   "DuplicateRequest",
			detailKey:      "requestId",
		},
		{
			name:           "validation sentinel",
			err:            domain.ErrIdempotencyKeyRequired,
			expectedStatus: http.StatusBadRequest,
			expectedCode:   codeIdempotencyRequired,
		},
		{
			name:           "external",
			err:            domain.External("ledger try insert", errors.New("dial tcp: refused")),
			expectedStatus: http.StatusServiceUnavailable,
			expectedCode:   codeServiceUnavailable,
		},
		{
			name:           "unclassified",
			err:            errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedCode:   codeInternalError,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/events/e1/reservations", nil)
			writeDomainError(rec, req, zap.NewNop(), tt.err)

			if rec.Code != tt.expectedStatus {
				t.Fatalf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			var resp errorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Error.Code != tt.expectedCode {
				t.Fatalf("expected code %s, got %s", tt.expectedCode, resp.Error.Code)
			}
			if tt.detailKey != "" {
				if _, ok := resp.Error.Details[tt.detailKey]; !ok {
					t.Fatalf("expected detail %q, got %v", tt.detailKey, resp.Error.Details)
				}
			}
			if tt.expectedStatus >= 500 && (resp.Error.Details != nil || resp.Error.Message == "boom") {
				t.Fatalf("expected opaque server error, got %+v", resp.Error)
			}
		})
	}
}
