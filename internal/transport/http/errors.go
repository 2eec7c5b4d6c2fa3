package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cimillas/ticket-reservations/internal/domain"
	"github.com/cimillas/ticket-reservations/internal/logging"
	"go.uber.org/zap"
)

const (
	codeMethodNotAllowed    = "METHOD_NOT_ALLOWED"
	codeNotFound            = "NOT_FOUND"
	codeInvalidRequestBody  = "INVALID_REQUEST_BODY"
	codeValidationFailed    = "VALIDATION_FAILED"
	codeInvalidID           = "INVALID_ID"
	codeIdempotencyRequired = "IDEMPOTENCY_KEY_REQUIRED"
	codeUserRequired        = "USER_REQUIRED"
	codeEventNameRequired   = "EVENT_NAME_REQUIRED"
	codeInvalidCapacity     = "INVALID_CAPACITY"
	codeInvalidUser         = "INVALID_USER"
	codeForbidden           = "FORBIDDEN"
	codeServiceUnavailable  = "SERVICE_UNAVAILABLE"
	codeInternalError       = "INTERNAL_ERROR"
)

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{Error: errorBody{
		Code:    code,
		Message: msg,
		Details: details,
	}})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":{"code":"INTERNAL_ERROR","message":"internal error"}}`))
		return
	}
	_, _ = w.Write(payload)
}

// statusForTag maps every domain tag to its HTTP status.
func statusForTag(tag domain.Tag) int {
	switch tag {
	case domain.TagEventNotFound, domain.TagReservationNotFound, domain.TagUserNotFound:
		return http.StatusNotFound
	case domain.TagNotOwnedReservation:
		return http.StatusForbidden
	case domain.TagEventClosed,
		domain.TagInsufficientCapacity,
		domain.TagReservationExpired,
		domain.TagReservationCancelled,
		domain.TagDuplicateRequest,
		domain.TagInvalidState,
		domain.TagUserAlreadyExists:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

var validationCodes = []struct {
	err  error
	code string
}{
	{domain.ErrInvalidID, codeInvalidID},
	{domain.ErrIdempotencyKeyRequired, codeIdempotencyRequired},
	{domain.ErrUserRequired, codeUserRequired},
	{domain.ErrEventNameRequired, codeEventNameRequired},
	{domain.ErrInvalidCapacity, codeInvalidCapacity},
	{domain.ErrInvalidUser, codeInvalidUser},
}

// writeDomainError renders err. Unclassified errors are logged with a stack
// and returned as an opaque 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	if de, ok := domain.AsError(err); ok {
		writeError(w, statusForTag(de.Tag()), string(de.Tag()), de.Error(), de.Details())
		return
	}
	for _, v := range validationCodes {
		if errors.Is(err, v.err) {
			writeError(w, http.StatusBadRequest, v.code, v.err.Error(), nil)
			return
		}
	}

	var ext *domain.ExternalError
	if errors.As(err, &ext) {
		logging.Error(r.Context(), logger, "dependency failure",
			zap.String("operation", ext.Operation),
			zap.String("path", r.URL.Path),
			zap.Error(ext.Err),
		)
		writeError(w, http.StatusServiceUnavailable, codeServiceUnavailable, "service temporarily unavailable", nil)
		return
	}

	var unexpected *domain.UnexpectedError
	if !errors.As(err, &unexpected) {
		unexpected = domain.Unexpected(err)
	}
	logging.Error(r.Context(), logger, "unexpected error",
		zap.String("path", r.URL.Path),
		zap.Error(unexpected.Err),
		zap.ByteString("stack", unexpected.Stack),
	)
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error", nil)
}
