package app

import (
	"errors"

	"github.com/cimillas/ticket-reservations/internal/domain"
)

// Metrics receives one observation per use-case call.
type Metrics interface {
	Observe(operation, outcome string)
}

type noopMetrics struct{}

func (noopMetrics) Observe(string, string) {}

// Outcome labels an operation result: "ok", a domain tag, "external" or "error".
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if de, ok := domain.AsError(err); ok {
		return string(de.Tag())
	}
	var ext *domain.ExternalError
	if errors.As(err, &ext) {
		return "external"
	}
	return "error"
}
