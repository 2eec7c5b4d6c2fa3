package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type RouterDeps struct {
	Users          UserService
	Events         EventService
	Reservations   ReservationService
	Observer       RequestObserver
	MetricsHandler http.Handler
	HealthChecks   map[string]Pinger
	CORSOrigins    []string
	Logger         *zap.Logger
}

// NewRouter wires every endpoint behind tracing, request logging, CORS,
// panic recovery and caller identity.
func NewRouter(d RouterDeps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(Recoverer(logger))
	if d.Observer != nil {
		r.Use(Instrument(d.Observer))
	}
	r.Use(Identity)
	r.NotFound(NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(MethodNotAllowedHandler().ServeHTTP)

	r.Get("/health", HandleHealth(d.HealthChecks, logger))
	if d.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", d.MetricsHandler)
	}

	r.Route("/users", func(r chi.Router) {
		r.Post("/", HandleCreateUser(d.Users, logger))
		r.Get("/{id}", HandleGetUser(d.Users, logger))
	})

	r.Route("/events", func(r chi.Router) {
		r.Get("/", HandleListEvents(d.Events, logger))
		r.Get("/{id}", HandleGetEvent(d.Events, logger))
		r.Post("/{id}/reservations", HandleReserve(d.Reservations, logger))
		r.Get("/{id}/reservations/requests", HandleRequestStatus(d.Reservations, logger))
	})

	r.Route("/admin/events", func(r chi.Router) {
		r.Post("/", HandleCreateEvent(d.Events, logger))
		r.Post("/{id}/close", HandleCloseEvent(d.Events, logger))
	})

	r.Route("/reservations", func(r chi.Router) {
		r.Get("/", HandleListReservations(d.Reservations, logger))
		r.Get("/{id}", HandleGetReservation(d.Reservations, logger))
		r.Post("/{id}/confirm", HandleConfirmReservation(d.Reservations, logger))
		r.Post("/{id}/cancel", HandleCancelReservation(d.Reservations, logger))
		r.Post("/{id}/expire", HandleExpireReservation(d.Reservations, logger))
	})

	handler := CORS(d.CORSOrigins)(r)
	handler = RequestLogger(handler, logger)
	return otelhttp.NewHandler(handler, "http.server")
}
