package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-scheduling/internal/appointment"
	"github.com/hackgods/clinic-slot-scheduling/internal/booking"
	"github.com/hackgods/clinic-slot-scheduling/internal/metrics"
	"github.com/hackgods/clinic-slot-scheduling/internal/slots"
)

// SchedulingService is the operation set the HTTP layer serves.
type SchedulingService interface {
	ListAvailableSlots(ctx context.Context, doctorID string, date slots.Date) ([]slots.Slot, error)
	Book(ctx context.Context, req booking.Request) (booking.Outcome, error)
	Cancel(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	Complete(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointmentsByPatient(ctx context.Context, patientRef string, limit, offset int) ([]appointment.Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID string, date slots.Date, limit, offset int) ([]appointment.Appointment, error)
}

type RouterConfig struct {
	Service SchedulingService
	Logger  *zap.Logger
	Metrics *metrics.Collector
	// Gatherer backs /metrics; nil serves the default registry.
	Gatherer  prometheus.Gatherer
	Checks    []Check
	RateLimit *RateLimiter
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger, cfg.Metrics))
	r.Use(middleware.Recoverer)

	// Health endpoints
	health := NewHealthHandler(cfg.Checks, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(cfg.Gatherer))

	r.Get("/doctors/{doctorID}/slots", listSlotsHandler(cfg.Service, logger))
	r.Get("/doctors/{doctorID}/appointments", listDoctorAppointmentsHandler(cfg.Service, logger))

	limit := func(next http.Handler) http.Handler { return next }
	if cfg.RateLimit != nil {
		limit = cfg.RateLimit.Middleware
	}

	r.Route("/appointments", func(r chi.Router) {
		r.Get("/", listAppointmentsHandler(cfg.Service, logger))
		r.Get("/{id}", getAppointmentHandler(cfg.Service, logger))

		// Writes are rate limited per client IP.
		r.Group(func(r chi.Router) {
			r.Use(limit)
			r.Post("/", createAppointmentHandler(cfg.Service, logger))
			r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Service, logger))
			r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Service, logger))
			r.Post("/{id}/complete", completeAppointmentHandler(cfg.Service, logger))
		})
	})

	return r
}
