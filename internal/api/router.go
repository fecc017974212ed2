package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-slot-booking/internal/appointment"
	"github.com/hackgods/clinic-slot-booking/internal/auth"
	"github.com/hackgods/clinic-slot-booking/internal/metrics"
	"github.com/hackgods/clinic-slot-booking/internal/schedule"
)

type RouterConfig struct {
	Appointments *appointment.Service
	Schedules    *schedule.Service
	Tokens       *auth.Manager
	Metrics      *metrics.Collector
	Logger       *zap.Logger
	Dependencies []Dependency
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(log))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	// Health endpoints
	health := NewHealthHandler(cfg.Dependencies, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Tokens))

		r.Route("/doctors", func(r chi.Router) {
			r.Get("/me/schedule", getMyScheduleHandler(cfg.Schedules, log))
			r.Put("/me/schedule", saveMyScheduleHandler(cfg.Schedules, log))
			r.Post("/me/slots/generate", generateSlotsHandler(cfg.Schedules, log))

			r.Get("/{id}/slots", listAvailableSlotsHandler(cfg.Appointments, log))
			r.Get("/{id}/schedule", getScheduleHandler(cfg.Schedules, log))
			r.Get("/{id}/ratings", doctorRatingsHandler(cfg.Appointments, log))
		})

		r.Route("/appointments", func(r chi.Router) {
			r.Post("/", bookAppointmentHandler(cfg.Appointments, log))
			r.Get("/", listAppointmentsHandler(cfg.Appointments, log))
			r.Get("/{id}", getAppointmentHandler(cfg.Appointments, log))
			r.Post("/{id}/confirm", confirmAppointmentHandler(cfg.Appointments, log))
			r.Post("/{id}/complete", completeAppointmentHandler(cfg.Appointments, log))
			r.Post("/{id}/cancel", cancelAppointmentHandler(cfg.Appointments, log))
			r.Post("/{id}/rating", rateAppointmentHandler(cfg.Appointments, log))
		})
	})

	return r
}
