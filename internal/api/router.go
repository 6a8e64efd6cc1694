package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hackgods/dental-intake-scheduling/internal/appointment"
	"github.com/hackgods/dental-intake-scheduling/internal/config"
	"github.com/hackgods/dental-intake-scheduling/internal/conversation"
)

type RouterConfig struct {
	Service  *appointment.Service
	Engine   *conversation.Engine
	Config   config.Config
	Postgres Pinger // nil when running on the in-memory store
	Redis    *redis.Client
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
	Env      string
	Version  string
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))

	// Health and metrics
	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	operator := func(r chi.Router) chi.Router {
		if cfg.Config.OperatorJWTSecret == "" {
			return r
		}
		return r.With(OperatorJWT(cfg.Config.OperatorJWTSecret))
	}

	// Conversation threads
	if cfg.Engine != nil {
		r.Post("/threads/{id}/messages", sendMessageHandler(cfg.Engine))
		r.Get("/threads/{id}", getThreadHandler(cfg.Engine))
		r.Delete("/threads/{id}", resetThreadHandler(cfg.Engine))
		operator(r).Post("/threads/{id}/resume", resumeThreadHandler(cfg.Engine))
	}

	// Scheduling
	r.Get("/slots", listSlotsHandler(cfg.Service, cfg.Config))
	r.Get("/doctors/{id}/next-slot", nextSlotHandler(cfg.Service, cfg.Config))
	r.Post("/appointments", createAppointmentHandler(cfg.Service))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Service))
	r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Service))
	r.Get("/patients/{id}/appointments", patientAppointmentsHandler(cfg.Service))

	// Operator console
	r.Route("/admin", func(admin chi.Router) {
		if cfg.Config.OperatorJWTSecret != "" {
			admin.Use(OperatorJWT(cfg.Config.OperatorJWTSecret))
		}
		admin.Get("/doctors", listDoctorsHandler(cfg.Service))
		admin.Put("/doctors/{id}/availability", setAvailabilityHandler(cfg.Service))
		admin.Post("/doctors/{id}/release", releaseDoctorHandler(cfg.Service))
		admin.Get("/doctors/{id}/schedule", weeklyScheduleHandler(cfg.Service))
		admin.Post("/doctors/{id}/schedule", addWeeklyWindowHandler(cfg.Service))
	})

	return r
}
