package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/caremesh/hospital-booking/internal/auth"
	"github.com/caremesh/hospital-booking/internal/directory"
	"github.com/caremesh/hospital-booking/internal/observability"
	"github.com/caremesh/hospital-booking/internal/scheduling"
	"github.com/caremesh/hospital-booking/internal/triage"
)

type RouterConfig struct {
	Coordinator *scheduling.Coordinator
	Directory   *directory.PgStore
	Tokens      *auth.TokenManager
	Suggester   triage.Suggester
	PgPool      *pgxpool.Pool
	Redis       *redis.Client
	Logger      *zap.Logger
	Metrics     *observability.BookingMetrics
	Env         string
	Version     string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger, cfg.Metrics))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/auth/register", registerHandler(cfg.Directory, cfg.Tokens))
	r.Post("/auth/login", loginHandler(cfg.Directory, cfg.Tokens))

	r.Get("/hospitals", listHospitalsHandler(cfg.Directory))
	r.Get("/hospitals/{id}", getHospitalHandler(cfg.Directory))
	r.Get("/hospitals/{id}/slots", getHospitalSlotsHandler(cfg.Coordinator))

	r.Group(func(pr chi.Router) {
		pr.Use(cfg.Tokens.Authenticate)

		pr.Get("/auth/me", meHandler(cfg.Directory))

		pr.Route("/patients", func(pt chi.Router) {
			pt.Use(auth.RequireRole(auth.RolePatient))
			pt.Get("/profile", getPatientProfileHandler(cfg.Directory))
			pt.Patch("/profile", updatePatientProfileHandler(cfg.Directory))
			pt.Get("/dashboard", patientDashboardHandler(cfg.Coordinator))
		})

		pr.Post("/ai/suggest", suggestHandler(cfg.Suggester))

		pr.With(auth.RequireRole(auth.RoleHospital)).
			Post("/hospitals/{id}/slots", upsertHospitalSlotHandler(cfg.Coordinator))

		pr.With(auth.RequireRole(auth.RolePatient)).
			Post("/appointments", createAppointmentHandler(cfg.Coordinator))
		pr.Get("/appointments", listAppointmentsHandler(cfg.Coordinator))
		pr.Get("/appointments/{id}", getAppointmentHandler(cfg.Coordinator))
		pr.Patch("/appointments/{id}", patchAppointmentHandler(cfg.Coordinator))
		pr.Delete("/appointments/{id}", deleteAppointmentHandler(cfg.Coordinator))
	})

	return r
}
