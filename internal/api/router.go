package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medflow/roomqueue/internal/appointment"
	"github.com/medflow/roomqueue/internal/fanout"
)

type RouterConfig struct {
	Repo      appointment.Repository
	Intake    IntakePublisher
	Websocket *fanout.Handler
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Logger    zerolog.Logger
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Appointment endpoints
	r.Post("/appointments", createAppointmentHandler(cfg.Intake))
	r.Get("/appointments", listAppointmentsHandler(cfg.Repo))
	r.Get("/appointments/subject/{subjectId}", listBySubjectHandler(cfg.Repo))

	// Real-time subscribers
	r.Get("/ws", cfg.Websocket.HandleConnect)

	return r
}
