package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/medflow/roomqueue/internal/api"
	"github.com/medflow/roomqueue/internal/appointment"
	"github.com/medflow/roomqueue/internal/config"
	"github.com/medflow/roomqueue/internal/db"
	"github.com/medflow/roomqueue/internal/fanout"
	"github.com/medflow/roomqueue/internal/queue"
)

const version = "1.0.0"

func main() {
	logger := newLogger("gateway")
	logger.Info().Msg("gateway starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	logger.Info().Str("env", cfg.Env).Str("http_port", cfg.HTTPPort).Msg("running")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := queue.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	repo := appointment.NewPgRepository(pgPool)
	intakePub := queue.NewPublisher(rdb, cfg.IntakeStream)

	hub := fanout.NewHub(logger)
	wsHandler := fanout.NewHandler(hub, repo, logger)

	subscriber := queue.NewEventSubscriber(rdb, cfg.EventsChannel, logger)
	bridge := fanout.NewBridge(subscriber, hub, logger)
	go func() {
		if err := bridge.Run(rootCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("event bridge stopped")
		}
	}()

	router := api.NewRouter(api.RouterConfig{
		Repo:      repo,
		Intake:    intakePub,
		Websocket: wsHandler,
		PgPool:    pgPool,
		Redis:     rdb,
		Logger:    logger,
		Env:       cfg.Env,
		Version:   version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server error")
		}
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown error")
	}

	logger.Info().Msg("gateway stopped")
}

func newLogger(service string) zerolog.Logger {
	return zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", service).
		Logger()
}
