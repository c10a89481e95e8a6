package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/medflow/roomqueue/internal/appointment"
	"github.com/medflow/roomqueue/internal/config"
	"github.com/medflow/roomqueue/internal/db"
	"github.com/medflow/roomqueue/internal/intake"
	"github.com/medflow/roomqueue/internal/notify"
	"github.com/medflow/roomqueue/internal/queue"
	"github.com/medflow/roomqueue/internal/scheduler"
)

func main() {
	logger := zerolog.New(os.Stdout).With().
		Timestamp().
		Str("service", "worker").
		Logger()
	logger.Info().Msg("worker starting up")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	logger.Info().
		Str("env", cfg.Env).
		Int("total_rooms", cfg.TotalRooms).
		Dur("tick_interval", cfg.TickInterval).
		Msg("running")

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
	events := queue.NewRedisEventPublisher(rdb, cfg.EventsChannel)
	notifier := notify.NewLogNotifier(logger)

	intakeConsumer := intake.NewConsumer(repo, events, notifier, logger)
	streamConsumer := queue.NewConsumer(rdb, queue.ConsumerConfig{
		Stream:       cfg.IntakeStream,
		Group:        cfg.IntakeGroup,
		DeadStream:   cfg.IntakeDead,
		ClaimMinIdle: cfg.ClaimMinIdle,
	}, logger)

	sched := scheduler.New(repo, events, scheduler.Config{
		TotalRooms:   cfg.TotalRooms,
		TickInterval: cfg.TickInterval,
		ServiceMin:   cfg.ServiceMin,
		ServiceMax:   cfg.ServiceMax,
	}, logger)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := streamConsumer.Run(rootCtx, intakeConsumer.Handle); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("intake consumer stopped")
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(rootCtx)
	}()

	<-rootCtx.Done()
	logger.Info().Msg("shutdown signal received, stopping worker")
	wg.Wait()
	logger.Info().Msg("worker stopped")
}
