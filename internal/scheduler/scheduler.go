// Package scheduler runs the periodic room reconciliation: complete expired
// grants, compute the free pool, and assign the next waiting appointment
// through a state-guarded conditional update.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/medflow/roomqueue/internal/appointment"
	"github.com/medflow/roomqueue/internal/queue"
)

type Config struct {
	TotalRooms   int
	TickInterval time.Duration
	ServiceMin   time.Duration
	ServiceMax   time.Duration
}

type Scheduler struct {
	repo   appointment.Repository
	events queue.EventPublisher
	cfg    Config
	logger zerolog.Logger
	rooms  []string
	now    func() time.Time
	rng    *rand.Rand
}

func New(repo appointment.Repository, events queue.EventPublisher, cfg Config, logger zerolog.Logger) *Scheduler {
	rooms := make([]string, cfg.TotalRooms)
	for i := range rooms {
		rooms[i] = strconv.Itoa(i + 1)
	}

	return &Scheduler{
		repo:   repo,
		events: events,
		cfg:    cfg,
		logger: logger,
		rooms:  rooms,
		now:    time.Now,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Run executes one tick immediately, then one per interval until ctx is
// cancelled. A failed tick is logged and abandoned; the next tick starts
// from store state, so nothing is retried inline.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info().
		Int("total_rooms", s.cfg.TotalRooms).
		Dur("interval", s.cfg.TickInterval).
		Msg("allocation scheduler started")

	s.tickSafe(ctx)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("allocation scheduler stopped")
			return
		case <-ticker.C:
			s.tickSafe(ctx)
		}
	}
}

func (s *Scheduler) tickSafe(ctx context.Context) {
	if err := s.Tick(ctx); err != nil {
		s.logger.Error().Err(err).Msg("tick failed")
	}
}

// Tick performs one reconciliation pass. Exactly one assignment is made per
// tick; rooms freed by expiry in the same pass are immediately assignable.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()

	expired, err := s.repo.CompleteExpired(ctx, now)
	if err != nil {
		return fmt.Errorf("complete expired grants: %w", err)
	}
	for i := range expired {
		a := &expired[i]
		s.logger.Info().
			Str("appointment_id", a.ID.String()).
			Str("room", deref(a.RoomID)).
			Msg("service ended, room released")
		s.publishUpdated(ctx, a)
	}

	occupied, err := s.repo.OccupiedRooms(ctx)
	if err != nil {
		return fmt.Errorf("load occupied rooms: %w", err)
	}

	free := s.freeRooms(occupied)
	if len(free) == 0 {
		return nil
	}

	waiting, err := s.repo.FindWaiting(ctx)
	if err != nil {
		return fmt.Errorf("load waiting appointments: %w", err)
	}
	if len(waiting) == 0 {
		return nil
	}

	candidate := waiting[0]
	room := free[0]
	endsAt := now.Add(s.serviceDuration())

	assigned, err := s.repo.AssignRoom(ctx, candidate.ID, room, endsAt)
	if err != nil {
		if errors.Is(err, appointment.ErrAppointmentNotFound) {
			// Another scheduler instance won the conditional update.
			// Nothing to do; the next tick re-evaluates.
			s.logger.Debug().
				Str("appointment_id", candidate.ID.String()).
				Msg("assignment raced, skipping")
			return nil
		}
		return fmt.Errorf("assign room %s: %w", room, err)
	}

	s.logger.Info().
		Str("appointment_id", assigned.ID.String()).
		Int64("subject_id", assigned.SubjectID).
		Str("room", room).
		Time("service_ends_at", endsAt).
		Msg("room assigned")

	s.publishUpdated(ctx, assigned)
	return nil
}

func (s *Scheduler) freeRooms(occupied []string) []string {
	taken := make(map[string]struct{}, len(occupied))
	for _, r := range occupied {
		taken[r] = struct{}{}
	}

	var free []string
	for _, r := range s.rooms {
		if _, ok := taken[r]; !ok {
			free = append(free, r)
		}
	}
	return free
}

func (s *Scheduler) serviceDuration() time.Duration {
	if s.cfg.ServiceMax <= s.cfg.ServiceMin {
		return s.cfg.ServiceMin
	}
	return s.cfg.ServiceMin + time.Duration(s.rng.Int63n(int64(s.cfg.ServiceMax-s.cfg.ServiceMin)))
}

func (s *Scheduler) publishUpdated(ctx context.Context, a *appointment.Appointment) {
	if err := s.events.PublishEvent(ctx, queue.EventAppointmentUpdated, appointment.ToEventPayload(a)); err != nil {
		s.logger.Error().Err(err).Str("appointment_id", a.ID.String()).Msg("updated event lost")
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
