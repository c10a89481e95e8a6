package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medflow/roomqueue/internal/appointment"
	"github.com/medflow/roomqueue/internal/queue"
)

type eventRecorder struct {
	mu     sync.Mutex
	events []queue.EventEnvelope
	fail   error
}

func (r *eventRecorder) PublishEvent(_ context.Context, event string, payload appointment.EventPayload) error {
	if r.fail != nil {
		return r.fail
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, queue.EventEnvelope{Event: event, Data: payload})
	return nil
}

func (r *eventRecorder) updated() []queue.EventEnvelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]queue.EventEnvelope, len(r.events))
	copy(out, r.events)
	return out
}

func newTestScheduler(t *testing.T, repo appointment.Repository, rooms int, now time.Time) (*Scheduler, *eventRecorder) {
	t.Helper()
	rec := &eventRecorder{}
	s := New(repo, rec, Config{
		TotalRooms:   rooms,
		TickInterval: time.Second,
		ServiceMin:   10 * time.Second,
		ServiceMax:   10 * time.Second,
	}, zerolog.Nop())
	s.now = func() time.Time { return now }
	return s, rec
}

func addWaiting(t *testing.T, repo *appointment.MemRepository, name string, prio appointment.Priority, createdAt time.Time) *appointment.Appointment {
	t.Helper()
	a, err := repo.Create(context.Background(), &appointment.Appointment{
		SubjectID:   99,
		DisplayName: name,
		Priority:    prio,
		CreatedAt:   createdAt,
	})
	require.NoError(t, err)
	return a
}

// checkInvariants asserts that room and deadline are set exactly while active.
func checkInvariants(t *testing.T, repo appointment.Repository) {
	t.Helper()
	all, err := repo.FindAll(context.Background())
	require.NoError(t, err)

	rooms := map[string]int{}
	for _, a := range all {
		if a.State == appointment.StateActive {
			require.NotNil(t, a.RoomID, "%s active without room", a.DisplayName)
			require.NotNil(t, a.ServiceEndsAt, "%s active without deadline", a.DisplayName)
			rooms[*a.RoomID]++
		}
		if a.State == appointment.StateWaiting {
			require.Nil(t, a.RoomID, "%s waiting with room", a.DisplayName)
			require.Nil(t, a.ServiceEndsAt, "%s waiting with deadline", a.DisplayName)
		}
	}
	for room, n := range rooms {
		require.Equal(t, 1, n, "room %s held by %d active appointments", room, n)
	}
}

func TestTick_SelectsHighestPriorityRegardlessOfArrival(t *testing.T) {
	repo := appointment.NewMemRepository()
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	addWaiting(t, repo, "low", appointment.PriorityLow, t0)
	high := addWaiting(t, repo, "high", appointment.PriorityHigh, t0.Add(time.Second))
	addWaiting(t, repo, "medium", appointment.PriorityMedium, t0.Add(2*time.Second))

	s, rec := newTestScheduler(t, repo, 5, t0.Add(time.Minute))
	require.NoError(t, s.Tick(context.Background()))

	got, err := repo.GetByID(context.Background(), high.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StateActive, got.State)
	require.NotNil(t, got.RoomID)
	assert.Equal(t, "1", *got.RoomID, "lowest-numbered free room first")

	events := rec.updated()
	require.Len(t, events, 1, "one assignment per tick")
	assert.Equal(t, queue.EventAppointmentUpdated, events[0].Event)
	assert.Equal(t, high.ID.String(), events[0].Data.ID)

	checkInvariants(t, repo)
}

func TestTick_TieBreaksOnCreationTime(t *testing.T) {
	repo := appointment.NewMemRepository()
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	older := addWaiting(t, repo, "older", appointment.PriorityMedium, t0)
	addWaiting(t, repo, "newer", appointment.PriorityMedium, t0.Add(time.Second))

	s, _ := newTestScheduler(t, repo, 5, t0.Add(time.Minute))
	require.NoError(t, s.Tick(context.Background()))

	got, err := repo.GetByID(context.Background(), older.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StateActive, got.State)
}

func TestTick_NoFreeRoomsMakesNoAssignment(t *testing.T) {
	repo := appointment.NewMemRepository()
	now := time.Now()

	holder := addWaiting(t, repo, "holder", appointment.PriorityMedium, now.Add(-time.Minute))
	_, err := repo.AssignRoom(context.Background(), holder.ID, "1", now.Add(time.Hour))
	require.NoError(t, err)

	addWaiting(t, repo, "stuck", appointment.PriorityHigh, now)

	s, rec := newTestScheduler(t, repo, 1, now)
	require.NoError(t, s.Tick(context.Background()))

	waiting, err := repo.FindWaiting(context.Background())
	require.NoError(t, err)
	assert.Len(t, waiting, 1, "nothing assigned while the pool is exhausted")
	assert.Empty(t, rec.updated())
}

func TestTick_ExpiredRoomIsAssignableSameTick(t *testing.T) {
	repo := appointment.NewMemRepository()
	now := time.Now()

	expiring := addWaiting(t, repo, "expiring", appointment.PriorityMedium, now.Add(-2*time.Minute))
	_, err := repo.AssignRoom(context.Background(), expiring.ID, "1", now.Add(-time.Millisecond))
	require.NoError(t, err)

	next := addWaiting(t, repo, "next", appointment.PriorityMedium, now.Add(-time.Minute))

	s, rec := newTestScheduler(t, repo, 1, now)
	require.NoError(t, s.Tick(context.Background()))

	done, err := repo.GetByID(context.Background(), expiring.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StateCompleted, done.State)
	require.NotNil(t, done.RoomID, "completed record keeps its room")

	got, err := repo.GetByID(context.Background(), next.ID)
	require.NoError(t, err)
	assert.Equal(t, appointment.StateActive, got.State)
	require.NotNil(t, got.RoomID)
	assert.Equal(t, "1", *got.RoomID, "room freed this tick is reused this tick")

	events := rec.updated()
	require.Len(t, events, 2)
	assert.Equal(t, expiring.ID.String(), events[0].Data.ID)
	assert.Equal(t, appointment.StateCompleted, events[0].Data.State)
	assert.Equal(t, next.ID.String(), events[1].Data.ID)
	assert.Equal(t, appointment.StateActive, events[1].Data.State)

	checkInvariants(t, repo)
}

func TestTick_ExactlyMAssignmentsForMRooms(t *testing.T) {
	repo := appointment.NewMemRepository()
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	high := addWaiting(t, repo, "high", appointment.PriorityHigh, t0.Add(4*time.Second))
	medOld := addWaiting(t, repo, "med-old", appointment.PriorityMedium, t0)
	addWaiting(t, repo, "med-new", appointment.PriorityMedium, t0.Add(time.Second))
	addWaiting(t, repo, "low-1", appointment.PriorityLow, t0.Add(2*time.Second))
	addWaiting(t, repo, "low-2", appointment.PriorityLow, t0.Add(3*time.Second))

	const rooms = 2
	s, rec := newTestScheduler(t, repo, rooms, t0.Add(time.Minute))

	// One assignment per tick: after M ticks the pool is saturated and
	// further ticks are no-ops.
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Tick(context.Background()))
	}

	occupied, err := repo.OccupiedRooms(context.Background())
	require.NoError(t, err)
	assert.Len(t, occupied, rooms)
	assert.Len(t, rec.updated(), rooms)

	for _, id := range []string{high.ID.String(), medOld.ID.String()} {
		found := false
		for _, ev := range rec.updated() {
			if ev.Data.ID == id {
				found = true
			}
		}
		assert.True(t, found, "expected %s among assignments", id)
	}

	checkInvariants(t, repo)
}

// raceLossRepo simulates another scheduler instance winning the conditional
// update between candidate selection and assignment.
type raceLossRepo struct {
	appointment.Repository
}

func (r *raceLossRepo) AssignRoom(context.Context, uuid.UUID, string, time.Time) (*appointment.Appointment, error) {
	return nil, appointment.ErrAppointmentNotFound
}

func TestTick_RaceLossIsSilentNoOp(t *testing.T) {
	mem := appointment.NewMemRepository()
	now := time.Now()
	addWaiting(t, mem, "contended", appointment.PriorityMedium, now)

	s, rec := newTestScheduler(t, &raceLossRepo{Repository: mem}, 5, now)

	require.NoError(t, s.Tick(context.Background()), "losing the race is not an error")
	assert.Empty(t, rec.updated(), "no event for the losing attempt")
}

type failingRepo struct {
	appointment.Repository
}

func (r *failingRepo) CompleteExpired(context.Context, time.Time) ([]appointment.Appointment, error) {
	return nil, errors.New("store unreachable")
}

func TestTick_StoreErrorSurfacesWithoutPanic(t *testing.T) {
	s, rec := newTestScheduler(t, &failingRepo{Repository: appointment.NewMemRepository()}, 5, time.Now())

	err := s.Tick(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unreachable")
	assert.Empty(t, rec.updated())
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	repo := appointment.NewMemRepository()
	s, _ := newTestScheduler(t, repo, 1, time.Now())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancellation")
	}
}
