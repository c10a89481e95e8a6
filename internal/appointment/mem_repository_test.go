package appointment

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waiting(t *testing.T, repo *MemRepository, name string, prio Priority, createdAt time.Time) *Appointment {
	t.Helper()
	a, err := repo.Create(context.Background(), &Appointment{
		SubjectID:   42,
		DisplayName: name,
		Priority:    prio,
		CreatedAt:   createdAt,
	})
	require.NoError(t, err)
	return a
}

func TestMemRepository_CreateForcesWaitingState(t *testing.T) {
	repo := NewMemRepository()
	room := "9"
	ends := time.Now()

	a, err := repo.Create(context.Background(), &Appointment{
		SubjectID:     1,
		DisplayName:   "x",
		RoomID:        &room,
		State:         StateActive,
		ServiceEndsAt: &ends,
		Priority:      PriorityLow,
		CreatedAt:     time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, StateWaiting, a.State)
	assert.Nil(t, a.RoomID)
	assert.Nil(t, a.ServiceEndsAt)
}

func TestMemRepository_FindWaitingOrdering(t *testing.T) {
	repo := NewMemRepository()
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	low := waiting(t, repo, "low-first", PriorityLow, t0)
	high := waiting(t, repo, "high-last", PriorityHigh, t0.Add(2*time.Second))
	medOld := waiting(t, repo, "med-old", PriorityMedium, t0.Add(time.Second))
	medNew := waiting(t, repo, "med-new", PriorityMedium, t0.Add(3*time.Second))

	got, err := repo.FindWaiting(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, high.ID, got[0].ID, "high priority wins regardless of arrival order")
	assert.Equal(t, medOld.ID, got[1].ID, "older medium beats newer medium")
	assert.Equal(t, medNew.ID, got[2].ID)
	assert.Equal(t, low.ID, got[3].ID)
}

func TestMemRepository_AssignRoomGuard(t *testing.T) {
	repo := NewMemRepository()
	a := waiting(t, repo, "guarded", PriorityMedium, time.Now())
	ends := time.Now().Add(10 * time.Second)

	active, err := repo.AssignRoom(context.Background(), a.ID, "1", ends)
	require.NoError(t, err)
	assert.Equal(t, StateActive, active.State)
	require.NotNil(t, active.RoomID)
	assert.Equal(t, "1", *active.RoomID)
	require.NotNil(t, active.ServiceEndsAt)

	// Second attempt races against an already-active record and loses.
	_, err = repo.AssignRoom(context.Background(), a.ID, "2", ends)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestMemRepository_AssignRoomConcurrentRace(t *testing.T) {
	repo := NewMemRepository()
	a := waiting(t, repo, "raced", PriorityMedium, time.Now())
	ends := time.Now().Add(10 * time.Second)

	const attempts = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(room string) {
			defer wg.Done()
			if _, err := repo.AssignRoom(context.Background(), a.ID, room, ends); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(strconv.Itoa(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one conditional update may succeed")
}

func TestMemRepository_CompleteExpiredRetainsRoom(t *testing.T) {
	repo := NewMemRepository()
	now := time.Now()

	a := waiting(t, repo, "expiring", PriorityMedium, now.Add(-time.Minute))
	_, err := repo.AssignRoom(context.Background(), a.ID, "4", now.Add(-time.Millisecond))
	require.NoError(t, err)

	still := waiting(t, repo, "not-expiring", PriorityMedium, now)
	_, err = repo.AssignRoom(context.Background(), still.ID, "5", now.Add(time.Hour))
	require.NoError(t, err)

	completed, err := repo.CompleteExpired(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, completed, 1)

	assert.Equal(t, a.ID, completed[0].ID)
	assert.Equal(t, StateCompleted, completed[0].State)
	require.NotNil(t, completed[0].RoomID, "room kept as historical record")
	assert.Equal(t, "4", *completed[0].RoomID)
	require.NotNil(t, completed[0].ServiceEndsAt)

	occupied, err := repo.OccupiedRooms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"5"}, occupied)
}

func TestMemRepository_FindBySubject(t *testing.T) {
	repo := NewMemRepository()
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	older, err := repo.Create(context.Background(), &Appointment{SubjectID: 7, DisplayName: "a", Priority: PriorityMedium, CreatedAt: t0})
	require.NoError(t, err)
	newer, err := repo.Create(context.Background(), &Appointment{SubjectID: 7, DisplayName: "b", Priority: PriorityMedium, CreatedAt: t0.Add(time.Minute)})
	require.NoError(t, err)
	_, err = repo.Create(context.Background(), &Appointment{SubjectID: 8, DisplayName: "c", Priority: PriorityMedium, CreatedAt: t0})
	require.NoError(t, err)

	got, err := repo.FindBySubject(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID, "most recent first")
	assert.Equal(t, older.ID, got[1].ID)
}
