package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrAppointmentNotFound = errors.New("appointment not found")

// Repository contains all store interactions needed by the intake consumer,
// the allocation scheduler and the gateway. The store is the sole source of
// truth; AssignRoom and CompleteExpired are conditional updates that only
// apply while the record is still in the expected state, which is the
// race-free primitive the scheduler relies on across instances.
type Repository interface {
	Create(ctx context.Context, a *Appointment) (*Appointment, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	FindAll(ctx context.Context) ([]Appointment, error)
	FindBySubject(ctx context.Context, subjectID int64) ([]Appointment, error)

	// FindWaiting returns waiting appointments ordered by priority rank
	// (high first) then creation time (oldest first).
	FindWaiting(ctx context.Context) ([]Appointment, error)

	// OccupiedRooms returns the room IDs currently held by active appointments.
	OccupiedRooms(ctx context.Context) ([]string, error)

	// AssignRoom moves a waiting appointment to active, setting the room and
	// service deadline, only if it is still waiting. Returns
	// ErrAppointmentNotFound when another actor already transitioned it.
	AssignRoom(ctx context.Context, id uuid.UUID, roomID string, serviceEndsAt time.Time) (*Appointment, error)

	// CompleteExpired transitions every active appointment whose service
	// deadline has passed to completed and returns the transitioned rows.
	// Room and deadline are retained on the completed record.
	CompleteExpired(ctx context.Context, now time.Time) ([]Appointment, error)
}
