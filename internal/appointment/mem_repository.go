package appointment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepository is an in-memory Repository with the same conditional-update
// semantics as the Postgres implementation. It backs unit tests and local
// runs without a database.
type MemRepository struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Appointment
}

func NewMemRepository() *MemRepository {
	return &MemRepository{items: make(map[uuid.UUID]*Appointment)}
}

func cloned(a *Appointment) *Appointment {
	c := *a
	if a.RoomID != nil {
		room := *a.RoomID
		c.RoomID = &room
	}
	if a.ServiceEndsAt != nil {
		ends := *a.ServiceEndsAt
		c.ServiceEndsAt = &ends
	}
	return &c
}

func (r *MemRepository) Create(_ context.Context, a *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := cloned(a)
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.State = StateWaiting
	c.RoomID = nil
	c.ServiceEndsAt = nil

	r.items[c.ID] = c
	return cloned(c), nil
}

func (r *MemRepository) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return cloned(a), nil
}

func (r *MemRepository) FindAll(_ context.Context) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := make([]Appointment, 0, len(r.items))
	for _, a := range r.items {
		result = append(result, *cloned(a))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemRepository) FindBySubject(_ context.Context, subjectID int64) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Appointment
	for _, a := range r.items {
		if a.SubjectID == subjectID {
			result = append(result, *cloned(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemRepository) FindWaiting(_ context.Context) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Appointment
	for _, a := range r.items {
		if a.State == StateWaiting {
			result = append(result, *cloned(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		ri, rj := result[i].Priority.Rank(), result[j].Priority.Rank()
		if ri != rj {
			return ri < rj
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

func (r *MemRepository) OccupiedRooms(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var occupied []string
	for _, a := range r.items {
		if a.State == StateActive && a.RoomID != nil {
			occupied = append(occupied, *a.RoomID)
		}
	}
	sort.Strings(occupied)
	return occupied, nil
}

func (r *MemRepository) AssignRoom(_ context.Context, id uuid.UUID, roomID string, serviceEndsAt time.Time) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.items[id]
	if !ok || a.State != StateWaiting {
		return nil, ErrAppointmentNotFound
	}

	room := roomID
	ends := serviceEndsAt
	a.RoomID = &room
	a.State = StateActive
	a.ServiceEndsAt = &ends

	return cloned(a), nil
}

func (r *MemRepository) CompleteExpired(_ context.Context, now time.Time) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Appointment
	for _, a := range r.items {
		if a.State == StateActive && a.ServiceEndsAt != nil && !a.ServiceEndsAt.After(now) {
			a.State = StateCompleted
			result = append(result, *cloned(a))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
