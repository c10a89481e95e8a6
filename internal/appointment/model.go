package appointment

import (
	"time"

	"github.com/google/uuid"
)

type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
)

type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Rank returns the scheduling rank of a priority, lower is served first.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityMedium:
		return 1
	default:
		return 2
	}
}

func (p Priority) Valid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Appointment is a single service request moving through
// waiting -> active -> completed. RoomID and ServiceEndsAt are set only
// while active and retained after completion as a historical record.
type Appointment struct {
	ID            uuid.UUID
	SubjectID     int64
	DisplayName   string
	RoomID        *string
	State         State
	Priority      Priority
	CreatedAt     time.Time
	ServiceEndsAt *time.Time
}

// EventPayload is the wire projection of an Appointment carried on the
// events channel and pushed to websocket subscribers. Timestamps are epoch
// milliseconds.
type EventPayload struct {
	ID            string   `json:"id"`
	DisplayName   string   `json:"displayName"`
	SubjectID     int64    `json:"subjectId"`
	ResourceID    *string  `json:"resourceId"`
	State         State    `json:"state"`
	Priority      Priority `json:"priority"`
	CreatedAt     int64    `json:"createdAt"`
	ServiceEndsAt *int64   `json:"serviceEndsAt,omitempty"`
}

// ToEventPayload projects an appointment into its event form.
func ToEventPayload(a *Appointment) EventPayload {
	p := EventPayload{
		ID:          a.ID.String(),
		DisplayName: a.DisplayName,
		SubjectID:   a.SubjectID,
		ResourceID:  a.RoomID,
		State:       a.State,
		Priority:    a.Priority,
		CreatedAt:   a.CreatedAt.UnixMilli(),
	}
	if a.ServiceEndsAt != nil {
		ms := a.ServiceEndsAt.UnixMilli()
		p.ServiceEndsAt = &ms
	}
	return p
}
