// Package intake turns creation messages from the queue into durable
// waiting appointments, with explicit ack/nack decisions per outcome.
package intake

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/medflow/roomqueue/internal/appointment"
	"github.com/medflow/roomqueue/internal/notify"
	"github.com/medflow/roomqueue/internal/queue"
)

var (
	ErrInvalidSubjectID   = errors.New("subjectId must be a positive number")
	ErrInvalidDisplayName = errors.New("displayName must be a non-empty string")
	ErrInvalidPriority    = errors.New("priority must be one of high, medium, low")
)

// CreationMessage is the inbound contract on the intake stream.
type CreationMessage struct {
	SubjectID   int64                `json:"subjectId"`
	DisplayName string               `json:"displayName"`
	Priority    appointment.Priority `json:"priority,omitempty"`
}

// Consumer processes one creation message at a time: validate, persist in
// waiting state, notify, emit the created event, then ack.
type Consumer struct {
	repo     appointment.Repository
	events   queue.EventPublisher
	notifier notify.Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewConsumer(repo appointment.Repository, events queue.EventPublisher, notifier notify.Notifier, logger zerolog.Logger) *Consumer {
	return &Consumer{
		repo:     repo,
		events:   events,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle decides the fate of one delivered message.
//
// Validation failures are permanent: the payload can never become valid, so
// the message is dropped (dead-lettered) instead of looping forever through
// redelivery. Store failures are transient and requeue the message.
//
// If the store write succeeds but event emission fails, the message is still
// acked: the record is durable and a missed event is repaired by the next
// subscriber snapshot. Re-processing would instead create a duplicate row.
func (c *Consumer) Handle(ctx context.Context, msg queue.Message) queue.Decision {
	req, err := decodeCreation(msg.Body)
	if err != nil {
		c.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("rejecting invalid creation message")
		return queue.Drop
	}

	appt, err := c.repo.Create(ctx, &appointment.Appointment{
		SubjectID:   req.SubjectID,
		DisplayName: req.DisplayName,
		State:       appointment.StateWaiting,
		Priority:    req.Priority,
		CreatedAt:   c.now(),
	})
	if err != nil {
		c.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("store write failed, requeueing")
		return queue.Requeue
	}

	c.logger.Info().
		Str("appointment_id", appt.ID.String()).
		Int64("subject_id", appt.SubjectID).
		Str("priority", string(appt.Priority)).
		Msg("appointment created, waiting for a room")

	if err := c.notifier.Notify(ctx, appt.SubjectID, appt.RoomID); err != nil {
		c.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("notification failed")
	}

	if err := c.events.PublishEvent(ctx, queue.EventAppointmentCreated, appointment.ToEventPayload(appt)); err != nil {
		c.logger.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("created event lost")
	}

	return queue.Ack
}

func decodeCreation(body []byte) (CreationMessage, error) {
	var req CreationMessage

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return CreationMessage{}, err
	}

	if req.SubjectID <= 0 {
		return CreationMessage{}, ErrInvalidSubjectID
	}
	if strings.TrimSpace(req.DisplayName) == "" {
		return CreationMessage{}, ErrInvalidDisplayName
	}
	if req.Priority == "" {
		req.Priority = appointment.PriorityMedium
	}
	if !req.Priority.Valid() {
		return CreationMessage{}, ErrInvalidPriority
	}

	return req, nil
}
