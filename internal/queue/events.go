package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/medflow/roomqueue/internal/appointment"
)

const (
	EventAppointmentCreated = "appointment_created"
	EventAppointmentUpdated = "appointment_updated"
)

// EventEnvelope carries one state transition on the events channel.
type EventEnvelope struct {
	Event string                   `json:"event"`
	Data  appointment.EventPayload `json:"data"`
}

// EventPublisher is implemented by anything that can emit created/updated
// events toward the fanout gateway.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event string, payload appointment.EventPayload) error
}

// RedisEventPublisher publishes events on a pub/sub channel. Delivery is
// fire-and-forget: subscribers that miss an event converge through the
// snapshot they receive on connect.
type RedisEventPublisher struct {
	rdb     *redis.Client
	channel string
}

func NewRedisEventPublisher(rdb *redis.Client, channel string) *RedisEventPublisher {
	return &RedisEventPublisher{rdb: rdb, channel: channel}
}

func (p *RedisEventPublisher) PublishEvent(ctx context.Context, event string, payload appointment.EventPayload) error {
	data, err := json.Marshal(EventEnvelope{Event: event, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event, err)
	}
	if err := p.rdb.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event %s: %w", event, err)
	}
	return nil
}

// EventSubscriber receives event envelopes from the pub/sub channel and
// hands them to a callback.
type EventSubscriber struct {
	rdb     *redis.Client
	channel string
	logger  zerolog.Logger
}

func NewEventSubscriber(rdb *redis.Client, channel string, logger zerolog.Logger) *EventSubscriber {
	return &EventSubscriber{
		rdb:     rdb,
		channel: channel,
		logger:  logger.With().Str("channel", channel).Logger(),
	}
}

// Run blocks until ctx is cancelled, invoking fn for each decodable event.
// Malformed payloads are logged and skipped.
func (s *EventSubscriber) Run(ctx context.Context, fn func(EventEnvelope)) error {
	sub := s.rdb.Subscribe(ctx, s.channel)
	defer sub.Close()

	s.logger.Info().Msg("event subscriber started")

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env EventEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				s.logger.Error().Err(err).Msg("undecodable event payload")
				continue
			}
			fn(env)
		}
	}
}
