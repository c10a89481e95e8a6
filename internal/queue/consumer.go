// Package queue implements the at-least-once message boundary on Redis
// Streams (consumer groups, manual ack, one in-flight message per consumer)
// plus the fire-and-forget pub/sub channel used for state-change events.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Decision is the explicit outcome a handler returns for a delivered message.
type Decision int

const (
	// Ack confirms the message was fully processed.
	Ack Decision = iota
	// Requeue leaves the message pending so it is redelivered after
	// ClaimMinIdle. Used for transient failures.
	Requeue
	// Drop acknowledges the message but copies it to the dead-letter stream.
	// Used for poison messages that can never succeed.
	Drop
)

type Message struct {
	ID   string
	Body []byte
}

// Handler processes one message and returns an ack/nack decision. It must
// not panic; errors are expressed through the returned Decision.
type Handler func(ctx context.Context, msg Message) Decision

const bodyField = "body"

type ConsumerConfig struct {
	Stream       string
	Group        string
	DeadStream   string
	ClaimMinIdle time.Duration
	BlockTimeout time.Duration
}

// Consumer drains a stream through a consumer group, one message at a time.
// Un-acked messages left pending (crash or Requeue) are reclaimed once their
// idle time exceeds ClaimMinIdle, which is the redelivery mechanism.
type Consumer struct {
	rdb    *redis.Client
	cfg    ConsumerConfig
	name   string
	logger zerolog.Logger
}

func NewConsumer(rdb *redis.Client, cfg ConsumerConfig, logger zerolog.Logger) *Consumer {
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	return &Consumer{
		rdb:    rdb,
		cfg:    cfg,
		name:   "consumer-" + uuid.NewString(),
		logger: logger.With().Str("stream", cfg.Stream).Str("group", cfg.Group).Logger(),
	}
}

// Run blocks until ctx is cancelled, delivering messages to handler with at
// most one in flight.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	c.logger.Info().Str("consumer", c.name).Msg("consumer started")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		msg, ok, err := c.next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.logger.Error().Err(err).Msg("read failed, backing off")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}
		if !ok {
			continue
		}

		c.apply(ctx, msg, handler(ctx, msg))
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.rdb.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

// next returns the next deliverable message: a reclaimed pending entry if
// one has been idle long enough, otherwise a fresh read with Count=1.
func (c *Consumer) next(ctx context.Context) (Message, bool, error) {
	if c.cfg.ClaimMinIdle > 0 {
		claimed, _, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   c.cfg.Stream,
			Group:    c.cfg.Group,
			Consumer: c.name,
			MinIdle:  c.cfg.ClaimMinIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return Message{}, false, err
		}
		if len(claimed) > 0 {
			return toMessage(claimed[0]), true, nil
		}
	}

	streams, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.name,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    1,
		Block:    c.cfg.BlockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Message{}, false, nil
		}
		return Message{}, false, err
	}

	for _, s := range streams {
		for _, m := range s.Messages {
			return toMessage(m), true, nil
		}
	}
	return Message{}, false, nil
}

func (c *Consumer) apply(ctx context.Context, msg Message, decision Decision) {
	switch decision {
	case Ack:
		if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
			c.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("ack failed")
		}
	case Drop:
		if c.cfg.DeadStream != "" {
			err := c.rdb.XAdd(ctx, &redis.XAddArgs{
				Stream: c.cfg.DeadStream,
				Values: map[string]interface{}{bodyField: msg.Body, "origin_id": msg.ID},
			}).Err()
			if err != nil {
				c.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("dead-letter write failed")
			}
		}
		if err := c.rdb.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
			c.logger.Error().Err(err).Str("msg_id", msg.ID).Msg("ack failed for dropped message")
		}
	case Requeue:
		// Deliberately no ack: the entry stays pending and is reclaimed
		// once it has been idle for ClaimMinIdle.
		c.logger.Warn().Str("msg_id", msg.ID).Msg("message left for redelivery")
	}
}

func toMessage(m redis.XMessage) Message {
	var body []byte
	if v, ok := m.Values[bodyField]; ok {
		if s, ok := v.(string); ok {
			body = []byte(s)
		}
	}
	return Message{ID: m.ID, Body: body}
}

// Publisher appends creation messages to the intake stream.
type Publisher struct {
	rdb    *redis.Client
	stream string
}

func NewPublisher(rdb *redis.Client, stream string) *Publisher {
	return &Publisher{rdb: rdb, stream: stream}
}

func (p *Publisher) Enqueue(ctx context.Context, body []byte) error {
	err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{bodyField: body},
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue creation message: %w", err)
	}
	return nil
}
