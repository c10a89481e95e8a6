package fanout

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/medflow/roomqueue/internal/queue"
)

// Bridge feeds events from the queue's event channel into the hub.
type Bridge struct {
	sub    *queue.EventSubscriber
	hub    *Hub
	logger zerolog.Logger
}

func NewBridge(sub *queue.EventSubscriber, hub *Hub, logger zerolog.Logger) *Bridge {
	return &Bridge{sub: sub, hub: hub, logger: logger}
}

// Run blocks until ctx is cancelled, broadcasting each event as a delta
// frame. Created and updated events look the same to subscribers.
func (b *Bridge) Run(ctx context.Context) error {
	return b.sub.Run(ctx, func(env queue.EventEnvelope) {
		b.logger.Debug().
			Str("event", env.Event).
			Str("appointment_id", env.Data.ID).
			Str("state", string(env.Data.State)).
			Msg("broadcasting event")
		b.hub.BroadcastAll(DeltaMessage{Type: MessageUpdated, Data: env.Data})
	})
}
