// Package notify holds the subject-facing notification boundary. The only
// implementation today logs the message; a push/email/SMS sender can replace
// it behind the same interface.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

type Notifier interface {
	Notify(ctx context.Context, subjectID int64, roomID *string) error
}

type LogNotifier struct {
	logger zerolog.Logger
}

func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, subjectID int64, roomID *string) error {
	msg := "your request is registered and waiting for a room"
	if roomID != nil {
		msg = "you have been assigned room " + *roomID
	}
	n.logger.Info().Int64("subject_id", subjectID).Msg(msg)
	return nil
}
