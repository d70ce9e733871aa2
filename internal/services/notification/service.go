package notification

import (
	"context"

	"go.uber.org/zap"
)

// Message is a notice to a user, such as a verification code.
type Message struct {
	UserID uint
	To     string
	Kind   string
	Body   string
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes messages to the log. It stands in for an SMS or email
// gateway in development.
type LogSender struct {
	log *zap.Logger
}

func NewLogSender(log *zap.Logger) *LogSender { return &LogSender{log: log} }

func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.log.Info("notify user",
		zap.Uint("user_id", msg.UserID),
		zap.String("to", msg.To),
		zap.String("kind", msg.Kind))
	return nil
}
