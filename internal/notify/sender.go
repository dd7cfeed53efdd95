// Package notify renders guest-facing messages, performs sends through
// a transport and records every attempt in the notification ledger.
package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Sender delivers one text message and returns the provider's message
// id, the correlation token inbound replies are matched against.
type Sender interface {
	SendText(ctx context.Context, phoneNumber, text string) (messageID string, err error)
}

// LogSender is the dev-mode transport: it logs instead of sending and
// fabricates message ids so the rest of the pipeline behaves normally.
type LogSender struct {
	log zerolog.Logger
}

func NewLogSender(log zerolog.Logger) *LogSender {
	return &LogSender{log: log.With().Str("component", "log-sender").Logger()}
}

func (s *LogSender) SendText(ctx context.Context, phoneNumber, text string) (string, error) {
	id := "log-" + uuid.NewString()
	s.log.Info().
		Str("phone", phoneNumber).
		Str("message_id", id).
		Str("text", text).
		Msg("Send (dry run)")
	return id, nil
}
