// Package mailer provides the outbound email capability consumed by the
// notification and campaign engines. Implementations are injected at
// construction time; nothing in this repository reaches for a shared
// global transport.
package mailer

import (
	"context"

	"github.com/google/uuid"
	"github.com/ignite/clienthub/internal/pkg/logger"
)

// Message is a single outbound email.
type Message struct {
	To       string
	Subject  string
	Text     string
	HTML     string
	Template string
	Metadata map[string]string
}

// SendResult carries the provider's message id for a successful send.
type SendResult struct {
	MessageID string
}

// Mailer sends a single message, returning an error on any transport
// failure. Retry policy belongs to the caller.
type Mailer interface {
	Send(ctx context.Context, msg *Message) (*SendResult, error)
}

// LogMailer is a development Mailer that logs instead of sending.
type LogMailer struct{}

// Send logs the message with the recipient redacted and reports success.
func (LogMailer) Send(ctx context.Context, msg *Message) (*SendResult, error) {
	logger.Info("mail send (log only)", "recipient", msg.To, "subject", msg.Subject, "template", msg.Template)
	return &SendResult{MessageID: uuid.New().String()}, nil
}
