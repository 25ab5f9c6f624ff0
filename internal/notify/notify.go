// Package notify delivers transactional email. Delivery is best effort: a
// failed send is logged and never changes the outcome of the operation that
// triggered it.
package notify

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Email struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text,omitempty"`
	ReplyTo string `json:"reply_to,omitempty"`
}

type Result struct {
	Success   bool
	MessageID string
	Error     string
}

// Sender hands an email to a delivery backend.
type Sender interface {
	Send(ctx context.Context, email Email) Result
}

// LogSender writes emails to the log instead of delivering them. Used in local
// development where no mailer is running.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.L()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, email Email) Result {
	id := uuid.NewString()
	s.logger.Info("email",
		zap.String("message_id", id),
		zap.String("to", email.To),
		zap.String("subject", email.Subject),
		zap.String("text", email.Text),
	)
	return Result{Success: true, MessageID: id}
}
