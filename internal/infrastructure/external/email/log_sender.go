package email

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
)

// LogSender writes emails to the log instead of sending them.
// Used when no SMTP host is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender creates a log-only sender
func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg port.EmailMessage) error {
	s.logger.Info("Email (not sent, smtp disabled)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return nil
}

var _ port.EmailSender = (*LogSender)(nil)
