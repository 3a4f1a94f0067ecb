package lark

import (
	"context"

	"go.uber.org/zap"

	"github.com/garyjia/printshop-workflow/internal/application/port"
)

// LogAlertSender writes alerts to the log when no Lark chat is configured
type LogAlertSender struct {
	logger *zap.Logger
}

// NewLogAlertSender creates a log-only alert sender
func NewLogAlertSender(logger *zap.Logger) *LogAlertSender {
	return &LogAlertSender{logger: logger}
}

func (s *LogAlertSender) SendAlert(ctx context.Context, alert port.Alert) error {
	fields := []zap.Field{
		zap.String("title", alert.Title),
		zap.String("severity", alert.Severity),
		zap.String("message", alert.Message),
	}
	for k, v := range alert.Fields {
		fields = append(fields, zap.String(k, v))
	}
	s.logger.Warn("Operator alert (lark disabled)", fields...)
	return nil
}

var _ port.AlertSender = (*LogAlertSender)(nil)
