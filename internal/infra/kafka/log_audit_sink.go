package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hoale240803/kaopiz-sub000/internal/core/domain"
	"github.com/hoale240803/kaopiz-sub000/internal/core/port"
)

// LogAuditSink logs audit events instead of sending them to Kafka. Useful for development environments.
type LogAuditSink struct {
	logger *zap.Logger
}

// NewLogAuditSink constructs a development-friendly audit sink.
func NewLogAuditSink(logger *zap.Logger) *LogAuditSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogAuditSink{logger: logger}
}

// Record writes the event as a structured log line.
func (s *LogAuditSink) Record(_ context.Context, event domain.AuditEvent) error {
	at := event.OccurredAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("user_id", event.UserID),
		zap.String("ip", event.IP),
		zap.Time("timestamp", at.UTC()),
	}
	if event.Reason != "" {
		fields = append(fields, zap.String("reason", event.Reason))
	}
	if len(event.Metadata) > 0 {
		fields = append(fields, zap.Any("metadata", event.Metadata))
	}

	s.logger.Info("audit event", fields...)
	return nil
}

var _ port.AuditSink = (*LogAuditSink)(nil)
