package notification

import (
	"context"
	"log/slog"
)

// LogSink writes status messages to the structured log. It is the fallback
// when no Kafka brokers are configured and doubles as a development sink.
type LogSink struct {
	log *slog.Logger
}

func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Send(_ context.Context, msg StatusMessage) error {
	s.log.Info("permission status changed",
		"permission_id", msg.PermissionID,
		"connection_id", msg.ConnectionID,
		"data_need_id", msg.DataNeedID,
		"status", string(msg.Status),
		"message", msg.Message,
	)
	return nil
}
