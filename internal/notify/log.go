package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier writes events to the structured log.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(log *zap.Logger) *LogNotifier {
	return &LogNotifier{log: log.Named("notify")}
}

func (n *LogNotifier) Notify(_ context.Context, e Event) error {
	fields := []zap.Field{
		zap.String("type", string(e.Type)),
		zap.String("user", e.UserID),
		zap.String("title", e.Title),
		zap.String("message", e.Message),
	}
	if e.ActorID != "" {
		fields = append(fields, zap.String("actor", e.ActorID))
	}
	if e.TargetID != "" {
		fields = append(fields, zap.String("target", e.TargetID))
	}
	if e.Type == EventError {
		fields = append(fields, zap.String("code", string(e.Code)), zap.Bool("retryable", e.Retryable))
		n.log.Warn("notification", fields...)
		return nil
	}
	n.log.Info("notification", fields...)
	return nil
}
