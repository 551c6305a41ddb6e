package events

import (
	"context"
	"log/slog"
)

// AuditLogHandler writes every auth event as a structured log line.
func AuditLogHandler(logger *slog.Logger) Handler {
	return func(ctx context.Context, event Event) error {
		ae, ok := event.(*AuthEvent)
		if !ok {
			return nil
		}
		level := slog.LevelInfo
		if ae.Outcome != OutcomeSuccess {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "auth event",
			"event_type", ae.Type,
			"event_id", ae.ID,
			"outcome", ae.Outcome,
			"user_id", ae.UserID,
			"email", ae.Email)
		return nil
	}
}
