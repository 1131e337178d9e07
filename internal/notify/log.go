package notify

import (
	"context"
	"log/slog"

	"backend-shuttletrack/internal/tracking"
)

// LogNotifier writes notifications to the log. Used when no broker is configured.
type LogNotifier struct {
	log *slog.Logger
}

func NewLogNotifier(log *slog.Logger) *LogNotifier {
	if log == nil {
		log = slog.Default()
	}
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, msg tracking.Notification) error {
	n.log.InfoContext(ctx, "arrival notification",
		"session_id", msg.SessionID,
		"stop_id", msg.StopID,
		"contact_ref", msg.ContactRef,
		"message", msg.Message,
	)
	return nil
}
