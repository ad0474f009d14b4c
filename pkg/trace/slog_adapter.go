package trace

import (
	"context"
	"log/slog"
)

// SlogAdapter writes trace events to an slog.Logger. Useful for
// development when you want to see protocol traffic in the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter that writes to the given
// slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level (errors at
// Error level).
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session_id", event.SessionID),
		slog.String("category", event.Category.String()),
	}
	if event.Tenant != "" {
		attrs = append(attrs, slog.String("tenant", event.Tenant))
	}

	level := slog.LevelDebug
	msg := "trace event"

	switch {
	case event.Envelope != nil:
		msg = "envelope"
		attrs = append(attrs,
			slog.String("direction", event.Direction.String()),
			slog.String("env_type", event.Envelope.Type),
			slog.Int("size", event.Envelope.Size),
		)
		if event.Envelope.ID != "" {
			attrs = append(attrs, slog.String("env_id", event.Envelope.ID))
		}
		if event.Envelope.Channel != "" {
			attrs = append(attrs, slog.String("channel", event.Envelope.Channel))
		}

	case event.StateChange != nil:
		msg = "state change"
		attrs = append(attrs,
			slog.String("from", event.StateChange.From),
			slog.String("to", event.StateChange.To),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}

	case event.Error != nil:
		msg = "protocol error"
		level = slog.LevelError
		attrs = append(attrs, slog.String("error", event.Error.Message))
		if event.Error.Op != "" {
			attrs = append(attrs, slog.String("op", event.Error.Op))
		}
	}

	a.logger.LogAttrs(context.Background(), level, msg, attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
