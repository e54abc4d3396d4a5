package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see protocol events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("session_id", event.SessionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote_addr", event.RemoteAddr))
	}
	if event.DeviceName != "" {
		attrs = append(attrs, slog.String("device", event.DeviceName))
	}

	// Add type-specific attributes
	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		attrs = append(attrs, slog.String("kind", event.Message.Kind.String()))
		if event.Message.CorrelationID != 0 {
			attrs = append(attrs, slog.Uint64("correlation_id", uint64(event.Message.CorrelationID)))
		}
		if event.Message.Engine != "" {
			attrs = append(attrs, slog.String("engine", event.Message.Engine))
		}
		if event.Message.Param != "" {
			attrs = append(attrs, slog.String("param", event.Message.Param))
		}
		if event.Message.Status != nil {
			attrs = append(attrs, slog.String("status", event.Message.Status.String()))
		}
		if event.Message.Seq != 0 {
			attrs = append(attrs, slog.Uint64("seq", event.Message.Seq))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
