package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/atmx/weather-edge/internal/model"
)

// Event types delivered to listeners.
const (
	EventAdmitted = "position_admitted"
	EventSettled  = "position_settled"
	EventCycle    = "cycle_completed"
	EventError    = "cycle_error"
)

// Event is one thing that happened during a cycle.
type Event struct {
	Type     string          `json:"type"`
	At       time.Time       `json:"at"`
	Position *model.Position `json:"position,omitempty"`
	Report   *CycleReport    `json:"report,omitempty"`
	Message  string          `json:"message,omitempty"`
}

// Listener receives engine events, e.g. the WebSocket hub or a notifier.
// Errors are logged and never fail the cycle.
type Listener interface {
	OnEvent(ctx context.Context, ev Event) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev Event) error

func (f ListenerFunc) OnEvent(ctx context.Context, ev Event) error { return f(ctx, ev) }

func (e *Engine) emit(ctx context.Context, log *slog.Logger, events ...Event) {
	for _, ev := range events {
		for _, l := range e.listeners {
			if err := l.OnEvent(ctx, ev); err != nil {
				log.Warn("event listener failed", "event", ev.Type, "err", err)
			}
		}
	}
}
