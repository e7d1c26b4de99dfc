// Package history appends instance lifecycle transitions to external stores
// so operators can reconstruct when an instance started, slept, or crashed.
package history

import (
	"context"
	"log/slog"
	"time"

	"github.com/loykin/slumber/internal/events"
)

// Entry is one persisted lifecycle transition.
type Entry struct {
	Instance   string    `json:"instance"`
	Event      string    `json:"event"`
	PID        int       `json:"pid"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Sink is a destination for history entries. Implementations must be safe
// for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Entry) error
}

// Recorder drains the lifecycle bus into one or more sinks. Sink failures
// are logged and the entry is dropped; history is best effort and must never
// stall the runtime.
type Recorder struct {
	bus    *events.Bus
	sinks  []Sink
	logger *slog.Logger
}

func NewRecorder(bus *events.Bus, logger *slog.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{bus: bus, sinks: sinks, logger: logger}
}

// Run consumes lifecycle events until ctx is cancelled or the bus closes.
func (r *Recorder) Run(ctx context.Context) error {
	evs, err := r.bus.Subscribe(ctx)
	if err != nil {
		return err
	}
	for ev := range evs {
		e := Entry{
			Instance:   ev.Instance,
			Event:      string(ev.Type),
			PID:        ev.PID,
			Reason:     ev.Reason,
			OccurredAt: ev.OccurredAt,
		}
		for _, s := range r.sinks {
			if err := s.Send(ctx, e); err != nil {
				r.logger.Warn("history sink write failed", "instance", e.Instance, "event", e.Event, "err", err)
			}
		}
	}
	return nil
}
