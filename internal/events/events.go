package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
)

// Topic carries every instance lifecycle event.
const Topic = "instance.lifecycle"

// Type enumerates instance lifecycle transitions.
type Type string

const (
	Starting    Type = "starting"
	Started     Type = "started"
	Stopping    Type = "stopping"
	Stopped     Type = "stopped"
	StartFailed Type = "start_failed"
	StopFailed  Type = "stop_failed"
)

// Event is one lifecycle transition of one instance.
type Event struct {
	Instance   string    `json:"instance"`
	Type       Type      `json:"type"`
	PID        int       `json:"pid,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Bus is the in-process lifecycle pub/sub. Delivery to a subscriber's channel
// happens during Publish, but handler completion is not awaited; anything
// that must happen before Publish returns (listener port release) is done by
// a direct call, not through the bus.
type Bus struct {
	ps     *gochannel.GoChannel
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	ps := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, watermill.NewSlogLogger(logger))
	return &Bus{ps: ps, logger: logger}
}

// Publish broadcasts ev to all current subscribers. A zero OccurredAt is
// stamped with the current time.
func (b *Bus) Publish(ev Event) {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		b.logger.Error("encode lifecycle event", "instance", ev.Instance, "type", string(ev.Type), "err", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("instance", ev.Instance)
	msg.Metadata.Set("type", string(ev.Type))
	if err := b.ps.Publish(Topic, msg); err != nil {
		b.logger.Error("publish lifecycle event", "instance", ev.Instance, "type", string(ev.Type), "err", err)
	}
}

// Subscribe returns a channel of decoded events. The channel closes when ctx
// is cancelled or the bus is closed.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := b.ps.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}
	out := make(chan Event, 64)
	go func() {
		defer close(out)
		for m := range msgs {
			var ev Event
			if err := json.Unmarshal(m.Payload, &ev); err != nil {
				b.logger.Warn("drop undecodable lifecycle event", "uuid", m.UUID, "err", err)
				m.Ack()
				continue
			}
			m.Ack()
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (b *Bus) Close() error { return b.ps.Close() }
