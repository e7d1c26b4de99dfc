package events

import (
	"context"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := NewBus(nil)
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	b.Publish(Event{Instance: "survival", Type: Started, PID: 4242})

	select {
	case ev := <-ch:
		if ev.Instance != "survival" || ev.Type != Started || ev.PID != 4242 {
			t.Fatalf("unexpected event %+v", ev)
		}
		if ev.OccurredAt.IsZero() {
			t.Fatal("OccurredAt not stamped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMultipleSubscribersSeeEveryEvent(t *testing.T) {
	b := NewBus(nil)
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch1, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ch2, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}

	b.Publish(Event{Instance: "survival", Type: Stopping})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.Type != Stopping {
				t.Fatalf("subscriber %d: unexpected event %+v", i, ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("subscriber %d: event not delivered", i)
		}
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	b := NewBus(nil)
	defer func() { _ = b.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := b.Subscribe(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			// A buffered event may still arrive; drain until closed.
			for range ch {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("channel not closed after cancel")
	}
}
