package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/HerbHall/fleetwarden/pkg/plugin"
	"go.uber.org/zap"
)

func TestPublish_delivers_to_topic_subscribers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var got []string
	bus.Subscribe("rollout.published", func(_ context.Context, e plugin.Event) {
		got = append(got, e.Topic)
	})
	bus.Subscribe("rollout.paused", func(_ context.Context, e plugin.Event) {
		got = append(got, e.Topic)
	})

	bus.Publish(context.Background(), plugin.Event{Topic: "rollout.published", Source: "rollout"})

	if len(got) != 1 || got[0] != "rollout.published" {
		t.Errorf("got %v, want [rollout.published]", got)
	}
}

func TestSubscribeAll_receives_everything(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var count int
	bus.SubscribeAll(func(_ context.Context, _ plugin.Event) { count++ })

	bus.Publish(context.Background(), plugin.Event{Topic: "a"})
	bus.Publish(context.Background(), plugin.Event{Topic: "b"})

	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestUnsubscribe_stops_delivery(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var count int
	unsub := bus.Subscribe("fleet.device.registered", func(_ context.Context, _ plugin.Event) { count++ })

	bus.Publish(context.Background(), plugin.Event{Topic: "fleet.device.registered"})
	unsub()
	bus.Publish(context.Background(), plugin.Event{Topic: "fleet.device.registered"})

	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestPublish_recovers_handler_panic(t *testing.T) {
	bus := NewBus(zap.NewNop())

	bus.Subscribe("boom", func(_ context.Context, _ plugin.Event) { panic("handler bug") })

	var delivered bool
	bus.Subscribe("boom", func(_ context.Context, _ plugin.Event) { delivered = true })

	// Must not panic out of Publish, and later handlers still run.
	if err := bus.Publish(context.Background(), plugin.Event{Topic: "boom"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if !delivered {
		t.Error("second handler did not run after first panicked")
	}
}

func TestPublishAsync_delivers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var wg sync.WaitGroup
	wg.Add(1)
	bus.Subscribe("health.alert.raised", func(_ context.Context, _ plugin.Event) { wg.Done() })

	bus.PublishAsync(context.Background(), plugin.Event{Topic: "health.alert.raised"})

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("async handler never ran")
	}
}
