package events

import (
	"context"
	"sync/atomic"
	"testing"
)

func TestEmitReachesSubscribers(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	var hits atomic.Int32

	bus.Subscribe(EventPlayerLogin, "test.a", func(ctx context.Context, e Event) error {
		hits.Add(1)
		return nil
	})
	bus.Subscribe(EventPlayerLogin, "test.b", func(ctx context.Context, e Event) error {
		hits.Add(1)
		return nil
	})
	bus.Subscribe(EventPlayerLogout, "test.other", func(ctx context.Context, e Event) error {
		t.Error("handler for a different event type was called")
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventPlayerLogin, Source: "test"})
	bus.Stop()

	if got := hits.Load(); got != 2 {
		t.Fatalf("handler invocations = %d, want 2", got)
	}
}

func TestEmitAfterStopDropped(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	bus.Subscribe(EventShutdown, "test", func(ctx context.Context, e Event) error {
		t.Error("handler called after Stop")
		return nil
	})
	bus.Stop()
	bus.Emit(context.Background(), Event{Type: EventShutdown, Source: "test"})
}

func TestPanickingHandlerDoesNotCrashBus(t *testing.T) {
	t.Parallel()

	bus := NewBus()
	var ran atomic.Bool

	bus.Subscribe(EventBanHit, "test.panics", func(ctx context.Context, e Event) error {
		panic("boom")
	})
	bus.Subscribe(EventBanHit, "test.survives", func(ctx context.Context, e Event) error {
		ran.Store(true)
		return nil
	})

	bus.Emit(context.Background(), Event{Type: EventBanHit, Source: "test"})
	bus.Stop()

	if !ran.Load() {
		t.Fatal("sibling handler did not run after panic")
	}
}
