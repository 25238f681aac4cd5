package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"starkit/core"
)

func TestEventBusSync(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	count := 0
	bus.Subscribe(core.EventStarsAdded, func(ctx context.Context, e core.Event) { count++ })
	bus.Publish(context.Background(), core.NewStarsAdded(core.ChildID("c"), 1, 1, "test", time.Now()))
	if count != 1 {
		t.Fatalf("want 1 got %d", count)
	}
}

func TestEventBusAsync(t *testing.T) {
	bus := NewEventBus(DispatchAsync)
	defer bus.Close()
	ch := make(chan struct{})
	bus.Subscribe(core.EventStarsAdded, func(ctx context.Context, e core.Event) { close(ch) })
	bus.Publish(context.Background(), core.NewStarsAdded(core.ChildID("c"), 1, 1, "test", time.Now()))
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout")
	}
}

func TestEventBusUnsubscribe(t *testing.T) {
	bus := NewEventBus(DispatchSync)
	count := 0
	unsub := bus.Subscribe(core.EventLevelUp, func(ctx context.Context, e core.Event) { count++ })
	unsub()
	bus.Publish(context.Background(), core.NewLevelUp("c", core.Level{Number: 2, Name: "Sprout"}, time.Now()))
	if count != 0 {
		t.Fatalf("want 0 got %d", count)
	}
}

func TestEventBusCloseDrainsQueue(t *testing.T) {
	bus := NewEventBus(DispatchAsync)
	var got atomic.Int32
	bus.SubscribeAll(func(ctx context.Context, e core.Event) { got.Add(1) })
	for i := 0; i < 10; i++ {
		bus.Publish(context.Background(), core.NewChildRegistered("c", time.Now()))
	}
	bus.Close()
	if got.Load() != 10 {
		t.Fatalf("want 10 got %d", got.Load())
	}
}
