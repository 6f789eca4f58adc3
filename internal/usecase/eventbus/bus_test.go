package eventbus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"skyport/internal/domain"
)

func newTestBus() *Bus {
	return New(slog.Default())
}

func newEvent(t domain.EventType) domain.Event {
	return domain.Event{Type: t, Timestamp: time.Now()}
}

func TestPublishSubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventMigrationProgress, func(_ context.Context, e domain.Event) {
		if e.Type == domain.EventMigrationProgress {
			got.Add(1)
		}
	})
	bus.Subscribe(domain.EventMigrationWarning, func(_ context.Context, _ domain.Event) {
		t.Error("warning subscriber must not see progress events")
	})

	bus.Publish(context.Background(), newEvent(domain.EventMigrationProgress))
	bus.Close() // drain
	if got.Load() != 1 {
		t.Fatalf("expected 1, got %d", got.Load())
	}
}

func TestSubscribeAll(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.SubscribeAll(func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventProcessStarted))
	bus.Publish(context.Background(), newEvent(domain.EventMigrationState))
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2, got %d", got.Load())
	}
}

func TestDeliveryPreservesPublishOrder(t *testing.T) {
	bus := newTestBus()

	var mu sync.Mutex
	var seen []string
	bus.Subscribe(domain.EventProcessOutput, func(_ context.Context, e domain.Event) {
		// Uneven handler latency must not reorder delivery.
		if len(e.ProcessID)%2 == 0 {
			time.Sleep(time.Millisecond)
		}
		mu.Lock()
		seen = append(seen, e.ProcessID)
		mu.Unlock()
	})

	want := []string{"a", "bb", "c", "dd", "e", "ff", "g"}
	for _, id := range want {
		ev := newEvent(domain.EventProcessOutput)
		ev.ProcessID = id
		bus.Publish(context.Background(), ev)
	}
	bus.Close()

	if len(seen) != len(want) {
		t.Fatalf("got %d events, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("event %d = %q, want %q (order %v)", i, seen[i], want[i], seen)
		}
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	bus := newTestBus()

	release := make(chan struct{})
	fast := make(chan struct{}, 1)
	bus.Subscribe(domain.EventMigrationState, func(_ context.Context, _ domain.Event) {
		<-release
	})
	bus.Subscribe(domain.EventMigrationState, func(_ context.Context, _ domain.Event) {
		fast <- struct{}{}
	})

	bus.Publish(context.Background(), newEvent(domain.EventMigrationState))
	select {
	case <-fast:
	case <-time.After(2 * time.Second):
		t.Fatal("fast subscriber was blocked by slow one")
	}
	close(release)
	bus.Close()
}

func TestUnsubscribe(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	unsub := bus.Subscribe(domain.EventMigrationProgress, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventMigrationProgress))
	// Wait until the queued event is delivered before unsubscribing.
	deadline := time.Now().Add(2 * time.Second)
	for got.Load() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	unsub()
	unsub() // idempotent
	bus.Publish(context.Background(), newEvent(domain.EventMigrationProgress))
	bus.Close()

	if got.Load() != 1 {
		t.Fatalf("expected 1 after unsub, got %d", got.Load())
	}
}

func TestConcurrentPublish(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventProcessOutput, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newEvent(domain.EventProcessOutput))
		}()
	}
	wg.Wait()
	bus.Close()

	if got.Load() != 100 {
		t.Fatalf("expected 100, got %d", got.Load())
	}
}

func TestPanicRecovery(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventMigrationWarning, func(_ context.Context, _ domain.Event) {
		panic("boom")
	})
	bus.Subscribe(domain.EventMigrationWarning, func(_ context.Context, _ domain.Event) {
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventMigrationWarning))
	bus.Publish(context.Background(), newEvent(domain.EventMigrationWarning))
	bus.Close()

	if got.Load() != 2 {
		t.Fatalf("expected 2 (second handler), got %d", got.Load())
	}
}

func TestCloseDrainsAndRejectsNew(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	bus.Subscribe(domain.EventMigrationFinished, func(_ context.Context, _ domain.Event) {
		time.Sleep(50 * time.Millisecond)
		got.Add(1)
	})

	bus.Publish(context.Background(), newEvent(domain.EventMigrationFinished))
	bus.Close() // blocks until the handler finishes
	bus.Close()

	if got.Load() != 1 {
		t.Fatalf("expected handler to have run, got %d", got.Load())
	}

	bus.Publish(context.Background(), newEvent(domain.EventMigrationFinished))
	time.Sleep(20 * time.Millisecond)
	if got.Load() != 1 {
		t.Fatalf("expected no delivery after close, got %d", got.Load())
	}
}

func TestEnqueueAfterStopIsRefused(t *testing.T) {
	bus := newTestBus()

	var got atomic.Int32
	unsubscribe := bus.SubscribeAll(func(_ context.Context, _ domain.Event) { got.Add(1) })

	bus.mu.RLock()
	sub := bus.allSubs[0]
	bus.mu.RUnlock()

	unsubscribe()
	if sub.enqueue(delivery{ctx: context.Background(), event: newEvent(domain.EventMigrationState)}) {
		t.Fatal("stopped subscription accepted a delivery")
	}

	closeWithin(t, bus, 2*time.Second)
	if got.Load() != 0 {
		t.Fatalf("expected no delivery, got %d", got.Load())
	}
}

func TestUnsubscribeDuringPublishDoesNotBlockClose(t *testing.T) {
	for i := 0; i < 200; i++ {
		bus := newTestBus()

		var last func()
		for j := 0; j < 200; j++ {
			last = bus.SubscribeAll(func(_ context.Context, _ domain.Event) {})
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			bus.Publish(context.Background(), newEvent(domain.EventMigrationFinished))
		}()
		go func() {
			defer wg.Done()
			last()
		}()
		wg.Wait()

		closeWithin(t, bus, 2*time.Second)
	}
}

func closeWithin(t *testing.T, bus *Bus, d time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		bus.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("Close did not return")
	}
}
