package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"digestd/internal/event"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestFanOutInvokesAllHandlersOnce(t *testing.T) {
	b := New(10)
	var calls [3]atomic.Int64
	for i := range calls {
		i := i
		b.Subscribe(event.NameCollectionStarted, func(_ context.Context, _ event.Event) error {
			calls[i].Add(1)
			return nil
		})
	}

	b.Start()
	defer b.Stop()

	if err := b.Publish(context.Background(), event.NewCollectionStarted("src-1", "dig-1")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool {
		return calls[0].Load() == 1 && calls[1].Load() == 1 && calls[2].Load() == 1
	}, "not all handlers invoked exactly once")

	// No extra deliveries.
	time.Sleep(20 * time.Millisecond)
	for i := range calls {
		if n := calls[i].Load(); n != 1 {
			t.Errorf("handler %d invoked %d times, want 1", i, n)
		}
	}
}

func TestFailingHandlerDoesNotSuppressSiblings(t *testing.T) {
	b := New(10)
	var ok atomic.Int64
	b.Subscribe(event.NameCollectorFailed, func(_ context.Context, _ event.Event) error {
		return errors.New("handler exploded")
	})
	b.Subscribe(event.NameCollectorFailed, func(_ context.Context, _ event.Event) error {
		panic("handler panicked")
	})
	b.Subscribe(event.NameCollectorFailed, func(_ context.Context, _ event.Event) error {
		ok.Add(1)
		return nil
	})

	b.Start()
	defer b.Stop()

	if err := b.Publish(context.Background(), event.NewCollectorFailed("src-1", "auth", "401")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// A second event still gets processed after the failures.
	if err := b.Publish(context.Background(), event.NewCollectorFailed("src-1", "auth", "401")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	waitFor(t, func() bool { return ok.Load() == 2 }, "healthy handler did not receive both events")
}

func TestExactTypeMatching(t *testing.T) {
	b := New(10)
	var started, completed atomic.Int64
	b.Subscribe(event.NameCollectionStarted, func(_ context.Context, _ event.Event) error {
		started.Add(1)
		return nil
	})
	b.Subscribe(event.NameCollectionCompleted, func(_ context.Context, _ event.Event) error {
		completed.Add(1)
		return nil
	})

	b.Start()
	defer b.Stop()

	b.Publish(context.Background(), event.NewCollectionCompleted("src-1", "dig-1", 5, 2))

	waitFor(t, func() bool { return completed.Load() == 1 }, "completed handler not invoked")
	if started.Load() != 0 {
		t.Errorf("started handler invoked %d times for a completed event", started.Load())
	}
}

func TestTryPublishDropsWhenFull(t *testing.T) {
	b := New(2)
	// Dispatcher not started: queue fills up.
	if !b.TryPublish(event.NewDigestReady("d", "x", 1)) {
		t.Fatal("first TryPublish returned false")
	}
	if !b.TryPublish(event.NewDigestReady("d", "x", 1)) {
		t.Fatal("second TryPublish returned false")
	}
	if b.TryPublish(event.NewDigestReady("d", "x", 1)) {
		t.Fatal("TryPublish on full queue returned true")
	}
	if b.QueueLen() != 2 {
		t.Errorf("queue length = %d, want 2", b.QueueLen())
	}
}

func TestPublishBlocksWhenFull(t *testing.T) {
	b := New(1)
	b.TryPublish(event.NewDigestReady("d", "x", 1))

	ctx, cancel := context.WithCancel(context.Background())
	blocked := make(chan error, 1)
	go func() {
		blocked <- b.Publish(ctx, event.NewDigestReady("d", "y", 1))
	}()

	select {
	case err := <-blocked:
		t.Fatalf("Publish on full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := <-blocked; !errors.Is(err, context.Canceled) {
		t.Errorf("Publish after cancel: err = %v, want context.Canceled", err)
	}
	if b.QueueLen() != 1 {
		t.Errorf("queue length = %d, want 1 (cancelled publish must not enqueue)", b.QueueLen())
	}
}

func TestEventsDispatchedInPublishOrder(t *testing.T) {
	b := New(100)
	var mu sync.Mutex
	var order []int
	b.Subscribe(event.NameCollectionStarted, func(_ context.Context, ev event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		started := ev.(event.CollectionStarted)
		order = append(order, len(started.SourceID))
		return nil
	})

	b.Start()
	defer b.Stop()

	// Source IDs of increasing length encode the publish order.
	id := ""
	for i := 0; i < 20; i++ {
		id += "x"
		b.Publish(context.Background(), event.NewCollectionStarted(id, "dig"))
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 20
	}, "not all events dispatched")

	mu.Lock()
	defer mu.Unlock()
	for i, n := range order {
		if n != i+1 {
			t.Fatalf("event %d dispatched out of order: got length %d", i, n)
		}
	}
}

func TestStartIsIdempotent(t *testing.T) {
	b := New(10)
	b.Start()
	b.Start() // logged no-op
	defer b.Stop()

	if !b.Running() {
		t.Error("bus not running after Start")
	}
}

func TestStopDrainsQueue(t *testing.T) {
	b := New(100)
	var delivered atomic.Int64
	b.Subscribe(event.NameDigestSent, func(_ context.Context, _ event.Event) error {
		delivered.Add(1)
		return nil
	})

	b.Start()
	for i := 0; i < 50; i++ {
		b.Publish(context.Background(), event.NewDigestSent("d", int64(i)))
	}
	b.Stop()

	if n := delivered.Load(); n != 50 {
		t.Errorf("delivered %d events before stop, want 50", n)
	}
	if b.Running() {
		t.Error("bus still running after Stop")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(10)
	var calls atomic.Int64
	sub := b.Subscribe(event.NameDigestFailed, func(_ context.Context, _ event.Event) error {
		calls.Add(1)
		return nil
	})
	b.Unsubscribe(sub)

	b.Start()
	b.Publish(context.Background(), event.NewDigestFailed("d", "boom"))
	b.Stop()

	if calls.Load() != 0 {
		t.Errorf("unsubscribed handler invoked %d times", calls.Load())
	}
}

func TestZeroSubscriberEventIsDropped(t *testing.T) {
	b := New(10)
	b.Start()
	// No handler registered; must not error or wedge the dispatcher.
	b.Publish(context.Background(), event.NewDigestScheduled("sch", "morning", nil))
	b.Stop()

	if b.QueueLen() != 0 {
		t.Errorf("queue length = %d after stop, want 0", b.QueueLen())
	}
}
