// Package bus provides a single-process, in-memory publish/subscribe facility
// with a bounded FIFO queue and one background dispatcher.
package bus

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"digestd/internal/event"
)

// Handler processes one event. Returned errors are logged, never propagated
// to the publisher or to sibling handlers.
type Handler func(ctx context.Context, ev event.Event) error

// Subscription identifies a registered handler so it can be removed later.
// Go funcs are not comparable, so Subscribe hands back a token instead of
// matching on the handler itself.
type Subscription struct {
	name string
	id   uint64
}

type registration struct {
	id      uint64
	handler Handler
}

// Bus delivers each published event to every handler subscribed to that
// event's exact name. Handler failures are isolated from each other and from
// the publisher.
type Bus struct {
	mu       sync.Mutex
	handlers map[string][]registration
	nextID   uint64

	queue    chan event.Event
	inflight atomic.Int64

	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	drainTimeout time.Duration
	logger       *slog.Logger
}

const defaultQueueSize = 1000

// New creates a stopped bus with the given queue capacity.
// A capacity <= 0 falls back to the default of 1000.
func New(queueSize int) *Bus {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Bus{
		handlers:     make(map[string][]registration),
		queue:        make(chan event.Event, queueSize),
		drainTimeout: 10 * time.Second,
		logger:       slog.Default(),
	}
}

// Subscribe registers a handler for an event name. Subscribing the same
// handler twice registers it twice.
func (b *Bus) Subscribe(name string, h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := Subscription{name: name, id: b.nextID}
	b.handlers[name] = append(b.handlers[name], registration{id: sub.id, handler: h})
	b.logger.Debug("handler subscribed", "event", name, "subscription", sub.id)
	return sub
}

// Unsubscribe removes a previously registered handler. Unknown subscriptions
// are a no-op.
func (b *Bus) Unsubscribe(sub Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	regs := b.handlers[sub.name]
	for i, r := range regs {
		if r.id == sub.id {
			b.handlers[sub.name] = append(regs[:i], regs[i+1:]...)
			b.logger.Debug("handler unsubscribed", "event", sub.name, "subscription", sub.id)
			return
		}
	}
}

// Publish enqueues an event, blocking while the queue is at capacity.
// It returns early with ctx.Err() if the context is cancelled first.
func (b *Bus) Publish(ctx context.Context, ev event.Event) error {
	select {
	case b.queue <- ev:
		b.logger.Debug("event published", "event", ev.Name(), "queue_size", len(b.queue))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublish enqueues an event without blocking. It returns false and drops
// the event if the queue is full.
func (b *Bus) TryPublish(ev event.Event) bool {
	select {
	case b.queue <- ev:
		b.logger.Debug("event published", "event", ev.Name(), "queue_size", len(b.queue))
		return true
	default:
		b.logger.Warn("event queue full, event dropped", "event", ev.Name())
		return false
	}
}

// Start launches the background dispatcher. Calling Start while the bus is
// already running is a logged no-op.
func (b *Bus) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		b.logger.Warn("bus already running")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true

	go b.dispatch(ctx)
	b.logger.Info("bus started")
}

// Stop waits (bounded by the drain timeout) for queued events to be
// dispatched, then cancels the dispatcher. Events still queued after the
// timeout are discarded; a drain timeout is logged, not fatal.
func (b *Bus) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.running = false
	cancel, done := b.cancel, b.done
	b.mu.Unlock()

	deadline := time.Now().Add(b.drainTimeout)
	for len(b.queue) > 0 || b.inflight.Load() > 0 {
		if time.Now().After(deadline) {
			b.logger.Warn("timeout waiting for pending events", "pending", len(b.queue))
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	<-done
	b.logger.Info("bus stopped")
}

// Running reports whether the dispatcher is active.
func (b *Bus) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// QueueLen returns the number of queued, undispatched events.
func (b *Bus) QueueLen() int {
	return len(b.queue)
}

// dispatch is the sole reader of the queue. It pulls one event at a time and
// fans it out concurrently to the handlers registered for its exact name.
func (b *Bus) dispatch(ctx context.Context) {
	defer close(b.done)
	b.logger.Info("bus dispatcher started")

	for {
		select {
		case ev := <-b.queue:
			b.inflight.Add(1)
			b.deliver(ctx, ev)
			b.inflight.Add(-1)
		case <-ctx.Done():
			b.logger.Info("bus dispatcher stopped")
			return
		}
	}
}

func (b *Bus) deliver(ctx context.Context, ev event.Event) {
	b.mu.Lock()
	regs := make([]registration, len(b.handlers[ev.Name()]))
	copy(regs, b.handlers[ev.Name()])
	b.mu.Unlock()

	if len(regs) == 0 {
		b.logger.Debug("no handlers for event", "event", ev.Name())
		return
	}

	var wg sync.WaitGroup
	for _, r := range regs {
		wg.Add(1)
		go func(r registration) {
			defer wg.Done()
			b.callHandler(ctx, r, ev)
		}(r)
	}
	wg.Wait()
}

func (b *Bus) callHandler(ctx context.Context, r registration, ev event.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("handler panicked", "event", ev.Name(), "subscription", r.id, "panic", rec)
		}
	}()
	if err := r.handler(ctx, ev); err != nil {
		b.logger.Error("handler failed", "event", ev.Name(), "subscription", r.id, "error", err)
	}
}
