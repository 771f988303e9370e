package mqtt

import (
	"context"
	"fmt"
	"sync"

	"github.com/sweeney/lamp-panel/internal/lamp"
	"github.com/sweeney/lamp-panel/internal/logger"
)

// Notifier is a lamp.Observer that publishes toggles from its own goroutine,
// so a slow broker never holds up the request that toggled. Events are
// published in the order they were queued; when the queue is full the
// oldest is dropped.
type Notifier struct {
	pub Publisher

	mu     sync.Mutex
	queue  *backlog[lamp.Event]
	closed bool

	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewNotifier starts a Notifier over p. A capacity below one uses the same
// limit as the publisher's own reconnect buffer.
func NewNotifier(p Publisher, capacity int) *Notifier {
	if capacity < 1 {
		capacity = bufferCapacity
	}

	n := &Notifier{
		pub:     p,
		queue:   newBacklog[lamp.Event](capacity),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go n.run()

	return n
}

// Toggled queues ev for publishing and returns at once.
func (n *Notifier) Toggled(ctx context.Context, ev lamp.Event) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		logger.DebugKV(ctx, "MQTT notifier closed, toggle not published", "event", EventName(ev))
		return
	}
	n.queue.add(ev)
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting events and waits until everything already queued
// has been handed to the publisher, or ctx is done. It does not close the
// publisher.
func (n *Notifier) Close(ctx context.Context) error {
	n.once.Do(func() {
		n.mu.Lock()
		n.closed = true
		n.mu.Unlock()
		close(n.done)
	})

	select {
	case <-n.stopped:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqtt notifier still publishing: %w", context.Cause(ctx))
	}
}

func (n *Notifier) run() {
	defer close(n.stopped)

	for {
		select {
		case <-n.wake:
			n.publishQueued()
		case <-n.done:
			n.publishQueued()
			return
		}
	}
}

func (n *Notifier) publishQueued() {
	ctx := context.Background()

	n.mu.Lock()
	events, dropped := n.queue.take()
	n.mu.Unlock()

	if dropped > 0 {
		logger.WarnKV(ctx, "MQTT notify queue full, oldest toggles dropped", "dropped", dropped)
	}

	for _, ev := range events {
		if err := n.pub.Publish(ev); err != nil {
			logger.WarnKV(ctx, "MQTT publish failed", "event", EventName(ev), "seq", ev.Seq, "error", err)
		}
	}
}
