package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrQueueFull is returned when the async publisher has no room for an event
var ErrQueueFull = errors.New("event queue is full")

// ErrPublisherClosed is returned for events enqueued after Close
var ErrPublisherClosed = errors.New("event publisher is closed")

// AsyncPublisher queues events and delivers them from a single background
// goroutine so request handlers never wait on the broker
type AsyncPublisher struct {
	next   Publisher
	logger *slog.Logger
	queue  chan Event

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAsyncPublisher starts the delivery goroutine. size bounds the queue.
func NewAsyncPublisher(next Publisher, size int, logger *slog.Logger) *AsyncPublisher {
	if size <= 0 {
		size = 1
	}
	p := &AsyncPublisher{
		next:   next,
		logger: logger,
		queue:  make(chan Event, size),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Publish enqueues event without blocking. The caller's context is not
// carried to the broker.
func (p *AsyncPublisher) Publish(_ context.Context, event Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.queue <- event:
		return nil
	default:
		return fmt.Errorf("%w: dropped %s event", ErrQueueFull, event.Type)
	}
}

func (p *AsyncPublisher) run() {
	defer close(p.done)

	for event := range p.queue {
		if err := p.next.Publish(context.Background(), event); err != nil {
			p.logger.Warn("Failed to publish event",
				slog.String("type", event.Type),
				slog.Any("error", err),
			)
		}
	}
}

// Close stops accepting events and waits for queued ones to be delivered
// until ctx is done
func (p *AsyncPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event queue not drained: %w", ctx.Err())
	}
}
