package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedPublisher records events and blocks each delivery until released
type gatedPublisher struct {
	started chan struct{}
	release chan struct{}
	err     error

	mu        sync.Mutex
	delivered []string
}

func newGatedPublisher() *gatedPublisher {
	return &gatedPublisher{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
	}
}

func (p *gatedPublisher) Publish(_ context.Context, event Event) error {
	p.started <- struct{}{}
	<-p.release

	p.mu.Lock()
	defer p.mu.Unlock()
	p.delivered = append(p.delivered, event.Type)
	return p.err
}

func (p *gatedPublisher) events() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.delivered...)
}

func waitStarted(t *testing.T, p *gatedPublisher) {
	t.Helper()
	select {
	case <-p.started:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery did not start")
	}
}

func TestAsyncPublisher_DoesNotWaitForBroker(t *testing.T) {
	next := newGatedPublisher()
	publisher := NewAsyncPublisher(next, 1, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	require.NoError(t, publisher.Publish(context.Background(), NewTileAllocated(TileAllocated{TileID: "T1"})))
	waitStarted(t, next)

	// the first event is stuck in delivery; one more fits in the queue
	done := make(chan error, 2)
	go func() {
		done <- publisher.Publish(context.Background(), NewJobSheetUploaded(JobSheetUploaded{SheetID: 1}))
		done <- publisher.Publish(context.Background(), NewTileAllocated(TileAllocated{TileID: "T2"}))
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow broker")
	}
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrQueueFull)
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full queue")
	}

	close(next.release)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, publisher.Close(ctx))

	assert.Equal(t, []string{TypeTileAllocated, TypeJobSheetUploaded}, next.events())
}

func TestAsyncPublisher_PublishAfterClose(t *testing.T) {
	next := newGatedPublisher()
	close(next.release)
	publisher := NewAsyncPublisher(next, 4, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	require.NoError(t, publisher.Close(context.Background()))
	require.NoError(t, publisher.Close(context.Background()))

	err := publisher.Publish(context.Background(), NewTileAllocated(TileAllocated{TileID: "T1"}))
	assert.ErrorIs(t, err, ErrPublisherClosed)
	assert.Empty(t, next.events())
}

func TestAsyncPublisher_CloseGivesUpOnStuckBroker(t *testing.T) {
	next := newGatedPublisher()
	publisher := NewAsyncPublisher(next, 4, slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)))

	require.NoError(t, publisher.Publish(context.Background(), NewTileAllocated(TileAllocated{TileID: "T1"})))
	waitStarted(t, next)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := publisher.Close(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(next.release)
	require.NoError(t, publisher.Close(context.Background()))
}

func TestAsyncPublisher_LogsDeliveryFailure(t *testing.T) {
	output := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(output, nil))

	next := newGatedPublisher()
	next.err = errors.New("channel closed")
	close(next.release)

	publisher := NewAsyncPublisher(next, 4, logger)
	require.NoError(t, publisher.Publish(context.Background(), NewJobSheetUploaded(JobSheetUploaded{SheetID: 3})))
	require.NoError(t, publisher.Close(context.Background()))

	assert.Contains(t, output.String(), "Failed to publish event")
	assert.Contains(t, output.String(), TypeJobSheetUploaded)
}
