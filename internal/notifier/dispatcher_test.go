package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/skillswap/internal/logger"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
	block  chan struct{} // Publish waits on it if not nil
}

func (p *recordingPublisher) Publish(ctx context.Context, event Event) error {
	if p.block != nil {
		<-p.block
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

func TestDispatcher(t *testing.T) {
	t.Run("publish queued events", func(t *testing.T) {
		publisher := &recordingPublisher{}
		d := NewDispatcher(publisher, logger.NewNoOpLogger(), DispatcherOpts{CountWorkers: 2})
		ctx, cancel := context.WithCancel(t.Context())
		stopped := d.Run(ctx)

		for range 5 {
			d.Notify(Event{Type: EventSwapStatusChanged, SwapID: uuid.New()})
		}

		require.Eventually(t, func() bool { return len(publisher.Events()) == 5 }, time.Second, 10*time.Millisecond)
		cancel()
		<-stopped
	})

	t.Run("publish failures are not retried", func(t *testing.T) {
		publisher := &recordingPublisher{err: errors.New("redis is down")}
		d := NewDispatcher(publisher, logger.NewNoOpLogger(), DispatcherOpts{CountWorkers: 1})
		ctx, cancel := context.WithCancel(t.Context())
		stopped := d.Run(ctx)

		d.Notify(Event{Type: EventSettlement, SwapID: uuid.New()})

		require.Eventually(t, func() bool { return len(publisher.Events()) == 1 }, time.Second, 10*time.Millisecond)
		cancel()
		<-stopped
		require.Len(t, publisher.Events(), 1, "event must be attempted once")
	})

	t.Run("notify does not block when queue is full", func(t *testing.T) {
		publisher := &recordingPublisher{}
		d := NewDispatcher(publisher, logger.NewNoOpLogger(), DispatcherOpts{QueueSize: 2})

		done := make(chan struct{})
		go func() {
			defer close(done)
			for range 10 {
				d.Notify(Event{Type: EventSettlement, SwapID: uuid.New()})
			}
		}()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("Notify blocked")
		}
		require.Len(t, d.queue, 2, "extra events are dropped")
	})

	t.Run("queued events drained on stop", func(t *testing.T) {
		publisher := &recordingPublisher{block: make(chan struct{})}
		d := NewDispatcher(publisher, logger.NewNoOpLogger(), DispatcherOpts{CountWorkers: 1})
		ctx, cancel := context.WithCancel(t.Context())
		stopped := d.Run(ctx)

		for range 3 {
			d.Notify(Event{Type: EventSettlement, SwapID: uuid.New()})
		}
		cancel()
		close(publisher.block)
		<-stopped

		require.Len(t, publisher.Events(), 3)
	})
}
