package notifier

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nkiryanov/skillswap/internal/logger"
)

const (
	defaultCountWorkers   = 4
	defaultQueueSize      = 1024
	defaultPublishTimeout = 3 * time.Second
)

var eventsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "notifier_events_total",
		Help: "Events by delivery result",
	},
	[]string{"type", "result"},
)

type DispatcherOpts struct {
	CountWorkers   int
	QueueSize      int
	PublishTimeout time.Duration
}

// Dispatcher queues events and publishes them from background workers
// Every event is published at most once; when the queue is full the event is dropped
type Dispatcher struct {
	queue     chan Event
	publisher Publisher
	logger    logger.Logger

	countWorkers   int
	publishTimeout time.Duration
}

func NewDispatcher(publisher Publisher, l logger.Logger, opts DispatcherOpts) *Dispatcher {
	if opts.CountWorkers <= 0 {
		opts.CountWorkers = defaultCountWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = defaultPublishTimeout
	}

	return &Dispatcher{
		queue:          make(chan Event, opts.QueueSize),
		publisher:      publisher,
		logger:         l,
		countWorkers:   opts.CountWorkers,
		publishTimeout: opts.PublishTimeout,
	}
}

// Notify never blocks
func (d *Dispatcher) Notify(event Event) {
	select {
	case d.queue <- event:
	default:
		eventsTotal.WithLabelValues(event.Type, "dropped").Inc()
		d.logger.Warn("Event queue is full, event dropped", "type", event.Type, "swap_id", event.SwapID)
	}
}

// Run workers until ctx is done. Events still queued are published before stop
func (d *Dispatcher) Run(ctx context.Context) <-chan struct{} {
	idleStopped := make(chan struct{})

	var wg sync.WaitGroup
	for range d.countWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.worker(ctx)
		}()
	}

	go func() {
		defer close(idleStopped)
		wg.Wait()
		d.logger.Debug("Dispatcher stopped")
	}()

	return idleStopped
}

func (d *Dispatcher) worker(ctx context.Context) {
	for {
		select {
		case event := <-d.queue:
			d.publish(event)

		case <-ctx.Done():
			// Drain what is already queued
			for {
				select {
				case event := <-d.queue:
					d.publish(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) publish(event Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.publishTimeout)
	defer cancel()

	if err := d.publisher.Publish(ctx, event); err != nil {
		eventsTotal.WithLabelValues(event.Type, "failed").Inc()
		d.logger.Error("Failed to publish event", "error", err, "type", event.Type, "swap_id", event.SwapID)
		return
	}

	eventsTotal.WithLabelValues(event.Type, "published").Inc()
}
