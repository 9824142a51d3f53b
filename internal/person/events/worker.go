package events

import (
	"context"
	"log/slog"
	"time"

	personmetrics "dogfight/internal/person/metrics"
	"dogfight/pkg/platform/circuit"
)

const defaultDrainTimeout = 5 * time.Second

// Worker consumes events from a channel and hands them to a Publisher.
// Publish failures are logged and counted; they never stop the loop.
type Worker struct {
	publisher    Publisher
	inbox        <-chan Event
	logger       *slog.Logger
	metrics      *personmetrics.Metrics
	breaker      *circuit.Breaker
	drainTimeout time.Duration
}

type WorkerOption func(*Worker)

func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(w *Worker) {
		w.logger = logger
	}
}

func WithWorkerMetrics(m *personmetrics.Metrics) WorkerOption {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithBreaker drops events without a publish attempt while the breaker is
// open, so a broker outage does not stall the queue on timeouts.
func WithBreaker(b *circuit.Breaker) WorkerOption {
	return func(w *Worker) {
		w.breaker = b
	}
}

// WithDrainTimeout bounds how long Run keeps publishing buffered events after
// its context is cancelled.
func WithDrainTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		w.drainTimeout = d
	}
}

func NewWorker(publisher Publisher, inbox <-chan Event, opts ...WorkerOption) *Worker {
	w := &Worker{publisher: publisher, inbox: inbox, drainTimeout: defaultDrainTimeout}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

// Run publishes events until ctx is cancelled or the inbox is closed. On
// cancellation it drains what is already buffered, bounded by the drain
// timeout, and returns nil.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			w.drain(context.WithoutCancel(ctx))
			return nil
		}
		select {
		case <-ctx.Done():
			w.drain(context.WithoutCancel(ctx))
			return nil
		case event, ok := <-w.inbox:
			if !ok {
				return nil
			}
			w.publish(ctx, event)
		}
	}
}

func (w *Worker) drain(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, w.drainTimeout)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			if n := len(w.inbox); n > 0 {
				w.logger.Warn("event drain timed out", "remaining", n)
			}
			return
		case event, ok := <-w.inbox:
			if !ok {
				return
			}
			w.publish(ctx, event)
		default:
			return
		}
	}
}

func (w *Worker) publish(ctx context.Context, event Event) {
	if w.breaker != nil && !w.breaker.Allow() {
		w.metrics.IncrementEventDropped()
		return
	}
	err := w.publisher.Publish(ctx, event)
	w.metrics.RecordEventPublished(err == nil)
	if w.breaker != nil {
		if err != nil {
			if w.breaker.RecordFailure() {
				w.logger.WarnContext(ctx, "event publisher circuit opened", "error", err)
			}
		} else {
			w.breaker.RecordSuccess()
		}
	}
	if err != nil {
		w.logger.ErrorContext(ctx, "failed to publish event",
			"type", event.Type,
			"person_id", event.PersonID.String(),
			"error", err,
		)
	}
}
