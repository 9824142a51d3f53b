package events

import (
	"context"
	"log/slog"

	personmetrics "dogfight/internal/person/metrics"
)

const defaultBufferSize = 1024

// Emitter is a bounded, non-blocking queue in front of a Worker.
// When the queue is full the event is dropped and counted.
type Emitter struct {
	queue   chan Event
	logger  *slog.Logger
	metrics *personmetrics.Metrics
}

type EmitterOption func(*Emitter)

func WithEmitterLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		e.logger = logger
	}
}

func WithEmitterMetrics(m *personmetrics.Metrics) EmitterOption {
	return func(e *Emitter) {
		e.metrics = m
	}
}

func NewEmitter(bufferSize int, opts ...EmitterOption) *Emitter {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	e := &Emitter{queue: make(chan Event, bufferSize)}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Emit enqueues event and reports whether it was accepted.
func (e *Emitter) Emit(ctx context.Context, event Event) bool {
	select {
	case e.queue <- event:
		return true
	default:
		e.metrics.IncrementEventDropped()
		e.logger.WarnContext(ctx, "event queue full, dropping event",
			"type", event.Type,
			"person_id", event.PersonID.String(),
		)
		return false
	}
}

// Events exposes the receive side of the queue for a Worker.
func (e *Emitter) Events() <-chan Event {
	return e.queue
}

// Close stops accepting events. Emit must not be called afterwards.
func (e *Emitter) Close() {
	close(e.queue)
}
