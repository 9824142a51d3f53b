// Package events publishes person lifecycle events.
//
// The service enqueues onto an Emitter without blocking; a Worker drains the
// queue to a Publisher (Kafka in production). Publication is best-effort and
// never changes the outcome of the operation that produced the event.
package events

import (
	"context"
	"time"

	id "dogfight/pkg/domain"
)

// Type names an event kind.
type Type string

const TypePersonCreated Type = "person_created"

// Event is the transport-agnostic record handed to publishers.
type Event struct {
	Type       Type        `json:"type"`
	PersonID   id.PersonID `json:"person_id"`
	Nickname   string      `json:"apelido"`
	RequestID  string      `json:"request_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

//go:generate mockgen -source=events.go -destination=mocks/mocks.go -package=mocks Publisher

// Publisher delivers events to a sink.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
