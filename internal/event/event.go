// Package event provides the in-process publish/subscribe bus that carries
// outbound shape changes from the scene to the network layer.
//
// Topics are hierarchical ("shapes.position.update") and subscriptions may
// use the * and ** wildcards of package topic. Delivery is synchronous and
// ordered by subscription priority; a panicking handler is recovered and
// reported as an error without affecting other handlers.
package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/dshills/tabletop/internal/event/topic"
)

// Event is a typed event.
type Event[T any] struct {
	// Type is the hierarchical event type.
	Type topic.Topic

	// Payload contains the event-specific data.
	Payload T

	// Metadata contains standard event information.
	Metadata Metadata
}

// Metadata is attached to every event.
type Metadata struct {
	// ID uniquely identifies the event.
	ID string

	// Timestamp is when the event was created.
	Timestamp time.Time

	// Source identifies the publisher.
	Source string

	// CorrelationID links related events.
	CorrelationID string
}

// NewEvent creates an event with fresh metadata.
func NewEvent[T any](eventType topic.Topic, payload T, source string) Event[T] {
	return Event[T]{
		Type:    eventType,
		Payload: payload,
		Metadata: Metadata{
			ID:        uuid.NewString(),
			Timestamp: time.Now(),
			Source:    source,
		},
	}
}

// EventTopic returns the event's topic for type-erased handling.
func (e Event[T]) EventTopic() topic.Topic {
	return e.Type
}

// EventMetadata returns the event's metadata for type-erased handling.
func (e Event[T]) EventMetadata() Metadata {
	return e.Metadata
}

// WithCorrelation returns a copy of the event with a correlation id.
func (e Event[T]) WithCorrelation(id string) Event[T] {
	e.Metadata.CorrelationID = id
	return e
}

// TopicProvider is implemented by events that know their topic.
type TopicProvider interface {
	EventTopic() topic.Topic
}

// MetadataProvider is implemented by events that carry metadata.
type MetadataProvider interface {
	EventMetadata() Metadata
}
