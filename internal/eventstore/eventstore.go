// Package eventstore declares the event-store surface consumed by the
// subscription engine. The store's own storage and polling implementation
// lives elsewhere; subscriptions only pull batches from its global stream.
package eventstore

import (
	"context"
	"time"
)

// GlobalEventOrder is the monotonically increasing position of a persisted
// event in the global event stream; totally ordered.
type GlobalEventOrder int64

// FirstGlobalEventOrder is the order of the first event ever persisted.
const FirstGlobalEventOrder GlobalEventOrder = 1

// Next returns the order immediately after o.
func (o GlobalEventOrder) Next() GlobalEventOrder { return o + 1 }

// PersistedEvent is one event read from the store's global stream.
type PersistedEvent struct {
	GlobalOrder   GlobalEventOrder
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Tenant        *string
	Timestamp     time.Time
}

// ResumePoint is a subscriber's durable cursor into an aggregate type's
// stream. Mutated only by the subscription owning it.
type ResumePoint struct {
	SubscriberID           string
	AggregateType          string
	ResumeFromAndIncluding GlobalEventOrder
}

// EventStore exposes the cold global stream as batch pulls. PollEvents
// returns up to limit events with GlobalOrder >= fromOrder, filtered to
// tenant when non-nil. subscriberID is passed through; whether the store
// keeps server-side state per subscriber is its own business. An empty slice
// means the subscriber has caught up.
type EventStore interface {
	PollEvents(ctx context.Context, aggregateType string, fromOrder GlobalEventOrder, limit int, tenant *string, subscriberID string) ([]PersistedEvent, error)
}
