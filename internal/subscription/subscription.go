// Package subscription implements durable catch-up subscriptions over an
// event store's global stream: batched delivery with a latency ceiling, a
// persisted resume point, and in-place reset. Delivery is at-least-once with
// a monotonic resume point.
package subscription

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/ErlanBelekov/pg-executor/internal/eventstore"
)

// EventHandler consumes delivered batches. OnResetFrom is invoked when the
// subscription's resume point is rewound via ResetFrom.
type EventHandler interface {
	HandleBatch(events []eventstore.PersistedEvent) error
	OnResetFrom(order eventstore.GlobalEventOrder)
}

// BatchHandlerFunc adapts a plain function into an EventHandler with a no-op
// reset hook.
type BatchHandlerFunc func(events []eventstore.PersistedEvent) error

func (f BatchHandlerFunc) HandleBatch(events []eventstore.PersistedEvent) error { return f(events) }

func (BatchHandlerFunc) OnResetFrom(eventstore.GlobalEventOrder) {}

// RetryBackoff governs retries of failed event-store polls. Once MaxAttempts
// consecutive polls fail, the error is treated as non-retryable and the
// subscription suspends (persisting its resume point).
type RetryBackoff struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxAttempts     int
}

func DefaultRetryBackoff() RetryBackoff {
	return RetryBackoff{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		Multiplier:      2,
		MaxAttempts:     20,
	}
}

// delay returns the wait before retry number attempt (1-based), with ±25%
// jitter to avoid thundering herd on shared store outages.
func (b RetryBackoff) delay(attempt int) time.Duration {
	d := time.Duration(float64(b.InitialInterval) * math.Pow(b.Multiplier, float64(attempt-1)))
	if d > b.MaxInterval || d <= 0 {
		d = b.MaxInterval
	}
	jitter := time.Duration(rand.Int63n(int64(d/2)+1)) - d/4
	return d + jitter
}

// base carries the state shared by every event-store subscription flavor.
type base struct {
	subscriberID  string
	aggregateType string
	tenant        *string
	started       atomic.Bool
	active        atomic.Bool
	unsubscribe   func()
}

func (s *base) SubscriberID() string { return s.subscriberID }

func (s *base) AggregateType() string { return s.aggregateType }

func (s *base) IsStarted() bool { return s.started.Load() }

// IsActive reports whether the polling pipeline is currently live. A started
// subscription goes inactive when it suspends after exhausting poll retries.
func (s *base) IsActive() bool { return s.active.Load() }

// OnlyIncludeEventsForTenant restricts delivery to one tenant. Takes effect
// on the next Start.
func (s *base) OnlyIncludeEventsForTenant(tenant string) {
	s.tenant = &tenant
}
