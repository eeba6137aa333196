package repository

import (
	"context"

	"github.com/ErlanBelekov/pg-executor/internal/eventstore"
)

// DurableSubscriptionRepository persists subscription resume points in
// durable_subscription_resume_points, keyed by (subscriber_id,
// aggregate_type).
type DurableSubscriptionRepository interface {
	EnsureTable(ctx context.Context) error

	// GetOrCreateResumePoint returns the stored resume point, creating it
	// from onFirstSubscribe when the subscriber has never been seen.
	GetOrCreateResumePoint(ctx context.Context, subscriberID, aggregateType string, onFirstSubscribe eventstore.GlobalEventOrder) (*eventstore.ResumePoint, error)

	SaveResumePoint(ctx context.Context, resumePoint *eventstore.ResumePoint) error
}
