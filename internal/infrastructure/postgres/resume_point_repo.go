package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ErlanBelekov/pg-executor/internal/eventstore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DurableSubscriptionRepository persists resume points in
// durable_subscription_resume_points.
type DurableSubscriptionRepository struct {
	pool *pgxpool.Pool
}

func NewDurableSubscriptionRepository(pool *pgxpool.Pool) *DurableSubscriptionRepository {
	return &DurableSubscriptionRepository{pool: pool}
}

func (r *DurableSubscriptionRepository) EnsureTable(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS durable_subscription_resume_points (
			subscriber_id                          TEXT NOT NULL,
			aggregate_type                         TEXT NOT NULL,
			resume_from_and_including_global_order BIGINT NOT NULL,
			last_updated                           TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (subscriber_id, aggregate_type)
		)`)
	if err != nil {
		return fmt.Errorf("ensure durable_subscription_resume_points: %w", err)
	}
	return nil
}

func (r *DurableSubscriptionRepository) GetOrCreateResumePoint(ctx context.Context, subscriberID, aggregateType string, onFirstSubscribe eventstore.GlobalEventOrder) (*eventstore.ResumePoint, error) {
	rp, err := r.find(ctx, subscriberID, aggregateType)
	if err != nil {
		return nil, err
	}
	if rp != nil {
		return rp, nil
	}

	// First subscribe. A concurrent creator winning the race is fine — the
	// second read returns whichever value landed.
	_, err = r.pool.Exec(ctx, `
		INSERT INTO durable_subscription_resume_points
			(subscriber_id, aggregate_type, resume_from_and_including_global_order)
		VALUES ($1, $2, $3)
		ON CONFLICT (subscriber_id, aggregate_type) DO NOTHING`,
		subscriberID, aggregateType, int64(onFirstSubscribe))
	if err != nil {
		return nil, fmt.Errorf("create resume point %s/%s: %w", subscriberID, aggregateType, err)
	}

	rp, err = r.find(ctx, subscriberID, aggregateType)
	if err != nil {
		return nil, err
	}
	if rp == nil {
		return nil, fmt.Errorf("resume point %s/%s vanished after create", subscriberID, aggregateType)
	}
	return rp, nil
}

func (r *DurableSubscriptionRepository) SaveResumePoint(ctx context.Context, resumePoint *eventstore.ResumePoint) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO durable_subscription_resume_points
			(subscriber_id, aggregate_type, resume_from_and_including_global_order, last_updated)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (subscriber_id, aggregate_type) DO UPDATE
		SET resume_from_and_including_global_order = EXCLUDED.resume_from_and_including_global_order,
		    last_updated = now()`,
		resumePoint.SubscriberID, resumePoint.AggregateType, int64(resumePoint.ResumeFromAndIncluding))
	if err != nil {
		return fmt.Errorf("save resume point %s/%s: %w", resumePoint.SubscriberID, resumePoint.AggregateType, err)
	}
	return nil
}

func (r *DurableSubscriptionRepository) find(ctx context.Context, subscriberID, aggregateType string) (*eventstore.ResumePoint, error) {
	var order int64
	err := r.pool.QueryRow(ctx, `
		SELECT resume_from_and_including_global_order
		FROM durable_subscription_resume_points
		WHERE subscriber_id = $1 AND aggregate_type = $2`,
		subscriberID, aggregateType,
	).Scan(&order)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find resume point %s/%s: %w", subscriberID, aggregateType, err)
	}
	return &eventstore.ResumePoint{
		SubscriberID:           subscriberID,
		AggregateType:          aggregateType,
		ResumeFromAndIncluding: eventstore.GlobalEventOrder(order),
	}, nil
}
