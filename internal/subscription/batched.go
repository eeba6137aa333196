package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ErlanBelekov/pg-executor/internal/eventstore"
	"github.com/ErlanBelekov/pg-executor/internal/metrics"
	"github.com/ErlanBelekov/pg-executor/internal/repository"
)

// drainWindow is how long Stop waits for in-flight handler callbacks to
// settle before persisting the resume point.
const drainWindow = 500 * time.Millisecond

// BatchedConfig configures a non-exclusive batched asynchronous
// subscription.
type BatchedConfig struct {
	EventStore    eventstore.EventStore
	Repository    repository.DurableSubscriptionRepository
	SubscriberID  string
	AggregateType string

	// OnFirstSubscribeFromAndIncluding seeds the resume point the first time
	// this subscriber is ever seen.
	OnFirstSubscribeFromAndIncluding eventstore.GlobalEventOrder

	// MaxBatchSize caps a delivered batch; MaxLatency caps how long the
	// first buffered event waits before the partial batch is delivered
	// anyway.
	MaxBatchSize int
	MaxLatency   time.Duration

	PollBatchSize int
	PollInterval  time.Duration

	Backoff RetryBackoff
	Handler EventHandler
	Logger  *slog.Logger

	// Unsubscribe, when set, runs after Unsubscribe stops the subscription.
	Unsubscribe func()
}

// Batched is a durable catch-up subscription delivering events in bounded
// batches. It is non-exclusive: any number of nodes may run the same
// subscriber concurrently, each against its own demand; the resume point is
// advanced only by acknowledged batches and persisted on stop, reset and
// suspension — at-least-once after a crash.
type Batched struct {
	base
	cfg    BatchedConfig
	logger *slog.Logger

	mu     sync.Mutex // lifecycle transitions
	cancel context.CancelFunc
	done   chan struct{}

	rpMu        sync.Mutex // resume point
	resumePoint *eventstore.ResumePoint
}

// NewBatched validates the configuration and builds the subscription.
func NewBatched(cfg BatchedConfig) (*Batched, error) {
	if cfg.EventStore == nil || cfg.Repository == nil || cfg.Handler == nil {
		return nil, errors.New("batched subscription requires an event store, a repository and a handler")
	}
	if cfg.SubscriberID == "" || cfg.AggregateType == "" {
		return nil, errors.New("batched subscription requires a subscriber id and an aggregate type")
	}
	if cfg.MaxBatchSize <= 0 {
		return nil, errors.New("max batch size must be positive")
	}
	if cfg.MaxLatency <= 0 {
		return nil, errors.New("max latency must be positive")
	}
	if cfg.PollBatchSize <= 0 {
		cfg.PollBatchSize = cfg.MaxBatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.Backoff == (RetryBackoff{}) {
		cfg.Backoff = DefaultRetryBackoff()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Batched{
		cfg:    cfg,
		logger: cfg.Logger.With("component", "batched_subscription", "subscriber_id", cfg.SubscriberID),
	}
	s.subscriberID = cfg.SubscriberID
	s.aggregateType = cfg.AggregateType
	s.unsubscribe = cfg.Unsubscribe
	return s, nil
}

func (s *Batched) IsExclusive() bool { return false }

func (s *Batched) IsInTransaction() bool { return false }

// ResumeFromAndIncluding returns the current in-memory resume point.
func (s *Batched) ResumeFromAndIncluding() eventstore.GlobalEventOrder {
	s.rpMu.Lock()
	defer s.rpMu.Unlock()
	if s.resumePoint == nil {
		return s.cfg.OnFirstSubscribeFromAndIncluding
	}
	return s.resumePoint.ResumeFromAndIncluding
}

// Start is idempotent. It resolves (or creates) the durable resume point and
// launches the polling pipeline.
func (s *Batched) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started.Load() {
		return nil
	}

	rp, err := s.cfg.Repository.GetOrCreateResumePoint(ctx,
		s.cfg.SubscriberID, s.cfg.AggregateType, s.cfg.OnFirstSubscribeFromAndIncluding)
	if err != nil {
		return fmt.Errorf("resolve resume point: %w", err)
	}

	s.rpMu.Lock()
	s.resumePoint = rp
	cursor := rp.ResumeFromAndIncluding
	s.rpMu.Unlock()

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started.Store(true)
	s.active.Store(true)

	s.logger.Info("subscription started", "resume_from", int64(cursor))
	go s.pollLoop(loopCtx, cursor)
	return nil
}

// Stop disposes the polling pipeline, waits a short drain window so
// in-flight callbacks settle, then persists the resume point.
func (s *Batched) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started.Load() {
		return nil
	}

	s.cancel()
	select {
	case <-s.done:
	case <-time.After(drainWindow):
	case <-ctx.Done():
	}

	err := s.persistResumePoint(ctx)

	s.started.Store(false)
	s.active.Store(false)
	s.logger.Info("subscription stopped", "resume_from", int64(s.ResumeFromAndIncluding()))
	return err
}

// Unsubscribe stops the subscription and invokes the unsubscribe callback.
func (s *Batched) Unsubscribe(ctx context.Context) error {
	err := s.Stop(ctx)
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	return err
}

// ResetFrom rewinds the resume point to order: the one legal way for it to
// move backwards. A running subscription is stopped, the override persisted,
// the handler notified, processor invoked, and the subscription restarted.
func (s *Batched) ResetFrom(ctx context.Context, order eventstore.GlobalEventOrder, processor func(eventstore.GlobalEventOrder)) error {
	wasStarted := s.started.Load()
	if wasStarted {
		if err := s.Stop(ctx); err != nil {
			return fmt.Errorf("stop before reset: %w", err)
		}
	}

	s.rpMu.Lock()
	if s.resumePoint == nil {
		rp, err := s.cfg.Repository.GetOrCreateResumePoint(ctx,
			s.cfg.SubscriberID, s.cfg.AggregateType, s.cfg.OnFirstSubscribeFromAndIncluding)
		if err != nil {
			s.rpMu.Unlock()
			return fmt.Errorf("resolve resume point: %w", err)
		}
		s.resumePoint = rp
	}
	s.resumePoint.ResumeFromAndIncluding = order
	snapshot := *s.resumePoint
	s.rpMu.Unlock()

	if err := s.cfg.Repository.SaveResumePoint(ctx, &snapshot); err != nil {
		return fmt.Errorf("persist reset resume point: %w", err)
	}

	s.cfg.Handler.OnResetFrom(order)
	if processor != nil {
		processor(order)
	}

	if wasStarted {
		return s.Start(ctx)
	}
	return nil
}

// pollLoop is the pull-loop equivalent of the reactive pipeline: request up
// to PollBatchSize events per interval, buffer up to MaxBatchSize or
// MaxLatency since the first buffered event, hand the batch to the handler,
// advance the cursor.
func (s *Batched) pollLoop(ctx context.Context, cursor eventstore.GlobalEventOrder) {
	defer close(s.done)

	// The tenant filter is fixed for the lifetime of this loop.
	tenant := s.tenant

	var buffer []eventstore.PersistedEvent
	var latencyTimer *time.Timer
	var latencyC <-chan time.Time

	flush := func() {
		if latencyTimer != nil {
			latencyTimer.Stop()
			latencyTimer = nil
			latencyC = nil
		}
		if len(buffer) == 0 {
			return
		}
		if err := s.cfg.Handler.HandleBatch(buffer); err != nil {
			// Skip and keep demand flowing; the resume point advances past
			// the failed batch.
			s.logger.Error("batch handler failed, skipping batch",
				"error", err,
				"first_order", int64(buffer[0].GlobalOrder),
				"events", len(buffer))
			metrics.SubscriptionHandlerFailuresTotal.WithLabelValues(s.cfg.SubscriberID).Inc()
		} else {
			metrics.SubscriptionBatchesTotal.WithLabelValues(s.cfg.SubscriberID).Inc()
			metrics.SubscriptionEventsTotal.WithLabelValues(s.cfg.SubscriberID).Add(float64(len(buffer)))
		}
		cursor = buffer[len(buffer)-1].GlobalOrder.Next()
		s.setResume(cursor)
		buffer = nil
	}

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	attempt := 0

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case <-latencyC:
			flush()

		case <-ticker.C:
			pollFrom := cursor
			if n := len(buffer); n > 0 {
				pollFrom = buffer[n-1].GlobalOrder.Next()
			}

			events, err := s.cfg.EventStore.PollEvents(ctx, s.cfg.AggregateType,
				pollFrom, s.cfg.PollBatchSize, tenant, s.cfg.SubscriberID)
			if err != nil {
				if ctx.Err() != nil {
					flush()
					return
				}
				attempt++
				if attempt >= s.cfg.Backoff.MaxAttempts {
					s.logger.Error("event store poll retries exhausted, suspending subscription",
						"error", err, "attempts", attempt)
					flush()
					s.suspend()
					return
				}
				s.logger.Warn("event store poll failed, retrying",
					"error", err, "attempt", attempt)
				select {
				case <-ctx.Done():
					flush()
					return
				case <-time.After(s.cfg.Backoff.delay(attempt)):
				}
				continue
			}
			attempt = 0

			for _, ev := range events {
				if len(buffer) == 0 {
					latencyTimer = time.NewTimer(s.cfg.MaxLatency)
					latencyC = latencyTimer.C
				}
				buffer = append(buffer, ev)
				if len(buffer) >= s.cfg.MaxBatchSize {
					flush()
				}
			}
		}
	}
}

func (s *Batched) setResume(order eventstore.GlobalEventOrder) {
	s.rpMu.Lock()
	if s.resumePoint != nil {
		s.resumePoint.ResumeFromAndIncluding = order
	}
	s.rpMu.Unlock()
	metrics.SubscriptionResumePoint.WithLabelValues(s.cfg.SubscriberID).Set(float64(order))
}

// suspend persists the resume point and marks the pipeline inactive after a
// non-retryable poll failure. The subscription stays started; a caller can
// Stop and Start it again.
func (s *Batched) suspend() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.persistResumePoint(ctx); err != nil {
		s.logger.Error("persist resume point on suspend", "error", err)
	}
	s.active.Store(false)
}

func (s *Batched) persistResumePoint(ctx context.Context) error {
	s.rpMu.Lock()
	if s.resumePoint == nil {
		s.rpMu.Unlock()
		return nil
	}
	snapshot := *s.resumePoint
	s.rpMu.Unlock()

	if err := s.cfg.Repository.SaveResumePoint(ctx, &snapshot); err != nil {
		return fmt.Errorf("persist resume point: %w", err)
	}
	return nil
}
