package lock

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AdvisoryLockManager implements FencedLockManager on top of PostgreSQL
// session advisory locks. A contender pins one pooled connection per lock;
// losing the connection loses the lock, which is exactly the eviction
// behavior the scheduler expects on node or network failure.
type AdvisoryLockManager struct {
	pool          *pgxpool.Pool
	logger        *slog.Logger
	retryInterval time.Duration
	pingInterval  time.Duration

	mu         sync.Mutex
	contenders map[string]*contender
}

type contender struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func NewAdvisoryLockManager(pool *pgxpool.Pool, logger *slog.Logger) *AdvisoryLockManager {
	return &AdvisoryLockManager{
		pool:          pool,
		logger:        logger.With("component", "advisory_lock"),
		retryInterval: 2 * time.Second,
		pingInterval:  3 * time.Second,
		contenders:    make(map[string]*contender),
	}
}

// lockKey maps the lock name onto the advisory-lock keyspace. FNV-1a is for
// distribution, not security.
func lockKey(lockName string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(lockName))
	return int64(h.Sum64())
}

func (m *AdvisoryLockManager) AcquireLockAsync(ctx context.Context, lockName string, callback Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.contenders[lockName]; exists {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c := &contender{cancel: cancel, done: make(chan struct{})}
	m.contenders[lockName] = c

	go func() {
		defer close(c.done)
		m.contend(runCtx, lockName, callback)
	}()
}

func (m *AdvisoryLockManager) CancelAsyncLockAcquiring(lockName string) {
	m.mu.Lock()
	c, exists := m.contenders[lockName]
	delete(m.contenders, lockName)
	m.mu.Unlock()

	if exists {
		c.cancel()
		<-c.done
	}
}

func (m *AdvisoryLockManager) contend(ctx context.Context, lockName string, callback Callback) {
	key := lockKey(lockName)

	for {
		held := m.holdOnce(ctx, lockName, key, callback)
		if ctx.Err() != nil {
			return
		}
		if !held {
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.retryInterval):
			}
		}
	}
}

// holdOnce makes one attempt to take the lock and, on success, holds it
// until the session dies or the context is cancelled. Returns whether the
// lock was held at all.
func (m *AdvisoryLockManager) holdOnce(ctx context.Context, lockName string, key int64, callback Callback) bool {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		if ctx.Err() == nil {
			m.logger.Debug("acquire connection for lock", "lock", lockName, "error", err)
		}
		return false
	}
	defer conn.Release()

	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&locked); err != nil {
		if ctx.Err() == nil {
			m.logger.Debug("try advisory lock", "lock", lockName, "error", err)
		}
		return false
	}
	if !locked {
		return false
	}

	m.logger.Info("lock acquired", "lock", lockName)
	if callback.OnAcquired != nil {
		callback.OnAcquired(lockName)
	}

	released := func() {
		m.logger.Info("lock released", "lock", lockName)
		if callback.OnReleased != nil {
			callback.OnReleased(lockName)
		}
	}

	// The session holds the lock as long as this connection stays healthy.
	ticker := time.NewTicker(m.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best-effort unlock so a follower can take over without
			// waiting for the pool to close the session.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			_, _ = conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, key)
			cancel()
			released()
			return true
		case <-ticker.C:
			if err := conn.Ping(ctx); err != nil {
				if ctx.Err() == nil {
					m.logger.Warn("lock session lost", "lock", lockName, "error", err)
				}
				released()
				return true
			}
		}
	}
}
