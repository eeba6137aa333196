package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	StatusUp     = "up"
	StatusDown   = "down"
	StatusAbsent = "absent"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ExtensionChecker is satisfied by the pg_cron repository.
type ExtensionChecker interface {
	ExtensionExists(ctx context.Context) (bool, error)
}

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker verifies the scheduler's dependencies. Postgres being unreachable
// fails readiness; pg_cron being absent does not, since the scheduler falls
// back to in-process timers, but its state is reported so operators can tell
// which mode a node will elect into.
type Checker struct {
	db     Pinger
	cron   ExtensionChecker
	logger *slog.Logger
	gauge  *prometheus.GaugeVec
}

// NewChecker creates a health checker and registers its Prometheus gauge.
func NewChecker(db Pinger, cron ExtensionChecker, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pg_executor",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down or absent.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		db:     db,
		cron:   cron,
		logger: logger.With("component", "health"),
		gauge:  gauge,
	}
}

// Liveness returns a simple "up" response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: StatusUp}
}

// Readiness pings Postgres and probes the pg_cron extension.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := HealthResult{
		Status: StatusUp,
		Checks: make(map[string]CheckResult),
	}

	if err := c.db.Ping(checkCtx); err != nil {
		c.logger.Warn("postgres health check failed", "error", err)
		result.Status = StatusDown
		result.Checks["postgres"] = CheckResult{Status: StatusDown, Error: err.Error()}
		c.gauge.WithLabelValues("postgres").Set(0)
	} else {
		result.Checks["postgres"] = CheckResult{Status: StatusUp}
		c.gauge.WithLabelValues("postgres").Set(1)
	}

	switch exists, err := c.cron.ExtensionExists(checkCtx); {
	case err != nil:
		c.logger.Warn("pg_cron health check failed", "error", err)
		result.Checks["pg_cron"] = CheckResult{Status: StatusDown, Error: err.Error()}
		c.gauge.WithLabelValues("pg_cron").Set(0)
	case !exists:
		result.Checks["pg_cron"] = CheckResult{Status: StatusAbsent}
		c.gauge.WithLabelValues("pg_cron").Set(0)
	default:
		result.Checks["pg_cron"] = CheckResult{Status: StatusUp}
		c.gauge.WithLabelValues("pg_cron").Set(1)
	}

	return result
}
