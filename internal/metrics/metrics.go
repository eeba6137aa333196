package metrics

import (
	"encoding/json"
	"net/http"

	"github.com/ErlanBelekov/pg-executor/internal/health"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Scheduler metrics

	SchedulerLeader = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pg_executor",
		Name:      "scheduler_leader",
		Help:      "Whether this node currently holds the scheduler lock. 1 = leader.",
	})

	PgCronAvailable = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pg_executor",
		Name:      "pg_cron_available",
		Help:      "Result of the start-time pg_cron availability probe.",
	})

	JobsInstalledTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pg_executor",
		Name:      "jobs_installed_total",
		Help:      "Jobs installed by this node, by mode.",
	}, []string{"mode"})

	ExecutorTaskDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pg_executor",
		Name:      "executor_task_duration_seconds",
		Help:      "Duration of in-process job ticks.",
		Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	})

	ExecutorTaskFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "pg_executor",
		Name:      "executor_task_failures_total",
		Help:      "In-process job ticks that returned an error or panicked.",
	})

	// Subscription metrics

	SubscriptionBatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pg_executor",
		Name:      "subscription_batches_total",
		Help:      "Event batches handed to batched subscription handlers.",
	}, []string{"subscriber"})

	SubscriptionEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pg_executor",
		Name:      "subscription_events_total",
		Help:      "Events delivered through batched subscriptions.",
	}, []string{"subscriber"})

	SubscriptionHandlerFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pg_executor",
		Name:      "subscription_handler_failures_total",
		Help:      "Batches whose handler returned an error; the batch is skipped.",
	}, []string{"subscriber"})

	SubscriptionResumePoint = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pg_executor",
		Name:      "subscription_resume_point",
		Help:      "Current in-memory resume point per subscriber.",
	}, []string{"subscriber"})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pg_executor",
		Name:      "http_request_duration_seconds",
		Help:      "Ops API request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pg_executor",
		Name:      "http_requests_total",
		Help:      "Total ops API requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pg_executor",
		Name:      "http_requests_in_flight",
		Help:      "Ops API requests currently being served.",
	})
)

func Register() {
	prometheus.MustRegister(
		SchedulerLeader,
		PgCronAvailable,
		JobsInstalledTotal,
		ExecutorTaskDuration,
		ExecutorTaskFailuresTotal,
		SubscriptionBatchesTotal,
		SubscriptionEventsTotal,
		SubscriptionHandlerFailuresTotal,
		SubscriptionResumePoint,
		HTTPRequestDuration,
		HTTPRequestsTotal,
		HTTPRequestsInFlight,
	)
}

// NewServer serves /metrics plus the liveness and readiness probes.
func NewServer(addr string, checker *health.Checker) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		result := checker.Readiness(r.Context())
		if result.Status != "up" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		writeHealth(w, result)
	})
	return &http.Server{Addr: addr, Handler: mux}
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}
