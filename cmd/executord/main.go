package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/pg-executor/config"
	"github.com/ErlanBelekov/pg-executor/internal/health"
	"github.com/ErlanBelekov/pg-executor/internal/infrastructure/postgres"
	"github.com/ErlanBelekov/pg-executor/internal/lock"
	ctxlog "github.com/ErlanBelekov/pg-executor/internal/log"
	"github.com/ErlanBelekov/pg-executor/internal/metrics"
	"github.com/ErlanBelekov/pg-executor/internal/scheduler"
	httptransport "github.com/ErlanBelekov/pg-executor/internal/transport/http"
	"github.com/ErlanBelekov/pg-executor/internal/transport/http/handler"
	"github.com/ErlanBelekov/pg-executor/internal/ttl"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	logger.Info("db connected")

	metrics.Register()

	cronRepo := postgres.NewPgCronRepository(pool, logger)
	checker := health.NewChecker(pool, cronRepo, logger, prometheus.DefaultRegisterer)
	jobRepo := postgres.NewExecutorJobRepository(pool)
	uowFactory := postgres.NewUnitOfWorkFactory(pool)
	lockManager := lock.NewAdvisoryLockManager(pool, logger)

	// Subscriptions run in consumer processes; executord bootstraps their
	// resume-point table alongside its own schema.
	subscriptionRepo := postgres.NewDurableSubscriptionRepository(pool)
	if err := subscriptionRepo.EnsureTable(ctx); err != nil {
		stop()
		log.Fatalf("resume point table: %v", err)
	}

	sched := scheduler.New(lockManager, cronRepo, jobRepo, logger, scheduler.Config{
		LockName:             cfg.LockName,
		Threads:              cfg.SchedulerThreads,
		IsExtensionNotLoaded: postgres.IsExtensionNotLoaded,
		IsTransientIO:        postgres.IsTransientIO,
	})
	if err := sched.Start(ctx); err != nil {
		stop()
		log.Fatalf("scheduler: %v", err)
	}

	ttlManager := ttl.NewManager(sched, uowFactory, cfg.TTLFunctionName, logger)
	if err := ttlManager.Start(ctx); err != nil {
		stop()
		log.Fatalf("ttl manager: %v", err)
	}

	opsHandler := handler.NewOpsHandler(cronRepo, jobRepo, logger)
	opsSrv := &http.Server{
		Addr:    ":" + cfg.OpsPort,
		Handler: httptransport.NewRouter(logger, opsHandler, []byte(cfg.OpsJWTSecret)),
	}
	go func() {
		logger.Info("ops server started", "port", cfg.OpsPort)
		if err := opsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server", "error", err)
		}
	}()

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sched.Stop(shutdownCtx); err != nil {
		logger.Error("scheduler shutdown", "error", err)
	}
	if err := opsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("executord shut down")
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewHandler(inner))
}
