package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	Env      string `env:"ENV" envDefault:"local" validate:"required,oneof=local staging production"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info" validate:"required,oneof=debug info warn error"`

	DatabaseURL string `env:"DATABASE_URL,required" validate:"required"`

	// SchedulerThreads bounds how many in-process job ticks run concurrently.
	SchedulerThreads int    `env:"SCHEDULER_THREADS" envDefault:"4" validate:"min=1,max=64"`
	LockName         string `env:"SCHEDULER_LOCK_NAME" envDefault:"pg-executor-scheduler" validate:"required"`
	TTLFunctionName  string `env:"TTL_FUNCTION_NAME" envDefault:"pg_executor_ttl_delete" validate:"required"`

	MetricsPort string `env:"METRICS_PORT" envDefault:"9090"`
	OpsPort     string `env:"OPS_PORT" envDefault:"8080"`

	// OpsJWTSecret signs bearer tokens for the ops API.
	OpsJWTSecret string `env:"OPS_JWT_SECRET" validate:"required_if=Env production,required_if=Env staging"`
}

func Load() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// SlogLevel converts the LOG_LEVEL string to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
