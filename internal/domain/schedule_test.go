package domain_test

import (
	"testing"
	"time"

	"github.com/ErlanBelekov/pg-executor/internal/domain"
)

func TestCronConfiguration_AsFixedDelay_PrefersCarriedFallback(t *testing.T) {
	fallback := &domain.FixedDelay{InitialDelay: time.Second, Period: 5 * time.Second}
	cfg := domain.CronConfiguration{Expression: "*/10 * * * * *", FallbackDelay: fallback}

	fd, err := cfg.AsFixedDelay()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fd != *fallback {
		t.Errorf("expected carried fallback %+v, got %+v", *fallback, fd)
	}
}

func TestCronConfiguration_AsFixedDelay_DerivesFromSecondsExpression(t *testing.T) {
	cfg := domain.CronConfiguration{Expression: "*/10 * * * * *"}

	fd, err := cfg.AsFixedDelay()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fd.Period != 10*time.Second {
		t.Errorf("expected 10s period, got %s", fd.Period)
	}
	if fd.InitialDelay != fd.Period {
		t.Errorf("initial delay should equal period, got %s", fd.InitialDelay)
	}
}

func TestCronConfiguration_AsFixedDelay_DerivesFromFiveFieldExpression(t *testing.T) {
	cfg := domain.CronConfiguration{Expression: "*/5 * * * *"}

	fd, err := cfg.AsFixedDelay()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fd.Period != 5*time.Minute {
		t.Errorf("expected 5m period, got %s", fd.Period)
	}
}

func TestCronConfiguration_AsFixedDelay_RejectsGarbage(t *testing.T) {
	cfg := domain.CronConfiguration{Expression: "not a cron line"}
	if _, err := cfg.AsFixedDelay(); err == nil {
		t.Fatal("expected error for invalid expression")
	}
}

func TestPgCronJob_Validate(t *testing.T) {
	good := domain.PgCronJob{Name: "test", FunctionName: "fn_insert_5", CronExpression: "*/10 * * * * *"}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	bad := []domain.PgCronJob{
		{Name: "", FunctionName: "fn", CronExpression: "* * * * *"},
		{Name: "j", FunctionName: "", CronExpression: "* * * * *"},
		{Name: "j", FunctionName: "fn; DROP TABLE t", CronExpression: "* * * * *"},
		{Name: "j", FunctionName: "select", CronExpression: "* * * * *"},
		{Name: "j", FunctionName: "fn", CronExpression: ""},
	}
	for i, job := range bad {
		if err := job.Validate(); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
}
