package domain

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ScheduleConfiguration is a tagged variant: either a cron expression handed
// verbatim to pg_cron, or a fixed-delay schedule run on the in-process timer
// pool. The scheduler pattern-matches on the concrete type.
type ScheduleConfiguration interface {
	scheduleConfiguration()
}

// CronConfiguration schedules through pg_cron when it is available.
// FallbackDelay, when set, is used instead of deriving a period from the
// expression if pg_cron is unavailable.
type CronConfiguration struct {
	Expression    string
	FallbackDelay *FixedDelay
}

func (CronConfiguration) scheduleConfiguration() {}

// FixedDelayConfiguration always schedules on the in-process timer pool.
type FixedDelayConfiguration struct {
	FixedDelay
}

func (FixedDelayConfiguration) scheduleConfiguration() {}

// cronParser accepts both the 5-field form and pg_cron's 6-field
// seconds-resolution form.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// AsFixedDelay converts the cron configuration into a fixed-delay schedule
// for nodes without pg_cron. The carried fallback wins; otherwise the period
// is the gap between the expression's next two fire times.
func (c CronConfiguration) AsFixedDelay() (FixedDelay, error) {
	if c.FallbackDelay != nil {
		return *c.FallbackDelay, nil
	}

	sched, err := cronParser.Parse(c.Expression)
	if err != nil {
		return FixedDelay{}, fmt.Errorf("parse cron expression %q: %w", c.Expression, err)
	}

	first := sched.Next(time.Now())
	period := sched.Next(first).Sub(first)
	if period <= 0 {
		return FixedDelay{}, fmt.Errorf("cron expression %q has no recurring fire time", c.Expression)
	}
	return FixedDelay{InitialDelay: period, Period: period}, nil
}
