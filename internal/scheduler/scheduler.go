package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"vaultflow/internal/domain"
	"vaultflow/internal/store"
)

// Built-in frequencies. A strategy may instead declare "cron:<expr>" with a
// standard 5-field expression.
const (
	FreqHourly = "hourly"
	FreqDaily  = "daily"
	FreqWeekly = "weekly"

	cronPrefix = "cron:"
)

// BackoffPolicy maps a consecutive-failure streak (>=1) to a retry delay.
// The scheduler clamps the result to its configured bounds, so policies only
// need to shape the curve.
type BackoffPolicy func(streak int) time.Duration

// Config carries the tunable scheduling parameters. Zero values fall back to
// defaults in New.
type Config struct {
	OnboardingDelay time.Duration
	BackoffMin      time.Duration
	BackoffMax      time.Duration
}

type Scheduler struct {
	cfg     Config
	backoff BackoffPolicy
}

func New(cfg Config, policy BackoffPolicy) *Scheduler {
	if cfg.OnboardingDelay <= 0 {
		cfg.OnboardingDelay = 5 * time.Minute
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = 10 * time.Minute
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = time.Hour
	}
	if policy == nil {
		policy = ExponentialBackoff(cfg.BackoffMin)
	}
	return &Scheduler{cfg: cfg, backoff: policy}
}

// ExponentialBackoff doubles the floor per additional consecutive failure.
func ExponentialBackoff(floor time.Duration) BackoffPolicy {
	return func(streak int) time.Duration {
		if streak <= 1 {
			return floor
		}
		if streak > 16 {
			streak = 16
		}
		return floor << uint(streak-1)
	}
}

// InitialSchedule returns the first run time for a fresh subscription: a short
// delay so the new task is observable quickly instead of waiting out a full
// frequency period.
func (s *Scheduler) InitialSchedule(now time.Time) time.Time {
	return now.Add(s.cfg.OnboardingDelay)
}

// NextSchedule computes the run time following a completed attempt. Success
// advances by the strategy's full frequency from the execution time; failure
// applies the retry backoff, bounded below by the configured minimum and kept
// strictly inside the full interval.
func (s *Scheduler) NextSchedule(executed time.Time, frequency string, outcome domain.OutcomeStatus, streak int) (time.Time, error) {
	if outcome == domain.OutcomeSuccess {
		return NextAfter(frequency, executed)
	}

	d := s.backoff(streak)
	if d < s.cfg.BackoffMin {
		d = s.cfg.BackoffMin
	}
	if d > s.cfg.BackoffMax {
		d = s.cfg.BackoffMax
	}
	if ivl, err := Interval(frequency); err == nil && d >= ivl {
		d = ivl / 2
	}
	return executed.Add(d), nil
}

// SelectDue picks the earliest due task. Pure selection, no side effects;
// exclusivity comes from the store's conditional claim, not from here.
func (s *Scheduler) SelectDue(ctx context.Context, st store.Store, now time.Time) (domain.StrategyTask, error) {
	return st.FindDue(ctx, now)
}

// Interval returns the fixed period for a built-in frequency. Cron
// frequencies have no fixed period and report an error.
func Interval(frequency string) (time.Duration, error) {
	switch frequency {
	case FreqHourly:
		return time.Hour, nil
	case FreqDaily:
		return 24 * time.Hour, nil
	case FreqWeekly:
		return 7 * 24 * time.Hour, nil
	}
	return 0, fmt.Errorf("frequency %q has no fixed interval", frequency)
}

// NextAfter returns the next run time for a frequency relative to from.
func NextAfter(frequency string, from time.Time) (time.Time, error) {
	if expr, ok := strings.CutPrefix(frequency, cronPrefix); ok {
		sched, err := cron.ParseStandard(expr)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid cron frequency %q: %w", frequency, err)
		}
		return sched.Next(from), nil
	}
	ivl, err := Interval(frequency)
	if err != nil {
		return time.Time{}, err
	}
	return from.Add(ivl), nil
}

// ValidateFrequency rejects unknown frequency values at subscription time.
func ValidateFrequency(frequency string) error {
	if expr, ok := strings.CutPrefix(frequency, cronPrefix); ok {
		_, err := cron.ParseStandard(expr)
		return err
	}
	_, err := Interval(frequency)
	return err
}
