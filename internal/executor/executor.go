package executor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"vaultflow/internal/domain"
	"vaultflow/internal/notifier"
	"vaultflow/internal/runner"
	"vaultflow/internal/scheduler"
	"vaultflow/internal/store"
	"vaultflow/internal/strategy"
)

var (
	// ErrNoTaskDue means there was nothing to execute: either no task is due
	// or another caller claimed the candidate first. Callers cannot and must
	// not distinguish the two.
	ErrNoTaskDue = errors.New("no task due")
	// ErrTaskBusy is returned by RunTask when the requested task is already
	// claimed by another execution.
	ErrTaskBusy = errors.New("task is already running")
)

// Config carries the executor's tunable parameters.
type Config struct {
	// RunTimeout bounds one StrategyRunner invocation. On expiry the attempt
	// is recorded as a domain failure, not a crash.
	RunTimeout time.Duration
	// MaxExecutionAge is how long a claim may be held before it is presumed
	// abandoned and force-reclaimed.
	MaxExecutionAge time.Duration
}

// Executor drives one execution cycle: claim, format, run, persist, notify.
// Multiple executors (or processes) may run concurrently; exclusivity comes
// from the store's conditional claim update alone.
type Executor struct {
	store    store.Store
	registry *strategy.Registry
	runner   runner.StrategyRunner
	sched    *scheduler.Scheduler
	notify   notifier.Notifier
	cfg      Config
}

func New(st store.Store, reg *strategy.Registry, run runner.StrategyRunner, sched *scheduler.Scheduler, n notifier.Notifier, cfg Config) *Executor {
	if cfg.RunTimeout <= 0 {
		cfg.RunTimeout = 5 * time.Minute
	}
	if cfg.MaxExecutionAge <= 0 {
		cfg.MaxExecutionAge = 30 * time.Minute
	}
	return &Executor{store: st, registry: reg, runner: run, sched: sched, notify: n, cfg: cfg}
}

// RunNextDue claims and executes the earliest due task. It returns
// ErrNoTaskDue when nothing is eligible or the claim race was lost; any other
// error is an engine fault and leaves the task in its prior state.
func (e *Executor) RunNextDue(ctx context.Context, now time.Time) (domain.Outcome, error) {
	if n, err := e.store.ReclaimStale(ctx, now, e.cfg.MaxExecutionAge); err != nil {
		return domain.Outcome{}, fmt.Errorf("reclaim stale claims: %w", err)
	} else if n > 0 {
		log.Warn().Int("reclaimed", n).Msg("recovered stale claims")
	}

	task, err := e.sched.SelectDue(ctx, e.store, now)
	if errors.Is(err, store.ErrNoDueTask) {
		return domain.Outcome{}, ErrNoTaskDue
	}
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("select due task: %w", err)
	}

	token, ok, err := e.store.TryClaim(ctx, task.ID, domain.StatusIdle, now)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("claim task %s: %w", task.ID, err)
	}
	if !ok {
		// Lost the race: another caller is executing this task.
		return domain.Outcome{}, ErrNoTaskDue
	}
	task.ClaimToken = token

	return e.executeClaimed(ctx, task, now)
}

// RunTask claims and executes one specific task on demand, regardless of its
// next run time. Disabled tasks are refused.
func (e *Executor) RunTask(ctx context.Context, id string, now time.Time) (domain.Outcome, error) {
	task, err := e.store.Get(ctx, id)
	if err != nil {
		return domain.Outcome{}, err
	}
	if !task.Enabled {
		return domain.Outcome{}, fmt.Errorf("task %s is disabled", id)
	}

	token, ok, err := e.store.TryClaim(ctx, task.ID, domain.StatusIdle, now)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("claim task %s: %w", task.ID, err)
	}
	if !ok {
		return domain.Outcome{}, ErrTaskBusy
	}
	task.ClaimToken = token

	return e.executeClaimed(ctx, task, now)
}

// executeClaimed runs one cycle for a task we hold the claim on. Strategy
// lookup failures, template errors, runner errors and timeouts are all
// normalized into a failure outcome so the schedule always advances.
func (e *Executor) executeClaimed(ctx context.Context, task domain.StrategyTask, now time.Time) (domain.Outcome, error) {
	outcome := domain.Outcome{
		TaskID:       task.ID,
		UserAddress:  task.UserAddress,
		VaultAddress: task.VaultAddress,
		StrategyID:   task.StrategyID,
		ExecutedAt:   now,
	}

	var frequency string
	strat, err := e.registry.Lookup(task.StrategyID)
	if err != nil {
		outcome.Status = domain.OutcomeFailure
		outcome.Memo = err.Error()
	} else {
		frequency = strat.Frequency
		instruction, err := e.registry.Format(task.StrategyID, map[string]string{
			"percentage": strconv.Itoa(task.Percentage),
			"chain":      task.Chain,
		})
		if err != nil {
			outcome.Status = domain.OutcomeFailure
			outcome.Memo = err.Error()
		} else {
			runCtx, cancel := context.WithTimeout(ctx, e.cfg.RunTimeout)
			res, err := e.runner.Execute(runCtx, runner.Request{
				Instruction:  instruction,
				UserAddress:  task.UserAddress,
				VaultAddress: task.VaultAddress,
				Chain:        task.Chain,
			})
			cancel()
			switch {
			case err != nil:
				outcome.Status = domain.OutcomeFailure
				outcome.Memo = err.Error()
			case res.Success():
				outcome.Status = domain.OutcomeSuccess
				outcome.Memo = res.Memo
				outcome.Result = res.Result
				outcome.ActionsTaken = res.ActionsTaken
				outcome.Transactions = res.Transactions
			default:
				outcome.Status = domain.OutcomeFailure
				outcome.Memo = res.Memo
				outcome.Result = res.Result
				outcome.ActionsTaken = res.ActionsTaken
				outcome.Transactions = res.Transactions
			}
		}
	}
	if outcome.Memo == "" {
		if outcome.Status == domain.OutcomeSuccess {
			outcome.Memo = "task completed"
		} else {
			outcome.Memo = "task failed"
		}
	}

	if outcome.Status == domain.OutcomeSuccess {
		task.Status = domain.StatusCompleted
		task.FailureStreak = 0
	} else {
		task.Status = domain.StatusFailed
		task.FailureStreak++
	}

	next, err := e.sched.NextSchedule(now, frequency, outcome.Status, task.FailureStreak)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("compute next schedule for %s: %w", task.ID, err)
	}
	outcome.NextRunAt = next

	executed := now
	task.LastExecuted = &executed
	task.ExecutionCount++
	task.NextRunAt = next
	task.LastExecutionStatus = string(outcome.Status)
	task.LastExecutionMemo = outcome.Memo

	if err := e.store.Save(ctx, task); err != nil {
		if errors.Is(err, store.ErrClaimLost) {
			// Our claim was force-reclaimed mid-run; a newer cycle owns the
			// record now, so the write is dropped.
			log.Warn().Str("task_id", task.ID).Msg("claim lost before save, outcome discarded")
			return outcome, nil
		}
		return domain.Outcome{}, fmt.Errorf("save task %s: %w", task.ID, err)
	}

	if err := e.notify.Notify(ctx, outcome); err != nil {
		log.Warn().Err(err).Str("task_id", task.ID).Msg("outcome notification failed")
	}

	log.Info().
		Str("task_id", task.ID).
		Str("strategy_id", task.StrategyID).
		Str("status", string(outcome.Status)).
		Time("next_run", next).
		Msg("task executed")

	return outcome, nil
}
