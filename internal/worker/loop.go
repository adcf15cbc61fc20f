package worker

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"vaultflow/internal/executor"
)

// Loop is the periodic trigger: it polls the executor and drains due tasks
// until nothing is left. Multiple loops may run against the same store;
// correctness rests solely on the store's conditional claim.
type Loop struct {
	exec      *executor.Executor
	stop      chan struct{}
	pollEvery time.Duration
}

func NewLoop(exec *executor.Executor, pollEvery time.Duration) *Loop {
	if pollEvery <= 0 {
		pollEvery = 15 * time.Second
	}
	return &Loop{exec: exec, stop: make(chan struct{}), pollEvery: pollEvery}
}

func (l *Loop) Run(ctx context.Context) {
	t := time.NewTicker(l.pollEvery)
	defer t.Stop()

	log.Info().Dur("interval", l.pollEvery).Msg("executor trigger loop started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stop:
			return
		case now := <-t.C:
			l.drain(ctx, now)
		}
	}
}

func (l *Loop) Stop() { close(l.stop) }

func (l *Loop) drain(ctx context.Context, now time.Time) {
	for {
		_, err := l.exec.RunNextDue(ctx, now)
		if errors.Is(err, executor.ErrNoTaskDue) {
			return
		}
		if err != nil {
			// Engine fault: the task is untouched and safe to retry on the
			// next tick.
			log.Error().Err(err).Msg("run next due task")
			return
		}
		now = time.Now()
	}
}
