package notifier

import (
	"context"

	"github.com/rs/zerolog/log"

	"vaultflow/internal/domain"
)

// Notifier delivers a completed outcome to the subscriber. Delivery is
// best-effort from the engine's point of view: a notification failure never
// rolls back the schedule update.
type Notifier interface {
	Notify(ctx context.Context, outcome domain.Outcome) error
}

// LogNotifier writes outcomes to the log. Used when no delivery transport is
// configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, o domain.Outcome) error {
	log.Info().
		Str("task_id", o.TaskID).
		Str("user_address", o.UserAddress).
		Str("strategy_id", o.StrategyID).
		Str("status", string(o.Status)).
		Str("memo", o.Memo).
		Msg("execution outcome")
	return nil
}
