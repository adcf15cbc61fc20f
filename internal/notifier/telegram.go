package notifier

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"vaultflow/internal/domain"
	"vaultflow/internal/store"
)

// BindingSource resolves a wallet address to the telegram chat that should
// receive its outcomes.
type BindingSource interface {
	BindingByUser(ctx context.Context, userAddress string) (domain.TelegramBinding, error)
}

// TelegramNotifier delivers outcomes to the subscriber's bound telegram chat.
// Users without a binding are skipped silently.
type TelegramNotifier struct {
	bot      *tele.Bot
	bindings BindingSource
}

func NewTelegramNotifier(token string, bindings BindingSource) (*TelegramNotifier, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &TelegramNotifier{bot: bot, bindings: bindings}, nil
}

func (n *TelegramNotifier) Notify(ctx context.Context, o domain.Outcome) error {
	b, err := n.bindings.BindingByUser(ctx, o.UserAddress)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup telegram binding: %w", err)
	}

	_, err = n.bot.Send(&tele.Chat{ID: b.ChatID}, formatOutcome(o), tele.ModeHTML)
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func formatOutcome(o domain.Outcome) string {
	var sb strings.Builder
	if o.Status == domain.OutcomeSuccess {
		sb.WriteString("✅ <b>Strategy executed</b>\n")
	} else {
		sb.WriteString("⚠️ <b>Strategy execution failed</b>\n")
	}
	fmt.Fprintf(&sb, "Strategy: <code>%s</code>\n", o.StrategyID)
	fmt.Fprintf(&sb, "Vault: <code>%s</code>\n", o.VaultAddress)
	fmt.Fprintf(&sb, "Memo: %s\n", o.Memo)
	if len(o.Transactions) > 0 {
		sb.WriteString("Transactions:\n")
		for _, tx := range o.Transactions {
			fmt.Fprintf(&sb, "  <code>%s</code>\n", tx)
		}
	}
	fmt.Fprintf(&sb, "Next run: %s", o.NextRunAt.UTC().Format(time.RFC3339))
	return sb.String()
}
