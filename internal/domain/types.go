package domain

import "time"

// TaskStatus is the claim-protocol state of a StrategyTask. Only the store's
// conditional update moves a task into StatusClaimed.
type TaskStatus string

const (
	StatusIdle      TaskStatus = "idle"
	StatusClaimed   TaskStatus = "claimed"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
)

// OutcomeStatus classifies a completed execution attempt.
type OutcomeStatus string

const (
	OutcomeSuccess OutcomeStatus = "success"
	OutcomeFailure OutcomeStatus = "failure"
)

// StrategyTask is one user's recurring strategy subscription and the unit of
// scheduling. UserAddress, VaultAddress, StrategyID and Chain are immutable
// after creation; Percentage and Enabled may change via explicit update.
type StrategyTask struct {
	ID           string
	UserAddress  string
	VaultAddress string
	StrategyID   string
	Chain        string
	Percentage   int
	Enabled      bool

	Status     TaskStatus
	ClaimToken string
	ClaimedAt  *time.Time

	NextRunAt      time.Time
	LastExecuted   *time.Time
	ExecutionCount int
	// FailureStreak counts consecutive failed attempts; reset to zero on
	// success. Drives the retry backoff.
	FailureStreak int

	LastExecutionStatus string
	LastExecutionMemo   string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Outcome is the recorded result of one completed execution attempt, success
// or domain failure. Domain failures are data, not errors.
type Outcome struct {
	TaskID       string        `json:"task_id"`
	UserAddress  string        `json:"user_address"`
	VaultAddress string        `json:"vault_address"`
	StrategyID   string        `json:"strategy_id"`
	Status       OutcomeStatus `json:"status"`
	Result       string        `json:"result,omitempty"`
	Memo         string        `json:"memo"`
	ActionsTaken []string      `json:"actions_taken,omitempty"`
	Transactions []string      `json:"transactions,omitempty"`
	ExecutedAt   time.Time     `json:"executed_at"`
	NextRunAt    time.Time     `json:"next_run_at"`
}

// TelegramBinding links a telegram chat to a wallet so outcomes can be
// delivered to the subscriber.
type TelegramBinding struct {
	ChatID      int64
	UserAddress string
	CreatedAt   time.Time
}
