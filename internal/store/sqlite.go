package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"vaultflow/internal/domain"
)

var (
	// ErrNotFound is returned by point lookups for unknown task ids.
	ErrNotFound = errors.New("task not found")
	// ErrNoDueTask is returned by FindDue when nothing is eligible.
	ErrNoDueTask = errors.New("no due tasks")
	// ErrClaimLost is returned by Save when the stored claim token no longer
	// matches, i.e. the claim was force-reclaimed while we were executing.
	ErrClaimLost = errors.New("claim token no longer current")
)

// EnsureSchema creates tables if they don't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS strategy_tasks (
  id TEXT PRIMARY KEY,
  user_address TEXT NOT NULL,
  vault_address TEXT NOT NULL,
  strategy_id TEXT NOT NULL,
  chain TEXT NOT NULL,
  percentage INTEGER NOT NULL,
  enabled INTEGER NOT NULL DEFAULT 1,
  status TEXT NOT NULL CHECK(status IN ('idle','claimed','completed','failed')) DEFAULT 'idle',
  claim_token TEXT NOT NULL DEFAULT '',
  claimed_at DATETIME,
  next_run_at DATETIME NOT NULL,
  last_executed DATETIME,
  execution_count INTEGER NOT NULL DEFAULT 0,
  failure_streak INTEGER NOT NULL DEFAULT 0,
  last_execution_status TEXT NOT NULL DEFAULT '',
  last_execution_memo TEXT NOT NULL DEFAULT '',
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tasks_due ON strategy_tasks(enabled, status, next_run_at);
CREATE INDEX IF NOT EXISTS idx_tasks_user ON strategy_tasks(user_address);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_user_strategy ON strategy_tasks(user_address, strategy_id);
CREATE TABLE IF NOT EXISTS telegram_bindings (
  chat_id INTEGER PRIMARY KEY,
  user_address TEXT NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_bindings_user ON telegram_bindings(user_address);
`
	_, err := db.Exec(schema)
	return err
}

// Store is the durable persistence contract for strategy tasks. TryClaim is
// the single atomic mutation point; every other task field is written only
// within an exclusively-claimed execution.
type Store interface {
	Create(ctx context.Context, t domain.StrategyTask) (string, error)
	Get(ctx context.Context, id string) (domain.StrategyTask, error)
	ListByUser(ctx context.Context, userAddress string) ([]domain.StrategyTask, error)
	UpdateSettings(ctx context.Context, id, userAddress string, percentage *int, enabled *bool) (bool, error)
	Delete(ctx context.Context, id, userAddress string) (bool, error)

	FindDue(ctx context.Context, now time.Time) (domain.StrategyTask, error)
	TryClaim(ctx context.Context, id string, expected domain.TaskStatus, now time.Time) (string, bool, error)
	Save(ctx context.Context, t domain.StrategyTask) error
	ReclaimStale(ctx context.Context, now time.Time, maxAge time.Duration) (int, error)

	HasStrategy(ctx context.Context, userAddress, strategyID string) (bool, error)
	SumPercentageByChain(ctx context.Context, userAddress, chain, excludeID string) (int, error)

	SaveBinding(ctx context.Context, b domain.TelegramBinding) error
	BindingByUser(ctx context.Context, userAddress string) (domain.TelegramBinding, error)
	DeleteBinding(ctx context.Context, chatID int64) (bool, error)
}

type sqliteStore struct{ db *sql.DB }

func New(db *sql.DB) Store { return &sqliteStore{db: db} }

const taskColumns = `id,user_address,vault_address,strategy_id,chain,percentage,enabled,status,claim_token,claimed_at,next_run_at,last_executed,execution_count,failure_streak,last_execution_status,last_execution_memo,created_at,updated_at`

func (s *sqliteStore) Create(ctx context.Context, t domain.StrategyTask) (string, error) {
	id := t.ID
	if id == "" {
		id = "tsk_" + uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.StatusIdle
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO strategy_tasks (id,user_address,vault_address,strategy_id,chain,percentage,enabled,status,next_run_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP,CURRENT_TIMESTAMP)
`, id, t.UserAddress, t.VaultAddress, t.StrategyID, t.Chain, t.Percentage, t.Enabled, t.Status, t.NextRunAt.UTC())
	return id, err
}

func (s *sqliteStore) Get(ctx context.Context, id string) (domain.StrategyTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM strategy_tasks WHERE id=?`, id)
	return scanTask(row)
}

func (s *sqliteStore) ListByUser(ctx context.Context, userAddress string) ([]domain.StrategyTask, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT `+taskColumns+` FROM strategy_tasks WHERE user_address=? ORDER BY created_at`, userAddress)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []domain.StrategyTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *sqliteStore) UpdateSettings(ctx context.Context, id, userAddress string, percentage *int, enabled *bool) (bool, error) {
	if percentage == nil && enabled == nil {
		return false, nil
	}
	q := `UPDATE strategy_tasks SET updated_at=CURRENT_TIMESTAMP`
	args := []any{}
	if percentage != nil {
		q += `, percentage=?`
		args = append(args, *percentage)
	}
	if enabled != nil {
		q += `, enabled=?`
		args = append(args, *enabled)
	}
	q += ` WHERE id=? AND user_address=?`
	args = append(args, id, userAddress)

	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *sqliteStore) Delete(ctx context.Context, id, userAddress string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM strategy_tasks WHERE id=? AND user_address=?`, id, userAddress)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FindDue returns the earliest-due enabled idle task at or before now. Pure
// query; claiming is a separate conditional update so concurrent callers race
// on TryClaim, not on selection.
func (s *sqliteStore) FindDue(ctx context.Context, now time.Time) (domain.StrategyTask, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT `+taskColumns+` FROM strategy_tasks
WHERE enabled=1 AND status='idle' AND next_run_at <= ?
ORDER BY next_run_at ASC
LIMIT 1`, now.UTC())
	t, err := scanTask(row)
	if errors.Is(err, ErrNotFound) {
		return domain.StrategyTask{}, ErrNoDueTask
	}
	return t, err
}

// TryClaim atomically moves the task from expected to claimed with a fresh
// token. Exactly one of any set of concurrent callers observes ok=true; the
// losers see ok=false with no side effects.
func (s *sqliteStore) TryClaim(ctx context.Context, id string, expected domain.TaskStatus, now time.Time) (string, bool, error) {
	token := "clm_" + uuid.NewString()
	res, err := s.db.ExecContext(ctx, `
UPDATE strategy_tasks
SET status='claimed', claim_token=?, claimed_at=?, updated_at=CURRENT_TIMESTAMP
WHERE id=? AND status=?`, token, now.UTC(), id, expected)
	if err != nil {
		return "", false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if n == 0 {
		return "", false, nil
	}
	return token, true, nil
}

// Save is the sole writer path out of claimed: one durable write covering the
// outcome fields, counters, next run time and the return to idle. The claim
// token is pinned so a writer whose claim was force-reclaimed cannot clobber
// a newer cycle.
//
// The terminal transition and the reschedule land in the same statement: a
// task arriving as completed or failed is persisted as idle, so readers never
// observe a task parked in a terminal state.
func (s *sqliteStore) Save(ctx context.Context, t domain.StrategyTask) error {
	if t.Status == domain.StatusCompleted || t.Status == domain.StatusFailed {
		t.Status = domain.StatusIdle
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE strategy_tasks
SET status=?, claim_token='', claimed_at=NULL,
    next_run_at=?, last_executed=?, execution_count=?, failure_streak=?,
    last_execution_status=?, last_execution_memo=?, updated_at=CURRENT_TIMESTAMP
WHERE id=? AND claim_token=?`,
		t.Status, t.NextRunAt.UTC(), lastExecutedArg(t.LastExecuted), t.ExecutionCount, t.FailureStreak,
		t.LastExecutionStatus, t.LastExecutionMemo, t.ID, t.ClaimToken)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrClaimLost
	}
	return nil
}

// ReclaimStale flips tasks stuck in claimed past maxAge back to idle so the
// due-selection path can pick them up again (crashed or hung execution).
func (s *sqliteStore) ReclaimStale(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	cutoff := now.UTC().Add(-maxAge)
	res, err := s.db.ExecContext(ctx, `
UPDATE strategy_tasks
SET status='idle', claim_token='', claimed_at=NULL, updated_at=CURRENT_TIMESTAMP
WHERE status='claimed' AND claimed_at <= ?`, cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *sqliteStore) HasStrategy(ctx context.Context, userAddress, strategyID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(1) FROM strategy_tasks WHERE user_address=? AND strategy_id=?`, userAddress, strategyID).Scan(&n)
	return n > 0, err
}

func (s *sqliteStore) SumPercentageByChain(ctx context.Context, userAddress, chain, excludeID string) (int, error) {
	var sum int
	err := s.db.QueryRowContext(ctx, `
SELECT COALESCE(SUM(percentage),0) FROM strategy_tasks
WHERE user_address=? AND chain=? AND id != ?`, userAddress, chain, excludeID).Scan(&sum)
	return sum, err
}

func (s *sqliteStore) SaveBinding(ctx context.Context, b domain.TelegramBinding) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO telegram_bindings (chat_id, user_address) VALUES (?,?)
ON CONFLICT(chat_id) DO UPDATE SET user_address=excluded.user_address`, b.ChatID, b.UserAddress)
	return err
}

func (s *sqliteStore) BindingByUser(ctx context.Context, userAddress string) (domain.TelegramBinding, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT chat_id, user_address, created_at FROM telegram_bindings WHERE user_address=? LIMIT 1`, userAddress)
	var b domain.TelegramBinding
	if err := row.Scan(&b.ChatID, &b.UserAddress, &b.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.TelegramBinding{}, ErrNotFound
		}
		return domain.TelegramBinding{}, err
	}
	return b, nil
}

func (s *sqliteStore) DeleteBinding(ctx context.Context, chatID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM telegram_bindings WHERE chat_id=?`, chatID)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Bound timestamps are normalized to UTC so the text comparisons in FindDue
// and ReclaimStale stay coherent.
func lastExecutedArg(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (domain.StrategyTask, error) {
	var t domain.StrategyTask
	var claimedAt, lastExecuted sql.NullTime
	err := row.Scan(&t.ID, &t.UserAddress, &t.VaultAddress, &t.StrategyID, &t.Chain,
		&t.Percentage, &t.Enabled, &t.Status, &t.ClaimToken, &claimedAt,
		&t.NextRunAt, &lastExecuted, &t.ExecutionCount, &t.FailureStreak,
		&t.LastExecutionStatus, &t.LastExecutionMemo, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StrategyTask{}, ErrNotFound
	}
	if err != nil {
		return domain.StrategyTask{}, err
	}
	if claimedAt.Valid {
		ts := claimedAt.Time
		t.ClaimedAt = &ts
	}
	if lastExecuted.Valid {
		ts := lastExecuted.Time
		t.LastExecuted = &ts
	}
	return t, nil
}
