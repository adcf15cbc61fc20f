package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"vaultflow/internal/domain"
	"vaultflow/internal/executor"
	"vaultflow/internal/notifier"
	"vaultflow/internal/runner"
	"vaultflow/internal/scheduler"
	"vaultflow/internal/store"
	"vaultflow/internal/strategy"
)

type stubRunner struct{ res runner.Result }

func (s stubRunner) Execute(context.Context, runner.Request) (runner.Result, error) {
	return s.res, nil
}

func newTestServer(t *testing.T) (http.Handler, store.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.EnsureSchema(db))

	st := store.New(db)
	reg := strategy.Builtin()
	sched := scheduler.New(scheduler.Config{OnboardingDelay: 5 * time.Minute}, nil)
	exec := executor.New(st, reg, stubRunner{res: runner.Result{Status: "success", Memo: "done"}}, sched, notifier.LogNotifier{}, executor.Config{})
	return NewServer(st, reg, exec, sched), st
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(raw))
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateTask(t *testing.T) {
	h, st := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/tasks", map[string]any{
		"user_address":  "0xABC",
		"vault_address": "0xVAULT",
		"strategy_id":   "core_stablecoin_optimizer",
		"chain":         "Core",
		"percentage":    25,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp struct {
		ID        string    `json:"id"`
		NextRunAt time.Time `json:"next_run_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.ID, "tsk_")
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), resp.NextRunAt, 30*time.Second)

	task, err := st.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "0xabc", task.UserAddress, "addresses are lower-cased")
	assert.True(t, task.Enabled)
	assert.Equal(t, domain.StatusIdle, task.Status)
}

func TestCreateTaskValidation(t *testing.T) {
	h, _ := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
		code int
	}{
		{
			name: "unknown strategy",
			body: map[string]any{"user_address": "0xa", "vault_address": "0xv", "strategy_id": "nope", "chain": "core", "percentage": 10},
			code: 400,
		},
		{
			name: "chain mismatch",
			body: map[string]any{"user_address": "0xa", "vault_address": "0xv", "strategy_id": "core_stablecoin_optimizer", "chain": "arbitrum", "percentage": 10},
			code: 400,
		},
		{
			name: "percentage too high",
			body: map[string]any{"user_address": "0xa", "vault_address": "0xv", "strategy_id": "core_stablecoin_optimizer", "chain": "core", "percentage": 101},
			code: 400,
		},
		{
			name: "percentage zero",
			body: map[string]any{"user_address": "0xa", "vault_address": "0xv", "strategy_id": "core_stablecoin_optimizer", "chain": "core", "percentage": 0},
			code: 400,
		},
		{
			name: "missing addresses",
			body: map[string]any{"strategy_id": "core_stablecoin_optimizer", "chain": "core", "percentage": 10},
			code: 400,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/api/tasks", tt.body)
			assert.Equal(t, tt.code, rec.Code, rec.Body.String())
		})
	}
}

func TestCreateTaskDuplicateAndBudget(t *testing.T) {
	h, _ := newTestServer(t)

	create := func(strategyID string, pct int) *httptest.ResponseRecorder {
		return doJSON(t, h, http.MethodPost, "/api/tasks", map[string]any{
			"user_address":  "0xabc",
			"vault_address": "0xvault",
			"strategy_id":   strategyID,
			"chain":         "core",
			"percentage":    pct,
		})
	}

	require.Equal(t, http.StatusCreated, create("core_stablecoin_optimizer", 60).Code)

	rec := create("core_stablecoin_optimizer", 10)
	assert.Equal(t, http.StatusConflict, rec.Code, "duplicate strategy subscription")

	rec = create("core_weekly_rebalance", 50)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "per-chain percentage budget exceeded")
	assert.Contains(t, rec.Body.String(), "exceed 100%")

	assert.Equal(t, http.StatusCreated, create("core_weekly_rebalance", 40).Code)
}

func TestTaskLifecycleEndpoints(t *testing.T) {
	h, _ := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/tasks", map[string]any{
		"user_address":  "0xabc",
		"vault_address": "0xvault",
		"strategy_id":   "core_stablecoin_optimizer",
		"chain":         "core",
		"percentage":    25,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = doJSON(t, h, http.MethodGet, "/api/tasks/"+created.ID, nil)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"idle"`)

	rec = doJSON(t, h, http.MethodGet, "/api/users/0xABC/tasks", nil)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), created.ID)

	rec = doJSON(t, h, http.MethodPatch, "/api/tasks/"+created.ID, map[string]any{
		"user_address": "0xabc",
		"percentage":   50,
		"enabled":      false,
	})
	require.Equal(t, 200, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"percentage":50`)
	assert.Contains(t, rec.Body.String(), `"enabled":false`)

	rec = doJSON(t, h, http.MethodDelete, "/api/tasks/"+created.ID+"?user=0xabc", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/api/tasks/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunNextEndpoint(t *testing.T) {
	h, st := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/executor/run", nil)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "no task due")

	_, err := st.Create(context.Background(), domain.StrategyTask{
		UserAddress:  "0xabc",
		VaultAddress: "0xvault",
		StrategyID:   "core_stablecoin_optimizer",
		Chain:        "core",
		Percentage:   25,
		Enabled:      true,
		Status:       domain.StatusIdle,
		NextRunAt:    time.Now().UTC().Add(-time.Minute),
	})
	require.NoError(t, err)

	rec = doJSON(t, h, http.MethodPost, "/api/executor/run", nil)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"success"`)
}

func TestListStrategies(t *testing.T) {
	h, _ := newTestServer(t)
	rec := doJSON(t, h, http.MethodGet, "/api/strategies", nil)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "core_stablecoin_optimizer")
}

func TestBindingEndpoints(t *testing.T) {
	h, st := newTestServer(t)

	rec := doJSON(t, h, http.MethodPost, "/api/telegram/bindings", map[string]any{
		"chat_id":      77,
		"user_address": "0xABC",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	b, err := st.BindingByUser(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, int64(77), b.ChatID)

	rec = doJSON(t, h, http.MethodDelete, "/api/telegram/bindings/77", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = doJSON(t, h, http.MethodDelete, "/api/telegram/bindings/77", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
