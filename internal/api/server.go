package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/pprof"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"vaultflow/internal/domain"
	"vaultflow/internal/executor"
	"vaultflow/internal/scheduler"
	"vaultflow/internal/store"
	"vaultflow/internal/strategy"
)

type Server struct {
	r        *chi.Mux
	store    store.Store
	registry *strategy.Registry
	exec     *executor.Executor
	sched    *scheduler.Scheduler
	// runLimit throttles on-demand execution triggers; the periodic loop is
	// not subject to it.
	runLimit *rate.Limiter
}

func NewServer(st store.Store, reg *strategy.Registry, exec *executor.Executor, sched *scheduler.Scheduler) http.Handler {
	return NewServerWithDebug(st, reg, exec, sched, false)
}

func NewServerWithDebug(st store.Store, reg *strategy.Registry, exec *executor.Executor, sched *scheduler.Scheduler, enableDebug bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{
		r: r, store: st, registry: reg, exec: exec, sched: sched,
		runLimit: rate.NewLimiter(rate.Every(time.Second), 5),
	}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)

	r.Get("/api/strategies", s.listStrategies)
	r.Post("/api/tasks", s.createTask)
	r.Get("/api/tasks/{id}", s.getTask)
	r.Patch("/api/tasks/{id}", s.updateTask)
	r.Delete("/api/tasks/{id}", s.deleteTask)
	r.Post("/api/tasks/{id}/run", s.runTask)
	r.Get("/api/users/{address}/tasks", s.listUserTasks)
	r.Post("/api/executor/run", s.runNext)

	r.Post("/api/telegram/bindings", s.createBinding)
	r.Delete("/api/telegram/bindings/{chat_id}", s.deleteBinding)

	if enableDebug {
		r.HandleFunc("/debug/pprof/", pprof.Index)
		r.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		r.HandleFunc("/debug/pprof/profile", pprof.Profile)
		r.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		r.HandleFunc("/debug/pprof/trace", pprof.Trace)
		r.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
		r.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	}

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("vaultflow_up 1\n"))
}

func (s *Server) listStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, 200, s.registry.All())
}

type createTaskReq struct {
	UserAddress  string `json:"user_address"`
	VaultAddress string `json:"vault_address"`
	StrategyID   string `json:"strategy_id"`
	Chain        string `json:"chain"`
	Percentage   int    `json:"percentage"`
	Enabled      *bool  `json:"enabled"`
}

type createTaskResp struct {
	ID        string    `json:"id"`
	NextRunAt time.Time `json:"next_run_at"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.UserAddress == "" || req.VaultAddress == "" {
		http.Error(w, "user_address and vault_address are required", 400)
		return
	}
	user := strings.ToLower(req.UserAddress)
	vault := strings.ToLower(req.VaultAddress)
	chain := strings.ToLower(req.Chain)

	strat, err := s.registry.Lookup(req.StrategyID)
	if err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if !strings.EqualFold(strat.Chain, chain) {
		http.Error(w, "strategy "+strat.ID+" is for "+strat.Chain+" chain, not "+chain, 400)
		return
	}
	if req.Percentage < 1 || req.Percentage > 100 {
		http.Error(w, "percentage must be between 1 and 100", 400)
		return
	}

	exists, err := s.store.HasStrategy(r.Context(), user, req.StrategyID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if exists {
		http.Error(w, "user already subscribed to strategy "+req.StrategyID, 409)
		return
	}

	total, err := s.store.SumPercentageByChain(r.Context(), user, chain, "")
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if total+req.Percentage > 100 {
		http.Error(w, "total percentage for "+chain+" chain would exceed 100%: current "+strconv.Itoa(total)+"%, adding "+strconv.Itoa(req.Percentage)+"%", 400)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	nextRun := s.sched.InitialSchedule(time.Now())

	id, err := s.store.Create(r.Context(), domain.StrategyTask{
		UserAddress:  user,
		VaultAddress: vault,
		StrategyID:   req.StrategyID,
		Chain:        chain,
		Percentage:   req.Percentage,
		Enabled:      enabled,
		Status:       domain.StatusIdle,
		NextRunAt:    nextRun,
	})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusCreated, createTaskResp{ID: id, NextRunAt: nextRun})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, "not found", 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, taskJSON(t))
}

type updateTaskReq struct {
	UserAddress string `json:"user_address"`
	Percentage  *int   `json:"percentage"`
	Enabled     *bool  `json:"enabled"`
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateTaskReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.UserAddress == "" {
		http.Error(w, "user_address is required", 400)
		return
	}
	user := strings.ToLower(req.UserAddress)

	t, err := s.store.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && t.UserAddress != user) {
		http.Error(w, "not found", 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}

	if req.Percentage != nil {
		if *req.Percentage < 1 || *req.Percentage > 100 {
			http.Error(w, "percentage must be between 1 and 100", 400)
			return
		}
		total, err := s.store.SumPercentageByChain(r.Context(), user, t.Chain, id)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		if total+*req.Percentage > 100 {
			http.Error(w, "total percentage for "+t.Chain+" chain would exceed 100%", 400)
			return
		}
	}

	ok, err := s.store.UpdateSettings(r.Context(), id, user, req.Percentage, req.Enabled)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if !ok {
		http.Error(w, "nothing to update", 400)
		return
	}
	t, err = s.store.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, taskJSON(t))
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	user := strings.ToLower(r.URL.Query().Get("user"))
	if user == "" {
		http.Error(w, "user query parameter is required", 400)
		return
	}
	ok, err := s.store.Delete(r.Context(), id, user)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if !ok {
		http.Error(w, "not found", 404)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listUserTasks(w http.ResponseWriter, r *http.Request) {
	address := strings.ToLower(chi.URLParam(r, "address"))
	tasks, err := s.store.ListByUser(r.Context(), address)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	out := make([]map[string]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, taskJSON(t))
	}
	writeJSON(w, 200, out)
}

func (s *Server) runNext(w http.ResponseWriter, r *http.Request) {
	if !s.runLimit.Allow() {
		http.Error(w, "too many run requests", http.StatusTooManyRequests)
		return
	}
	outcome, err := s.exec.RunNextDue(r.Context(), time.Now())
	if errors.Is(err, executor.ErrNoTaskDue) {
		writeJSON(w, 200, map[string]string{"message": "no task due"})
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, outcome)
}

func (s *Server) runTask(w http.ResponseWriter, r *http.Request) {
	if !s.runLimit.Allow() {
		http.Error(w, "too many run requests", http.StatusTooManyRequests)
		return
	}
	id := chi.URLParam(r, "id")
	outcome, err := s.exec.RunTask(r.Context(), id, time.Now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "not found", 404)
	case errors.Is(err, executor.ErrTaskBusy):
		http.Error(w, err.Error(), 409)
	case err != nil:
		http.Error(w, err.Error(), 500)
	default:
		writeJSON(w, 200, outcome)
	}
}

type bindingReq struct {
	ChatID      int64  `json:"chat_id"`
	UserAddress string `json:"user_address"`
}

func (s *Server) createBinding(w http.ResponseWriter, r *http.Request) {
	var req bindingReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.ChatID == 0 || req.UserAddress == "" {
		http.Error(w, "chat_id and user_address are required", 400)
		return
	}
	err := s.store.SaveBinding(r.Context(), domain.TelegramBinding{
		ChatID:      req.ChatID,
		UserAddress: strings.ToLower(req.UserAddress),
	})
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) deleteBinding(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "chat_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid chat_id", 400)
		return
	}
	ok, err := s.store.DeleteBinding(r.Context(), chatID)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	if !ok {
		http.Error(w, "not found", 404)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func taskJSON(t domain.StrategyTask) map[string]any {
	m := map[string]any{
		"id":                    t.ID,
		"user_address":          t.UserAddress,
		"vault_address":         t.VaultAddress,
		"strategy_id":           t.StrategyID,
		"chain":                 t.Chain,
		"percentage":            t.Percentage,
		"enabled":               t.Enabled,
		"status":                t.Status,
		"next_run_at":           t.NextRunAt.Format(time.RFC3339),
		"execution_count":       t.ExecutionCount,
		"last_execution_status": t.LastExecutionStatus,
		"last_execution_memo":   t.LastExecutionMemo,
		"created_at":            t.CreatedAt.Format(time.RFC3339),
	}
	if t.LastExecuted != nil {
		m["last_executed"] = t.LastExecuted.Format(time.RFC3339)
	}
	return m
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
