package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"vaultflow/internal/api"
	"vaultflow/internal/config"
	"vaultflow/internal/executor"
	"vaultflow/internal/notifier"
	"vaultflow/internal/runner"
	"vaultflow/internal/scheduler"
	"vaultflow/internal/store"
	"vaultflow/internal/strategy"
	"vaultflow/internal/worker"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "path to YAML config file")
		addr    = flag.String("addr", "", "HTTP bind address (overrides config)")
		dbPath  = flag.String("db", "", "SQLite DB path (overrides config)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.HTTP.Addr = *addr
	}
	if *dbPath != "" {
		cfg.DB.Path = *dbPath
	}
	if cfg.Runner.Endpoint == "" {
		log.Fatal().Msg("runner.endpoint is required")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.DB.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := store.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}
	st := store.New(db)

	// Claims abandoned by a previous crash become runnable again right away.
	if n, err := st.ReclaimStale(context.Background(), time.Now(), cfg.Executor.MaxExecutionAge.Std()); err == nil && n > 0 {
		log.Info().Int("reclaimed", n).Msg("recovered stale claims at startup")
	}

	registry := strategy.Builtin()
	sched := scheduler.New(scheduler.Config{
		OnboardingDelay: cfg.Scheduler.OnboardingDelay.Std(),
		BackoffMin:      cfg.Scheduler.BackoffMin.Std(),
		BackoffMax:      cfg.Scheduler.BackoffMax.Std(),
	}, nil)

	var notify notifier.Notifier = notifier.LogNotifier{}
	if cfg.Telegram.Enabled {
		tg, err := notifier.NewTelegramNotifier(cfg.Telegram.Token, st)
		if err != nil {
			log.Fatal().Err(err).Msg("telegram notifier")
		}
		notify = tg
	}

	run := runner.NewHTTPRunner(cfg.Runner.Endpoint, cfg.Runner.Timeout.Std())
	exec := executor.New(st, registry, run, sched, notify, executor.Config{
		RunTimeout:      cfg.Executor.RunTimeout.Std(),
		MaxExecutionAge: cfg.Executor.MaxExecutionAge.Std(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	loop := worker.NewLoop(exec, cfg.Executor.PollInterval.Std())
	go loop.Run(ctx)

	srv := &http.Server{Addr: cfg.HTTP.Addr, Handler: api.NewServerWithDebug(st, registry, exec, sched, cfg.HTTP.Debug)}
	go func() {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
