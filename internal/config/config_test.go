package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	t.Parallel()
	cfg := Default()
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("default addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Scheduler.OnboardingDelay.Std() != 5*time.Minute {
		t.Fatalf("default onboarding delay = %v", cfg.Scheduler.OnboardingDelay.Std())
	}
	if cfg.Scheduler.BackoffMin.Std() != 10*time.Minute || cfg.Scheduler.BackoffMax.Std() != time.Hour {
		t.Fatal("unexpected default backoff bounds")
	}
	if cfg.Executor.MaxExecutionAge.Std() != 30*time.Minute {
		t.Fatalf("default max execution age = %v", cfg.Executor.MaxExecutionAge.Std())
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	t.Parallel()
	raw := `
http:
  addr: ":9090"
scheduler:
  onboarding_delay: 1m
  backoff_min: 2m
executor:
  poll_interval: 5s
runner:
  endpoint: http://localhost:7000/execute
telegram:
  enabled: true
  token: secret
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.HTTP.Addr)
	}
	if cfg.Scheduler.OnboardingDelay.Std() != time.Minute {
		t.Fatalf("onboarding delay = %v", cfg.Scheduler.OnboardingDelay.Std())
	}
	if cfg.Scheduler.BackoffMin.Std() != 2*time.Minute {
		t.Fatalf("backoff min = %v", cfg.Scheduler.BackoffMin.Std())
	}
	// Untouched keys keep their defaults.
	if cfg.Scheduler.BackoffMax.Std() != time.Hour {
		t.Fatalf("backoff max = %v, want default", cfg.Scheduler.BackoffMax.Std())
	}
	if cfg.Executor.PollInterval.Std() != 5*time.Second {
		t.Fatalf("poll interval = %v", cfg.Executor.PollInterval.Std())
	}
	if cfg.Runner.Endpoint != "http://localhost:7000/execute" {
		t.Fatalf("runner endpoint = %q", cfg.Runner.Endpoint)
	}
	if !cfg.Telegram.Enabled || cfg.Telegram.Token != "secret" {
		t.Fatal("telegram config not applied")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("executor:\n  poll_interval: soon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.DB.Path != "vaultflow.db" {
		t.Fatalf("db path = %q", cfg.DB.Path)
	}
}
