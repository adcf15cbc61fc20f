package config

import (
	"fmt"
	"os"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

// Duration is a YAML-friendly wrapper accepting Go duration strings
// ("30s", "10m", "1h").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the file-based configuration. All scheduling knobs the engine
// leaves as policy choices live here.
type Config struct {
	HTTP struct {
		Addr  string `yaml:"addr"`
		Debug bool   `yaml:"debug"`
	} `yaml:"http"`

	DB struct {
		Path string `yaml:"path"`
	} `yaml:"db"`

	Scheduler struct {
		OnboardingDelay Duration `yaml:"onboarding_delay"`
		BackoffMin      Duration `yaml:"backoff_min"`
		BackoffMax      Duration `yaml:"backoff_max"`
	} `yaml:"scheduler"`

	Executor struct {
		PollInterval    Duration `yaml:"poll_interval"`
		RunTimeout      Duration `yaml:"run_timeout"`
		MaxExecutionAge Duration `yaml:"max_execution_age"`
	} `yaml:"executor"`

	Runner struct {
		Endpoint string   `yaml:"endpoint"`
		Timeout  Duration `yaml:"timeout"`
	} `yaml:"runner"`

	Telegram struct {
		Enabled bool   `yaml:"enabled"`
		Token   string `yaml:"token"`
	} `yaml:"telegram"`
}

func Default() Config {
	var c Config
	c.HTTP.Addr = ":8080"
	c.DB.Path = "vaultflow.db"
	c.Scheduler.OnboardingDelay = Duration(5 * time.Minute)
	c.Scheduler.BackoffMin = Duration(10 * time.Minute)
	c.Scheduler.BackoffMax = Duration(time.Hour)
	c.Executor.PollInterval = Duration(15 * time.Second)
	c.Executor.RunTimeout = Duration(5 * time.Minute)
	c.Executor.MaxExecutionAge = Duration(30 * time.Minute)
	c.Runner.Timeout = Duration(5 * time.Minute)
	return c
}

// Load reads a YAML config file over the defaults. An empty path returns the
// defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
