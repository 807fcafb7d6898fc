package main

import (
	"fmt"
	"os"
	"time"

	"github.com/Sternrassler/infinite-scroll/pkg/client"
	"github.com/Sternrassler/infinite-scroll/pkg/logging"
	"github.com/Sternrassler/infinite-scroll/pkg/settings"
	"gopkg.in/yaml.v3"
)

// Config is the runner configuration. It is read from an optional YAML file;
// command line flags override file values.
type Config struct {
	URL    string `yaml:"url"`
	Output string `yaml:"output"`

	// MaxPages stops the run once this page index has been merged. Zero runs
	// until the collection is exhausted.
	MaxPages int `yaml:"max_pages"`

	// MaxFailures is the number of consecutive failed loads tolerated.
	MaxFailures int `yaml:"max_failures"`

	// ErrorDelay is how long the session shows a failure before retrying.
	ErrorDelay time.Duration `yaml:"error_delay"`

	// RedisURL shares throttle state and cached pages between runs.
	RedisURL string `yaml:"redis_url"`

	Fetch    FetchConfig      `yaml:"fetch"`
	Settings SettingsOverride `yaml:"settings"`
	Log      LogConfig        `yaml:"log"`
}

// FetchConfig tunes the page client.
type FetchConfig struct {
	UserAgent         string        `yaml:"user_agent"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	MaxAttempts       int           `yaml:"max_attempts"`
}

// SettingsOverride replaces theme settings read from the page. Nil fields
// keep the page's value.
type SettingsOverride struct {
	AutoScroll    *bool `yaml:"auto_scroll"`
	ManualTrigger *bool `yaml:"manual_trigger"`
	URLSync       *bool `yaml:"url_sync"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DefaultConfig returns the runner defaults.
func DefaultConfig() Config {
	fetch := client.DefaultConfig()
	return Config{
		MaxFailures: 3,
		ErrorDelay:  time.Second,
		Fetch: FetchConfig{
			UserAgent:         fetch.UserAgent,
			Timeout:           fetch.Timeout,
			RequestsPerSecond: fetch.RequestsPerSecond,
			MaxAttempts:       fetch.MaxAttempts,
		},
		Log: LogConfig{Level: string(logging.LevelInfo)},
	}
}

// LoadConfig reads path over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration before a run.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url is required")
	}
	if c.MaxPages < 0 {
		return fmt.Errorf("max_pages must be >= 0 (got %d)", c.MaxPages)
	}
	if c.MaxFailures < 1 {
		return fmt.Errorf("max_failures must be >= 1 (got %d)", c.MaxFailures)
	}
	if c.ErrorDelay < 0 {
		return fmt.Errorf("error_delay must not be negative")
	}
	return nil
}

// Apply overrides s with the configured values.
func (o SettingsOverride) Apply(s settings.Settings) settings.Settings {
	if o.AutoScroll != nil {
		s.AutoScrollEnabled = *o.AutoScroll
	}
	if o.ManualTrigger != nil {
		s.ManualTriggerEnabled = *o.ManualTrigger
	}
	if o.URLSync != nil {
		s.URLSyncEnabled = *o.URLSync
	}
	return s
}

func (f FetchConfig) clientConfig() client.Config {
	cfg := client.DefaultConfig()
	if f.UserAgent != "" {
		cfg.UserAgent = f.UserAgent
	}
	if f.Timeout > 0 {
		cfg.Timeout = f.Timeout
	}
	cfg.RequestsPerSecond = f.RequestsPerSecond
	if f.MaxAttempts > 0 {
		cfg.MaxAttempts = f.MaxAttempts
	}
	return cfg
}
