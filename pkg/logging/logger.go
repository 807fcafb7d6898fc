// Package logging configures zerolog for the scroll engine, the runner CLI
// and the compliance webhook server.
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"

	// LevelDisabled silences all output.
	LevelDisabled LogLevel = "disabled"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvLevel  = "LOG_LEVEL"
	EnvPretty = "LOG_PRETTY"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// ConfigFromEnv starts from DefaultConfig and applies LOG_LEVEL and LOG_PRETTY.
// Unparseable values keep the default.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if lvl := os.Getenv(EnvLevel); lvl != "" {
		cfg.Level = LogLevel(strings.ToLower(lvl))
	}
	if pretty := os.Getenv(EnvPretty); pretty != "" {
		if v, err := strconv.ParseBool(pretty); err == nil {
			cfg.Pretty = v
		}
	}
	return cfg
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Matcher chain results (which selector won)
//   - Image optimization counts
//   - Trigger suppression (busy, exhausted, recovering)
//   - Sentinel visibility reports
//
// Info: Normal operation events
//   - Session start (grid found, next page resolved)
//   - Completed merge cycles
//   - Exhaustion
//   - Reinitialization
//   - Stale results discarded after reinitialization
//   - Webhook acknowledgements and duplicates, server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Transport failures and malformed responses (session recovers)
//   - Settings payloads that fell back to defaults
//   - Webhook signature failures, Redis errors on dedupe
//   - Grid missing after a listing change
//
// Error: Error conditions requiring attention
//   - Reinitialization failures
//   - Runner and server failures
//
// Context Fields:
//   - session_id: Session correlation id
//   - generation: Session generation (bumped on reinitialization)
//   - page: Current page index
//   - url: Page URL being fetched
//   - state: Session state
//   - items: Items merged in a cycle
//   - status_code: HTTP status code
//   - error_class: Error classification (client, server, rate_limit, network)
//   - topic, shop: Webhook topic and shop domain
