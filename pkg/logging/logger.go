// Package logging configures zerolog for the API client and the extract
// binary.
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
)

var zerologLevels = map[LogLevel]zerolog.Level{
	LevelDebug: zerolog.DebugLevel,
	LevelInfo:  zerolog.InfoLevel,
	LevelWarn:  zerolog.WarnLevel,
	LevelError: zerolog.ErrorLevel,
}

// Config holds logger configuration.
type Config struct {
	Level LogLevel

	// Pretty selects console output instead of JSON lines.
	Pretty bool

	// Output defaults to os.Stderr.
	Output io.Writer

	// Service, when set, is attached to every entry as "service".
	Service string
}

// DefaultConfig returns JSON logging at info level to stderr.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Output: os.Stderr,
	}
}

// FromEnv builds a Config from LOG_LEVEL and LOG_PRETTY as returned by
// getenv (usually os.Getenv). Unset or invalid values keep the defaults.
func FromEnv(getenv func(string) string) Config {
	cfg := DefaultConfig()
	if v := getenv("LOG_LEVEL"); v != "" {
		cfg.Level = ParseLevel(v)
	}
	if pretty, err := strconv.ParseBool(getenv("LOG_PRETTY")); err == nil {
		cfg.Pretty = pretty
	}
	return cfg
}

// Setup applies cfg to the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(zerologLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	logger := ctx.Logger()
	log.Logger = logger
	return logger
}

// ParseLevel converts a level name such as "debug" or "WARN" to a LogLevel.
// Unknown names yield LevelInfo.
func ParseLevel(name string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func zerologLevel(level LogLevel) zerolog.Level {
	return zerologLevels[ParseLevel(string(level))]
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, key, TTL)
//   - Page requests (url, page, cursor)
//   - Retry backoff decisions
//
// Info: Normal operation events
//   - Extract start and finish
//   - Requests that succeeded after a retry
//   - 304 Not Modified revalidations
//   - Server startup/shutdown
//
// Warn: Warning conditions that don't prevent operation
//   - Suspicious pagination or rate limit config
//   - Retry attempts exhausted
//   - Cache errors (fallback to direct request)
//   - Failure to close a session
//
// Error: Error conditions requiring attention
//   - Failed extracts
//   - Authentication failures
//   - Configuration errors
//
// Context Fields:
//   - component: emitting package ("api-client", "extract", "cache")
//   - request_id: id of one Paginate call
//   - endpoint: endpoint key, or "url" for absolute URLs
//   - url: request URL
//   - page: 1-based fetch index within a crawl
//   - status_code: HTTP status code
//   - error_class: Error classification (auth, client, rate_limit, server, network)
//   - attempt: retry attempt number
//   - records: records collected
