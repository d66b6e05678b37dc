package observability

import (
	"context"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ServiceName is stamped on every log entry.
const ServiceName = "paper-review-service"

// LoggingConfig contains logger configuration options.
type LoggingConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error, fatal, panic).
	Level string

	// Format is the output format (json, console, pretty).
	Format string

	// Output is the output destination (stdout, stderr).
	Output string

	// AddSource adds source file and line number to log entries.
	AddSource bool

	// TimeFormat is the time format for timestamps.
	TimeFormat string
}

// DefaultLoggingConfig returns a LoggingConfig with sensible defaults.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:      "info",
		Format:     "json",
		Output:     "stdout",
		AddSource:  false,
		TimeFormat: time.RFC3339,
	}
}

// NewLogger creates the process logger. It also sets the zerolog global
// level and time format, so call it once at startup.
func NewLogger(cfg LoggingConfig) zerolog.Logger {
	out := io.Writer(os.Stdout)
	if strings.EqualFold(cfg.Output, "stderr") {
		out = os.Stderr
	}

	zerolog.TimeFieldFormat = cfg.TimeFormat
	if zerolog.TimeFieldFormat == "" {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)
	return newLogger(out, cfg).Level(level)
}

// newLogger builds a logger writing to out without touching global state.
func newLogger(out io.Writer, cfg LoggingConfig) zerolog.Logger {
	switch strings.ToLower(cfg.Format) {
	case "console", "pretty":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: zerolog.TimeFieldFormat}
	}

	ctx := zerolog.New(out).With().Timestamp().Str("service", ServiceName)
	if cfg.AddSource {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// parseLevel converts a level name to zerolog.Level. Unknown or empty names
// mean info.
func parseLevel(level string) zerolog.Level {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	if level == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// WithRequestContext adds the inbound request and review identifiers to a logger.
func WithRequestContext(logger zerolog.Logger, requestID, reviewID string) zerolog.Logger {
	return logger.With().
		Str("request_id", requestID).
		Str("review_id", reviewID).
		Logger()
}

// WithStageContext adds pipeline stage fields to a logger.
func WithStageContext(logger zerolog.Logger, stage, policy string) zerolog.Logger {
	return logger.With().
		Str("stage", stage).
		Str("policy", policy).
		Logger()
}

// WithSourceContext adds retrieval source fields to a logger.
func WithSourceContext(logger zerolog.Logger, source string, variants int) zerolog.Logger {
	return logger.With().
		Str("source", source).
		Int("variants", variants).
		Logger()
}

// FromContext returns the logger enriched with the request, review and
// stage identifiers found in ctx.
func FromContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	rc := ReviewContextFromContext(ctx)
	if rc.RequestID != "" || rc.ReviewID != "" {
		logger = WithRequestContext(logger, rc.RequestID, rc.ReviewID)
	}
	if rc.Stage != "" {
		logger = logger.With().Str("stage", rc.Stage).Logger()
	}
	return logger
}
