// Package observability provides structured logging for pandactl.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"time"

	"github.com/m-mizutani/masq"

	"github.com/jmylchreest/pandactl/internal/config"
)

// contextKey is a type for context keys to avoid collisions.
type contextKey string

// loggerKey is the context key for the logger.
const loggerKey contextKey = "logger"

// redactedFields are attribute keys whose values never reach the log output.
var redactedFields = []string{
	"secret_key",
	"access_key",
	"signature",
	"SecretKey",
	"AccessKey",
}

// RedactedMarker replaces sensitive URL query parameter values.
const RedactedMarker = "[REDACTED]"

// sensitiveQueryParam matches credential-bearing query parameters in logged URLs.
var sensitiveQueryParam = regexp.MustCompile(`(?i)([?&](?:signature|access_key|secret_key|password|token|apikey|api_key)=)[^&\s"]*`)

// NewLogger creates a new slog.Logger based on the provided configuration.
func NewLogger(cfg config.LoggingConfig, secrets ...string) *slog.Logger {
	return NewLoggerWithWriter(cfg, os.Stderr, secrets...)
}

// NewLoggerWithWriter creates a new slog.Logger that writes to the provided writer.
// Any non-empty value in secrets is masked wherever it appears inside a
// string attribute, in addition to the fixed list of credential keys.
func NewLoggerWithWriter(cfg config.LoggingConfig, w io.Writer, secrets ...string) *slog.Logger {
	level := parseLevel(cfg.Level)
	redact := newRedactor(secrets...)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.AddSource,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				if cfg.TimeFormat != "" {
					if t, ok := a.Value.Any().(time.Time); ok {
						return slog.String(slog.TimeKey, t.Format(cfg.TimeFormat))
					}
				}
				return a
			}
			return redact(groups, a)
		},
	}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}

func newRedactor(secrets ...string) func([]string, slog.Attr) slog.Attr {
	options := make([]masq.Option, 0, len(redactedFields)+len(secrets))
	for _, field := range redactedFields {
		options = append(options, masq.WithFieldName(field))
	}
	for _, s := range secrets {
		if s != "" {
			options = append(options, masq.WithContain(s))
		}
	}
	filter := masq.New(options...)

	return func(groups []string, a slog.Attr) slog.Attr {
		if a.Value.Kind() == slog.KindString {
			if v := a.Value.String(); sensitiveQueryParam.MatchString(v) {
				a = slog.String(a.Key, RedactQuery(v))
			}
		}
		return filter(groups, a)
	}
}

// RedactQuery masks the values of credential query parameters in s.
func RedactQuery(s string) string {
	return sensitiveQueryParam.ReplaceAllString(s, "${1}"+RedactedMarker)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithCorrelationID adds a correlation ID to the logger.
func WithCorrelationID(logger *slog.Logger, correlationID string) *slog.Logger {
	return logger.With(slog.String("correlation_id", correlationID))
}

// WithComponent adds a component name to the logger for identifying the source.
func WithComponent(logger *slog.Logger, component string) *slog.Logger {
	return logger.With(slog.String("component", component))
}

// WithOperation adds an operation name to the logger.
func WithOperation(logger *slog.Logger, operation string) *slog.Logger {
	return logger.With(slog.String("operation", operation))
}

// WithError adds an error to the logger attributes.
func WithError(logger *slog.Logger, err error) *slog.Logger {
	if err == nil {
		return logger
	}
	return logger.With(slog.String("error", err.Error()))
}

// LoggerFromContext extracts a logger from the context.
// If no logger is found, returns the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// ContextWithLogger adds a logger to the context.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// TimedOperationWithError logs the start and end of an operation with its
// duration and outcome. The error pointer is read when the returned function
// runs, so it sees errors assigned after this call.
//
// Usage:
//
//	var err error
//	done := observability.TimedOperationWithError(ctx, logger, "upload", &err)
//	defer done()
//	err = doSomething()
//
//nolint:gocritic // errPtr must be a pointer to capture errors set after this call
func TimedOperationWithError(ctx context.Context, logger *slog.Logger, operation string, errPtr *error) func() {
	start := time.Now()
	logger.InfoContext(ctx, "operation started", slog.String("operation", operation))

	return func() {
		duration := time.Since(start)
		if errPtr != nil && *errPtr != nil {
			logger.ErrorContext(ctx, "operation failed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
				slog.String("error", (*errPtr).Error()),
			)
		} else {
			logger.InfoContext(ctx, "operation completed",
				slog.String("operation", operation),
				slog.Duration("duration", duration),
			)
		}
	}
}
