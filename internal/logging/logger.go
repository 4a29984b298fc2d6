// Package logging provides structured logging configuration using log/slog.
//
// Loggers obtained from a request context carry chi's request id, and
// loggers for a preparation run carry its run id, so every entry of one run
// can be correlated.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

type ctxKey struct{}

// Setup configures the global slog logger based on level and format.
//
// Level values: "debug", "info", "warn", "error" (default: "info")
// Format values: "text", "json" (default: "text")
func Setup(level, format string) {
	slog.SetDefault(New(os.Stdout, level, format))
}

// New builds a logger writing to w. It is what Setup installs globally.
func New(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// parseLevel converts a string log level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithLogger stores logger in ctx so downstream stages pick it up via FromContext.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, logger)
}

// FromContext returns the logger stored in ctx, or the default logger.
// When ctx carries a chi request id it is added as request_id.
func FromContext(ctx context.Context) *slog.Logger {
	logger, ok := ctx.Value(ctxKey{}).(*slog.Logger)
	if !ok {
		logger = slog.Default()
	}

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}

	return logger
}

// WithFields returns a logger with additional structured fields.
//
//	runLogger := logging.WithFields(ctx, "run_id", runID)
//	runLogger.Info("run started")
func WithFields(ctx context.Context, args ...any) *slog.Logger {
	return FromContext(ctx).With(args...)
}

// Stage logs the start of a named stage and returns a func that logs its
// completion with the elapsed time. Pass the stage error to the returned
// func; a non-nil error is logged as a failure instead.
//
//	done := logging.Stage(ctx, "load_exposure", "path", path)
//	records, err := exposure.LoadExposure(...)
//	done(err)
func Stage(ctx context.Context, name string, args ...any) func(error) {
	logger := FromContext(ctx).With(append([]any{"stage", name}, args...)...)
	logger.Debug("stage started")
	start := time.Now()

	return func(err error) {
		elapsed := time.Since(start)
		if err != nil {
			logger.Error("stage failed", "duration_ms", elapsed.Milliseconds(), "error", err)
			return
		}
		logger.Info("stage completed", "duration_ms", elapsed.Milliseconds())
	}
}
