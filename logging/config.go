package logging

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// ParseLevel maps a configuration string to a slog level. Unknown values
// fall back to info so a bad LOG_LEVEL never silences the pipeline.
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getWeekKey returns the week key in YYYY-Www format (ISO week)
func getWeekKey(t time.Time) string {
	year, week := t.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

// SetupLogger builds the logger: a text handler on stderr, plus a JSON
// handler appending to app-<ISO week>.log under logDir when one is given.
// The pipeline runs are short-lived, so the file is opened once per process
// rather than rotated while running.
func SetupLogger(level string, logDir string) *slog.Logger {
	lvl := ParseLevel(level)

	consoleHandler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: lvl,
	})

	if logDir == "" {
		return slog.New(consoleHandler)
	}

	if err := os.MkdirAll(logDir, 0750); err != nil {
		console := slog.New(consoleHandler)
		console.Error("Failed to create logs directory, logging to console only", "error", err)
		return console
	}

	logPath := filepath.Join(logDir, fmt.Sprintf("app-%s.log", getWeekKey(time.Now())))
	file, err := os.OpenFile(filepath.Clean(logPath), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		console := slog.New(consoleHandler)
		console.Error("Failed to open log file, logging to console only", "error", err)
		return console
	}

	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{
		Level: lvl,
	})

	return slog.New(&multiHandler{handlers: []slog.Handler{consoleHandler, fileHandler}})
}

// multiHandler fans every record out to all wrapped handlers
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, record slog.Record) error {
	var firstErr error
	for _, h := range m.handlers {
		if !h.Enabled(ctx, record.Level) {
			continue
		}
		if err := h.Handle(ctx, record.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		handlers[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}
