// Package logging centralizes slog setup for the staging pipeline.
package logging

import (
	"log/slog"
	"os"
)

var defaultLogger *slog.Logger

// InitLogger initializes the global logger instance. level is one of
// debug/info/warn/error; logDir, when non-empty, adds a weekly JSON log
// file alongside the console handler.
func InitLogger(level string, logDir string) {
	defaultLogger = SetupLogger(level, logDir)
	slog.SetDefault(defaultLogger)
}

// logger returns the configured logger, falling back to a plain console
// logger when InitLogger has not run yet (early startup, tests).
func logger() *slog.Logger {
	if defaultLogger != nil {
		return defaultLogger
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// Package-level functions for direct access

func Info(msg string, args ...any) {
	logger().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	logger().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	logger().Error(msg, args...)
}

func Debug(msg string, args ...any) {
	logger().Debug(msg, args...)
}
