// Package log is the process-wide structured logger for docqa. It wraps
// log/slog with a mutable level so --debug can flip verbosity at startup,
// and stamps every record with the service name.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

const serviceName = "docqa"

var (
	defaultLogger *slog.Logger
	levelVar      *slog.LevelVar
)

func init() {
	levelVar = &slog.LevelVar{}
	levelVar.Set(slog.LevelInfo)
	SetOutput(os.Stderr)
}

// SetOutput rebuilds the logger against w. Tests use this to capture
// records; production code never calls it.
func SetOutput(w io.Writer) {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: levelVar})
	defaultLogger = slog.New(handler).With(slog.String("service", serviceName))
}

func SetLevel(level slog.Level) { levelVar.Set(level) }

// SetDebug toggles between debug and info verbosity.
func SetDebug(enabled bool) {
	if enabled {
		SetLevel(slog.LevelDebug)
	} else {
		SetLevel(slog.LevelInfo)
	}
}

func IsDebug() bool { return levelVar.Level() == slog.LevelDebug }

func GetLogger() *slog.Logger { return defaultLogger }

// WithModule returns a child logger tagged with the owning package, e.g.
// "rag" or "vectorstore".
func WithModule(module string) *slog.Logger {
	return defaultLogger.With(slog.String("module", module))
}

// Structured logging.
func Debug(msg string, args ...any) { defaultLogger.Debug(msg, args...) }
func Info(msg string, args ...any)  { defaultLogger.Info(msg, args...) }
func Warn(msg string, args ...any)  { defaultLogger.Warn(msg, args...) }
func Error(msg string, args ...any) { defaultLogger.Error(msg, args...) }

// Printf-style helpers for call sites that format a single message.
func Debugf(format string, args ...any) {
	defaultLogger.Debug(fmt.Sprintf(format, args...))
}
func Infof(format string, args ...any) {
	defaultLogger.Info(fmt.Sprintf(format, args...))
}
func Warnf(format string, args ...any) {
	defaultLogger.Warn(fmt.Sprintf(format, args...))
}
func Errf(format string, args ...any) {
	defaultLogger.Error(fmt.Sprintf(format, args...))
}
