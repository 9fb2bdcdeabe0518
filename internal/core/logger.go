package core

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the structured logging surface used across services. *slog.Logger
// satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NewLogger returns a JSON slog logger writing to w at level.
func NewLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// slogOf recovers a *slog.Logger for components that take one directly.
func slogOf(l Logger) *slog.Logger {
	if sl, ok := l.(*slog.Logger); ok && sl != nil {
		return sl
	}
	return slog.New(slog.DiscardHandler)
}
