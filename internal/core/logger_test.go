package core

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestNoopLogger(_ *testing.T) {
	var l noopLogger
	l.Debug("debug", "k", "v")
	l.Info("info", "k", "v")
	l.Warn("warn", "k", "v")
	l.Error("error", "k", "v")
}

func TestNewLoggerLevels(t *testing.T) {
	var buf bytes.Buffer
	l, err := NewLogger(&buf, "warn")
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	l.Info("dropped")
	l.Warn("kept", "table", "orders")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected exactly one JSON line, got %q: %v", buf.String(), err)
	}
	if entry["msg"] != "kept" || entry["table"] != "orders" {
		t.Fatalf("unexpected entry %v", entry)
	}
	if _, err := NewLogger(&buf, "loud"); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestSlogOf(t *testing.T) {
	sl := slog.New(slog.DiscardHandler)
	if slogOf(sl) != sl {
		t.Fatalf("slog logger not passed through")
	}
	if slogOf(noopLogger{}) == nil {
		t.Fatalf("expected discard logger")
	}
}
