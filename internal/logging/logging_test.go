package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for raw, want := range cases {
		got, err := ParseLevel(raw)
		if err != nil {
			t.Fatalf("%q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("%q: expected %v, got %v", raw, want, got)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected unknown level to fail")
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)
	logger.Debug("hidden")
	logger.Info("shown", "agents", 100)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked: %s", out)
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "agents=100") {
		t.Fatalf("unexpected output: %s", out)
	}
}
