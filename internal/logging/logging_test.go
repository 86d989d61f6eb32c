package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v; want %v", in, got, want)
		}
	}
}

func TestSetupWritesConsoleAndFile(t *testing.T) {
	prev := slog.Default()
	defer slog.SetDefault(prev)

	file := filepath.Join(t.TempDir(), "logs", "test.log")
	var console bytes.Buffer
	closer, err := Setup("warn", file, &console)
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}

	slog.Info("hidden")
	slog.Warn("shown", "k", "v")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if strings.Contains(console.String(), "hidden") || !strings.Contains(console.String(), "k=v") {
		t.Fatalf("console = %q", console.String())
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "shown") {
		t.Fatalf("log file = %q", data)
	}
}
