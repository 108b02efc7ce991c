package logging

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"":        zapcore.InfoLevel,
		"INFO":    zapcore.InfoLevel,
		"debug":   zapcore.DebugLevel,
		"warning": zapcore.WarnLevel,
		"error":   zapcore.ErrorLevel,
	}
	for input, expected := range cases {
		level, err := ParseLevel(input)
		if err != nil {
			t.Fatalf("ParseLevel(%q) returned error: %v", input, err)
		}
		if level != expected {
			t.Fatalf("ParseLevel(%q) = %v, want %v", input, level, expected)
		}
	}

	if _, err := ParseLevel("chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLoggerWritesToRotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "service.log")

	logger, err := NewLogger(Options{Level: "info", File: path})
	if err != nil {
		t.Fatalf("expected logger, got error: %v", err)
	}
	logger.Info("hello")
	_ = logger.Sync()

	matches, err := filepath.Glob(path + ".*")
	if err != nil {
		t.Fatalf("glob failed: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected a rotated log file to be created")
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected log entry in file")
	}
}

func TestOperationErrorUnwraps(t *testing.T) {
	base := errors.New("boom")
	err := NewOperationError("cache.get", "req-1", base)

	if !errors.Is(err, base) {
		t.Fatal("expected errors.Is to find the wrapped error")
	}
	if got := err.Error(); got != "cache.get (request_id=req-1): boom" {
		t.Fatalf("unexpected message: %s", got)
	}
	if NewOperationError("noop", "", nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}
