package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestInitLogger_ValidLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
	}{
		{"debug", "debug"},
		{"info", "info"},
		{"warn", "warn"},
		{"error", "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := InitLogger(tt.level); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if GetLogger() == nil {
				t.Fatal("GetLogger() returned nil")
			}
		})
	}
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	if err := InitLogger("invalid"); err == nil {
		t.Error("expected error for invalid log level, got nil")
	}
}

func TestInitLogger_AppliesLevel(t *testing.T) {
	if err := InitLogger("warn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if GetLogger().GetLevel() != zerolog.WarnLevel {
		t.Errorf("expected warn level, got %v", GetLogger().GetLevel())
	}
}

func TestComponent_LogsWithoutPanic(t *testing.T) {
	if err := InitLogger("info"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A component logger must not panic and must be usable independently
	// of the global logger instance.
	l := Component("clock")
	l.Info().Msg("test")
}
