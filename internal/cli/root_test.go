package cli

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestEnvironmentFillsUnsetFlags(t *testing.T) {
	t.Setenv("QUIZ_PORT", "9191")
	t.Setenv("QUIZ_LOG_LEVEL", "debug")

	cmd := newRootCmd()
	if got := cmd.PersistentFlags().Lookup("port").Value.String(); got != "9191" {
		t.Fatalf("expected port from env, got %q", got)
	}
	if got := cmd.PersistentFlags().Lookup("log-level").Value.String(); got != "debug" {
		t.Fatalf("expected log level from env, got %q", got)
	}
	if got := cmd.PersistentFlags().Lookup("config").Value.String(); got != "config/config.yaml" {
		t.Fatalf("expected default config path, got %q", got)
	}
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())

	setupLogging("warn", "", false)
	if zerolog.GlobalLevel() != zerolog.WarnLevel {
		t.Fatalf("expected warn level, got %v", zerolog.GlobalLevel())
	}
	setupLogging("warn", "debug", false)
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("expected override to win, got %v", zerolog.GlobalLevel())
	}
	setupLogging("loud", "", false)
	if zerolog.GlobalLevel() != zerolog.InfoLevel {
		t.Fatalf("expected fallback to info, got %v", zerolog.GlobalLevel())
	}
}
