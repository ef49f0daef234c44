package main

import (
	"testing"
	"time"
)

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("LATESTFILES_TEST_ENV", "  value  ")
	if got := envOrDefault("LATESTFILES_TEST_ENV", "fallback"); got != "value" {
		t.Fatalf("expected trimmed value, got %q", got)
	}
	t.Setenv("LATESTFILES_TEST_ENV", "")
	if got := envOrDefault("LATESTFILES_TEST_ENV", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestDurationEnvFallsBackOnInvalid(t *testing.T) {
	t.Setenv("LATESTFILES_TEST_TTL", "never")
	if got := durationEnv("LATESTFILES_TEST_TTL", 5*time.Second); got != 5*time.Second {
		t.Fatalf("expected fallback 5s, got %s", got)
	}
	t.Setenv("LATESTFILES_TEST_TTL", "30s")
	if got := durationEnv("LATESTFILES_TEST_TTL", 5*time.Second); got != 30*time.Second {
		t.Fatalf("expected 30s, got %s", got)
	}
}
