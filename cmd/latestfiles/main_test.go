package main

import (
	"testing"
	"time"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("LATESTFILES_TEST_INT", "42")
	if got := intEnv("LATESTFILES_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestIntEnvFallsBackOnInvalid(t *testing.T) {
	t.Setenv("LATESTFILES_TEST_INT_BAD", "oops")
	if got := intEnv("LATESTFILES_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("LATESTFILES_TEST_DURATION", "90s")
	if got := durationEnv("LATESTFILES_TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Fatalf("expected 90s, got %s", got)
	}
}

func TestDurationEnvFallsBackOnInvalid(t *testing.T) {
	t.Setenv("LATESTFILES_TEST_DURATION_BAD", "soon")
	if got := durationEnv("LATESTFILES_TEST_DURATION_BAD", time.Minute); got != time.Minute {
		t.Fatalf("expected fallback 1m, got %s", got)
	}
}

func TestBuildAnnouncerFromEnvRequiresBothVariables(t *testing.T) {
	t.Setenv("DISCORD_WEBHOOK", "")
	t.Setenv("ADMIN_EMAIL", "")
	if announcer, err := buildAnnouncerFromEnv(); err != nil || announcer != nil {
		t.Fatalf("expected nil announcer without config, got %v, %v", announcer, err)
	}

	t.Setenv("DISCORD_WEBHOOK", "https://discord.example/api/webhooks/1/x")
	if announcer, err := buildAnnouncerFromEnv(); err != nil || announcer != nil {
		t.Fatalf("expected nil announcer without admin email, got %v, %v", announcer, err)
	}

	t.Setenv("ADMIN_EMAIL", "ops@example.com")
	announcer, err := buildAnnouncerFromEnv()
	if err != nil {
		t.Fatalf("build announcer: %v", err)
	}
	if announcer == nil {
		t.Fatalf("expected announcer with full config")
	}
}
