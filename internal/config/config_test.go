package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ServerPort == "" {
		t.Fatalf("expected default server port")
	}
	if cfg.PostgresURL == "" {
		t.Fatalf("expected default postgres url")
	}
	if cfg.NotifyThresholdMinutes != 5 {
		t.Fatalf("expected default threshold 5, got %d", cfg.NotifyThresholdMinutes)
	}
	if cfg.ArrivalRadiusM != 50 || cfg.AdvanceRadiusM != 100 {
		t.Fatalf("unexpected radii: %v %v", cfg.ArrivalRadiusM, cfg.AdvanceRadiusM)
	}
	if cfg.InactivityWindow != 10*time.Minute {
		t.Fatalf("unexpected inactivity window: %v", cfg.InactivityWindow)
	}
	if cfg.RetentionWindow != 24*time.Hour {
		t.Fatalf("unexpected retention window: %v", cfg.RetentionWindow)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", ":9000")
	t.Setenv("POSTGRES_URL", "postgres://example")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("NOTIFY_THRESHOLD_MINUTES", "3")
	t.Setenv("INACTIVITY_WINDOW", "90s")
	t.Setenv("AMQP_URL", "amqp://guest:guest@mq:5672/")

	cfg := Load()
	if cfg.ServerPort != ":9000" {
		t.Fatalf("expected override port")
	}
	if cfg.PostgresURL != "postgres://example" {
		t.Fatalf("expected override postgres")
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Fatalf("expected override redis")
	}
	if cfg.JWTSecret != "secret" {
		t.Fatalf("expected override secret")
	}
	if cfg.NotifyThresholdMinutes != 3 {
		t.Fatalf("expected override threshold, got %d", cfg.NotifyThresholdMinutes)
	}
	if cfg.InactivityWindow != 90*time.Second {
		t.Fatalf("expected override inactivity window, got %v", cfg.InactivityWindow)
	}
	if cfg.AMQPURL == "" {
		t.Fatalf("expected override amqp url")
	}
}

func TestOrigins(t *testing.T) {
	cfg := Config{CORSOrigins: " https://a.example , ,https://b.example"}
	if got := cfg.Origins(); got != "https://a.example,https://b.example" {
		t.Fatalf("unexpected origins: %q", got)
	}
	if got := (Config{}).Origins(); got != "*" {
		t.Fatalf("expected wildcard, got %q", got)
	}
}
