package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Errorf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.GatewayMode != "auto" || cfg.AssistMode != "auto" {
		t.Errorf("modes = %q/%q, want auto/auto", cfg.GatewayMode, cfg.AssistMode)
	}
	if cfg.ReaperStaleness != time.Hour {
		t.Errorf("ReaperStaleness = %v, want 1h", cfg.ReaperStaleness)
	}
	if cfg.DispatchInterval != time.Minute {
		t.Errorf("DispatchInterval = %v, want 1m", cfg.DispatchInterval)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("GATEWAY_URL", "https://sms.example.com/send")
	t.Setenv("REAPER_STALENESS", "30m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Errorf("BindAddr = %q, want :9090", cfg.BindAddr)
	}
	if cfg.GatewayURL != "https://sms.example.com/send" {
		t.Errorf("GatewayURL = %q, want explicit value", cfg.GatewayURL)
	}
	if cfg.ReaperStaleness != 30*time.Minute {
		t.Errorf("ReaperStaleness = %v, want 30m", cfg.ReaperStaleness)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("DISPATCH_INTERVAL", "2s")
	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want rejection of tiny dispatch interval")
	}

	setCoreEnvEmpty(t)
	t.Setenv("REAPER_STALENESS", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want parse error")
	}

	setCoreEnvEmpty(t)
	t.Setenv("DATABASE_URL", "postgres://localhost/quiz")
	t.Setenv("SQLITE_PATH", "/tmp/quiz.db")
	if _, err := Load(); err == nil {
		t.Fatal("Load() error = nil, want mutually exclusive backends rejected")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"DATABASE_URL",
		"SQLITE_PATH",
		"GATEWAY_MODE",
		"GATEWAY_URL",
		"GATEWAY_TOKEN",
		"GATEWAY_FROM",
		"GATEWAY_TIMEOUT",
		"ASSIST_MODE",
		"GRADER_URL",
		"DRAFTER_URL",
		"ASSIST_TIMEOUT",
		"DISPATCH_INTERVAL",
		"DISPATCH_WORKERS",
		"REAPER_INTERVAL",
		"REAPER_STALENESS",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
