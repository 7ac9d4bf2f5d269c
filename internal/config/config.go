package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the quiz service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	DatabaseURL string
	SQLitePath  string

	GatewayMode    string
	GatewayURL     string
	GatewayToken   string
	GatewayFrom    string
	GatewayTimeout time.Duration

	AssistMode    string
	GraderURL     string
	DrafterURL    string
	AssistTimeout time.Duration

	DispatchInterval time.Duration
	DispatchWorkers  int

	ReaperInterval  time.Duration
	ReaperStaleness time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "quizzd"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		SQLitePath:       stringsTrimSpace("SQLITE_PATH"),
		GatewayMode:      envOrDefault("GATEWAY_MODE", "auto"),
		GatewayURL:       stringsTrimSpace("GATEWAY_URL"),
		GatewayToken:     stringsTrimSpace("GATEWAY_TOKEN"),
		GatewayFrom:      stringsTrimSpace("GATEWAY_FROM"),
		AssistMode:       envOrDefault("ASSIST_MODE", "auto"),
		GraderURL:        stringsTrimSpace("GRADER_URL"),
		DrafterURL:       stringsTrimSpace("DRAFTER_URL"),
		ShutdownTimeout:  15 * time.Second,
		GatewayTimeout:   10 * time.Second,
		AssistTimeout:    15 * time.Second,
		DispatchInterval: time.Minute,
		DispatchWorkers:  8,
		ReaperInterval:   5 * time.Minute,
		ReaperStaleness:  time.Hour,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GatewayTimeout, err = durationFromEnv("GATEWAY_TIMEOUT", cfg.GatewayTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AssistTimeout, err = durationFromEnv("ASSIST_TIMEOUT", cfg.AssistTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DispatchInterval, err = durationFromEnv("DISPATCH_INTERVAL", cfg.DispatchInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.DispatchWorkers, err = intFromEnv("DISPATCH_WORKERS", cfg.DispatchWorkers)
	if err != nil {
		return Config{}, err
	}
	cfg.ReaperInterval, err = durationFromEnv("REAPER_INTERVAL", cfg.ReaperInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ReaperStaleness, err = durationFromEnv("REAPER_STALENESS", cfg.ReaperStaleness)
	if err != nil {
		return Config{}, err
	}

	if cfg.DispatchInterval < 10*time.Second {
		return Config{}, fmt.Errorf("DISPATCH_INTERVAL must be at least 10s")
	}
	if cfg.DispatchWorkers <= 0 {
		return Config{}, fmt.Errorf("DISPATCH_WORKERS must be positive")
	}
	if cfg.ReaperInterval < 10*time.Second {
		return Config{}, fmt.Errorf("REAPER_INTERVAL must be at least 10s")
	}
	if cfg.ReaperStaleness < time.Minute {
		return Config{}, fmt.Errorf("REAPER_STALENESS must be at least 1m")
	}
	if cfg.DatabaseURL != "" && cfg.SQLitePath != "" {
		return Config{}, fmt.Errorf("DATABASE_URL and SQLITE_PATH are mutually exclusive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}
