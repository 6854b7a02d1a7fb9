// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration with ENV > file > defaults
// precedence. All attendance policy windows live here so deployments can
// tune them without code changes.
package config

import (
	"fmt"
	"strings"
	"time"
)

// AppConfig is the immutable runtime configuration of the daemon.
// YAML decoding goes through fileConfig; see file.go.
type AppConfig struct {
	ListenAddr string
	DataDir    string
	LogLevel   string

	// APIToken guards admin endpoints (device reset, anomaly review).
	// Empty token disables admin routes (fail closed).
	APIToken string

	// Storage
	StoreBackend string // "sqlite" or "memory"
	DatabasePath string

	// Optional redis response cache ("" disables)
	RedisAddr string

	// Device signature salts, keyed by version tag. Loaded from
	// VERISIT_DEVICE_SALTS ("v1:salt,v2:salt") or from SaltFile.
	DeviceSalts map[string]string
	SaltFile    string

	// Attendance policy
	ConfirmationWindow time.Duration
	ClassDuration      time.Duration
	CooldownWindow     time.Duration

	// Background tasks
	AnalyzerInterval     time.Duration
	JanitorInterval      time.Duration
	IdempotencyRetention time.Duration
	AnalyzerConcurrency  int
	AnalyzerGroupBudget  time.Duration

	// HTTP ingress
	AllowedOrigins   []string
	RateLimitEnabled bool
	RateLimitRPS     int
	RateLimitBurst   int

	Version string
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		ListenAddr:           ":8080",
		DataDir:              "/var/lib/verisit",
		LogLevel:             "info",
		StoreBackend:         "sqlite",
		DatabasePath:         "", // derived from DataDir when empty
		DeviceSalts:          map[string]string{},
		ConfirmationWindow:   3 * time.Minute,
		ClassDuration:        60 * time.Minute,
		CooldownWindow:       15 * time.Minute,
		AnalyzerInterval:     30 * time.Minute,
		JanitorInterval:      5 * time.Minute,
		IdempotencyRetention: 24 * time.Hour,
		AnalyzerConcurrency:  0, // 0 means GOMAXPROCS
		AnalyzerGroupBudget:  30 * time.Second,
		AllowedOrigins:       []string{"*"},
		RateLimitEnabled:     true,
		RateLimitRPS:         50,
		RateLimitBurst:       100,
	}
}

// FromEnv overlays environment variables onto cfg and returns the result.
func FromEnv(cfg AppConfig) AppConfig {
	cfg.ListenAddr = ParseString("VERISIT_LISTEN", cfg.ListenAddr)
	cfg.DataDir = ParseString("VERISIT_DATA", cfg.DataDir)
	cfg.LogLevel = ParseString("VERISIT_LOG_LEVEL", cfg.LogLevel)
	cfg.APIToken = ParseString("VERISIT_API_TOKEN", cfg.APIToken)
	cfg.StoreBackend = ParseString("VERISIT_STORE_BACKEND", cfg.StoreBackend)
	cfg.DatabasePath = ParseString("VERISIT_DB_PATH", cfg.DatabasePath)
	cfg.RedisAddr = ParseString("VERISIT_REDIS_ADDR", cfg.RedisAddr)
	cfg.SaltFile = ParseString("VERISIT_SALT_FILE", cfg.SaltFile)

	if raw := ParseString("VERISIT_DEVICE_SALTS", ""); raw != "" {
		salts, err := ParseSaltSpec(raw)
		if err != nil {
			log := configLogger()
			log.Warn().Err(err).Msg("ignoring malformed VERISIT_DEVICE_SALTS")
		} else {
			cfg.DeviceSalts = salts
		}
	}

	cfg.ConfirmationWindow = ParseDuration("VERISIT_CONFIRMATION_WINDOW", cfg.ConfirmationWindow)
	cfg.ClassDuration = ParseDuration("VERISIT_CLASS_DURATION", cfg.ClassDuration)
	cfg.CooldownWindow = ParseDuration("VERISIT_COOLDOWN_WINDOW", cfg.CooldownWindow)
	cfg.AnalyzerInterval = ParseDuration("VERISIT_ANALYZER_INTERVAL", cfg.AnalyzerInterval)
	cfg.JanitorInterval = ParseDuration("VERISIT_JANITOR_INTERVAL", cfg.JanitorInterval)
	cfg.IdempotencyRetention = ParseDuration("VERISIT_IDEMPOTENCY_RETENTION", cfg.IdempotencyRetention)
	cfg.AnalyzerConcurrency = ParseInt("VERISIT_ANALYZER_CONCURRENCY", cfg.AnalyzerConcurrency)
	cfg.AnalyzerGroupBudget = ParseDuration("VERISIT_ANALYZER_GROUP_BUDGET", cfg.AnalyzerGroupBudget)

	if raw := ParseString("VERISIT_ALLOWED_ORIGINS", ""); raw != "" {
		cfg.AllowedOrigins = splitCSV(raw)
	}
	cfg.RateLimitEnabled = ParseBool("VERISIT_RATELIMIT_ENABLED", cfg.RateLimitEnabled)
	cfg.RateLimitRPS = ParseInt("VERISIT_RATELIMIT_RPS", cfg.RateLimitRPS)
	cfg.RateLimitBurst = ParseInt("VERISIT_RATELIMIT_BURST", cfg.RateLimitBurst)

	return cfg
}

// Validate rejects configurations the daemon cannot run with.
func (c AppConfig) Validate() error {
	if c.ConfirmationWindow <= 0 {
		return fmt.Errorf("confirmation window must be positive, got %s", c.ConfirmationWindow)
	}
	if c.ClassDuration < c.ConfirmationWindow {
		return fmt.Errorf("class duration %s shorter than confirmation window %s", c.ClassDuration, c.ConfirmationWindow)
	}
	if c.JanitorInterval <= 0 {
		return fmt.Errorf("janitor interval must be positive, got %s", c.JanitorInterval)
	}
	switch c.StoreBackend {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	if len(c.DeviceSalts) == 0 && c.SaltFile == "" {
		return fmt.Errorf("no device salts configured: set VERISIT_DEVICE_SALTS or VERISIT_SALT_FILE")
	}
	return nil
}

// ParseSaltSpec parses the "version:salt,version:salt" CSV form.
func ParseSaltSpec(raw string) (map[string]string, error) {
	salts := make(map[string]string)
	for _, part := range splitCSV(raw) {
		version, salt, ok := strings.Cut(part, ":")
		if !ok || version == "" || salt == "" {
			return nil, fmt.Errorf("malformed salt entry %q, want version:salt", part)
		}
		salts[version] = salt
	}
	if len(salts) == 0 {
		return nil, fmt.Errorf("no salt entries in %q", raw)
	}
	return salts, nil
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.TrimSpace(p)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
