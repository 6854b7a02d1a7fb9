// SPDX-License-Identifier: MIT

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/verisit/verisit/internal/log"
)

func configLogger() zerolog.Logger {
	return log.WithComponent("config")
}

// Load assembles the runtime configuration with ENV > file > defaults
// precedence. path may be empty, in which case only defaults and the
// environment apply. version is stamped into the result for logging.
func Load(path, version string) (AppConfig, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return AppConfig{}, fmt.Errorf("config file %s: %w", path, err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return AppConfig{}, fmt.Errorf("config file %s: %w", path, err)
		}
		cfg, err = fc.applyTo(cfg)
		if err != nil {
			return AppConfig{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	cfg = FromEnv(cfg)
	cfg.Version = version

	if cfg.DatabasePath == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "verisit.db")
	}

	return cfg, nil
}

// fileConfig mirrors AppConfig with durations as strings, since the
// YAML decoder has no native duration support. Pointer fields separate
// "absent" from a zero value.
type fileConfig struct {
	ListenAddr string `yaml:"listenAddr"`
	DataDir    string `yaml:"dataDir"`
	LogLevel   string `yaml:"logLevel"`
	APIToken   string `yaml:"apiToken"`

	StoreBackend string `yaml:"storeBackend"`
	DatabasePath string `yaml:"databasePath"`
	RedisAddr    string `yaml:"redisAddr"`

	DeviceSalts map[string]string `yaml:"deviceSalts"`
	SaltFile    string            `yaml:"saltFile"`

	ConfirmationWindow string `yaml:"confirmationWindow"`
	ClassDuration      string `yaml:"classDuration"`
	CooldownWindow     string `yaml:"cooldownWindow"`

	AnalyzerInterval     string `yaml:"analyzerInterval"`
	JanitorInterval      string `yaml:"janitorInterval"`
	IdempotencyRetention string `yaml:"idempotencyRetention"`
	AnalyzerConcurrency  int    `yaml:"analyzerConcurrency"`
	AnalyzerGroupBudget  string `yaml:"analyzerGroupBudget"`

	AllowedOrigins   []string `yaml:"allowedOrigins"`
	RateLimitEnabled *bool    `yaml:"rateLimitEnabled"`
	RateLimitRPS     int      `yaml:"rateLimitRPS"`
	RateLimitBurst   int      `yaml:"rateLimitBurst"`
}

// applyTo overlays the file's set fields onto base.
func (fc fileConfig) applyTo(base AppConfig) (AppConfig, error) {
	out := base
	if fc.ListenAddr != "" {
		out.ListenAddr = fc.ListenAddr
	}
	if fc.DataDir != "" {
		out.DataDir = fc.DataDir
	}
	if fc.LogLevel != "" {
		out.LogLevel = fc.LogLevel
	}
	if fc.APIToken != "" {
		out.APIToken = fc.APIToken
	}
	if fc.StoreBackend != "" {
		out.StoreBackend = fc.StoreBackend
	}
	if fc.DatabasePath != "" {
		out.DatabasePath = fc.DatabasePath
	}
	if fc.RedisAddr != "" {
		out.RedisAddr = fc.RedisAddr
	}
	if len(fc.DeviceSalts) > 0 {
		out.DeviceSalts = fc.DeviceSalts
	}
	if fc.SaltFile != "" {
		out.SaltFile = fc.SaltFile
	}
	if fc.AnalyzerConcurrency > 0 {
		out.AnalyzerConcurrency = fc.AnalyzerConcurrency
	}
	if len(fc.AllowedOrigins) > 0 {
		out.AllowedOrigins = fc.AllowedOrigins
	}
	if fc.RateLimitEnabled != nil {
		out.RateLimitEnabled = *fc.RateLimitEnabled
	}
	if fc.RateLimitRPS > 0 {
		out.RateLimitRPS = fc.RateLimitRPS
	}
	if fc.RateLimitBurst > 0 {
		out.RateLimitBurst = fc.RateLimitBurst
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"confirmationWindow", fc.ConfirmationWindow, &out.ConfirmationWindow},
		{"classDuration", fc.ClassDuration, &out.ClassDuration},
		{"cooldownWindow", fc.CooldownWindow, &out.CooldownWindow},
		{"analyzerInterval", fc.AnalyzerInterval, &out.AnalyzerInterval},
		{"janitorInterval", fc.JanitorInterval, &out.JanitorInterval},
		{"idempotencyRetention", fc.IdempotencyRetention, &out.IdempotencyRetention},
		{"analyzerGroupBudget", fc.AnalyzerGroupBudget, &out.AnalyzerGroupBudget},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return AppConfig{}, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return out, nil
}
