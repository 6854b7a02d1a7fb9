// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, 3*time.Minute, cfg.ConfirmationWindow)
	assert.Equal(t, 60*time.Minute, cfg.ClassDuration)
	assert.Equal(t, 15*time.Minute, cfg.CooldownWindow)
	assert.Equal(t, 24*time.Hour, cfg.IdempotencyRetention)
	assert.True(t, cfg.RateLimitEnabled)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("VERISIT_LISTEN", ":9999")
	t.Setenv("VERISIT_STORE_BACKEND", "memory")
	t.Setenv("VERISIT_CONFIRMATION_WINDOW", "90s")
	t.Setenv("VERISIT_DEVICE_SALTS", "v1:alpha,v2:beta")
	t.Setenv("VERISIT_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("VERISIT_RATELIMIT_ENABLED", "false")

	cfg := FromEnv(Defaults())
	assert.Equal(t, ":9999", cfg.ListenAddr)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 90*time.Second, cfg.ConfirmationWindow)
	assert.Equal(t, map[string]string{"v1": "alpha", "v2": "beta"}, cfg.DeviceSalts)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.RateLimitEnabled)
}

func TestFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("VERISIT_CONFIRMATION_WINDOW", "soon")
	t.Setenv("VERISIT_RATELIMIT_RPS", "many")
	t.Setenv("VERISIT_DEVICE_SALTS", "missing-colon")

	cfg := FromEnv(Defaults())
	assert.Equal(t, 3*time.Minute, cfg.ConfirmationWindow)
	assert.Equal(t, 50, cfg.RateLimitRPS)
	assert.Empty(t, cfg.DeviceSalts)
}

func TestParseSaltSpec(t *testing.T) {
	salts, err := ParseSaltSpec("v1:alpha, v2:beta")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"v1": "alpha", "v2": "beta"}, salts)

	_, err = ParseSaltSpec("v1")
	require.Error(t, err)
	_, err = ParseSaltSpec("v1:")
	require.Error(t, err)
	_, err = ParseSaltSpec(":salt")
	require.Error(t, err)
	_, err = ParseSaltSpec(" , ")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Defaults()
	valid.DeviceSalts = map[string]string{"v1": "s"}
	require.NoError(t, valid.Validate())

	cases := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"zero confirmation window", func(c *AppConfig) { c.ConfirmationWindow = 0 }},
		{"class shorter than window", func(c *AppConfig) { c.ClassDuration = time.Minute }},
		{"zero janitor interval", func(c *AppConfig) { c.JanitorInterval = 0 }},
		{"unknown backend", func(c *AppConfig) { c.StoreBackend = "dynamo" }},
		{"no salts", func(c *AppConfig) { c.DeviceSalts = nil; c.SaltFile = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "verisit.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listenAddr: ":7070"
dataDir: `+dir+`
logLevel: debug
confirmationWindow: 2m
deviceSalts:
  v1: from-file
`), 0o600))

	// The environment wins over the file.
	t.Setenv("VERISIT_LISTEN", ":6060")

	cfg, err := Load(path, "v1.2.3")
	require.NoError(t, err)
	assert.Equal(t, ":6060", cfg.ListenAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2*time.Minute, cfg.ConfirmationWindow)
	assert.Equal(t, "from-file", cfg.DeviceSalts["v1"])
	assert.Equal(t, "v1.2.3", cfg.Version)
	// Untouched fields keep their defaults.
	assert.Equal(t, 15*time.Minute, cfg.CooldownWindow)
	// The database path derives from the data dir.
	assert.Equal(t, filepath.Join(dir, "verisit.db"), cfg.DatabasePath)
}

func TestLoad_BadDurationInFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verisit.yaml")
	require.NoError(t, os.WriteFile(path, []byte("confirmationWindow: soon\n"), 0o600))

	_, err := Load(path, "dev")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "confirmationWindow")
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "dev")
	require.Error(t, err)
}

func TestLoad_NoFile(t *testing.T) {
	cfg, err := Load("", "dev")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, filepath.Join("/var/lib/verisit", "verisit.db"), cfg.DatabasePath)
}
