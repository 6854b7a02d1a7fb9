// SPDX-License-Identifier: MIT

package ratelimit

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

// testConfig keeps the per-device budget tiny so exhaustion is cheap,
// while the global and per-op budgets stay out of the way.
func testConfig() Config {
	return Config{
		GlobalRate:  1000,
		GlobalBurst: 1000,

		PerDeviceRate:  1,
		PerDeviceBurst: 3,

		OpRates: map[string]rate.Limit{
			OpCheckIn: 1000,
			OpIngest:  1000,
		},
		OpBurst: map[string]int{
			OpCheckIn: 1000,
			OpIngest:  1000,
		},

		CleanupInterval: time.Hour,
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, rate.Limit(200), cfg.GlobalRate)
	assert.Equal(t, rate.Limit(5), cfg.PerDeviceRate)
	assert.Equal(t, 10, cfg.PerDeviceBurst)
	assert.Equal(t, rate.Limit(20), cfg.OpRates[OpCheckIn])
	assert.Equal(t, 200, cfg.OpBurst[OpIngest])
}

func TestAllow_PerDeviceBurstExhaustion(t *testing.T) {
	l := New(testConfig())

	for i := 0; i < 3; i++ {
		require.True(t, l.Allow("D1", OpCheckIn), "request %d should pass the burst", i)
	}
	assert.False(t, l.Allow("D1", OpCheckIn), "burst exhausted")
}

func TestAllow_DevicesAreIsolated(t *testing.T) {
	l := New(testConfig())

	for l.Allow("D1", OpIngest) {
	}
	assert.True(t, l.Allow("D2", OpIngest), "another device keeps its own budget")
}

func TestAllow_PerOpBudget(t *testing.T) {
	cfg := testConfig()
	cfg.PerDeviceBurst = 1000
	cfg.PerDeviceRate = 1000
	cfg.OpRates[OpCheckIn] = 1
	cfg.OpBurst[OpCheckIn] = 2
	l := New(cfg)

	require.True(t, l.Allow("D1", OpCheckIn))
	require.True(t, l.Allow("D2", OpCheckIn))
	assert.False(t, l.Allow("D3", OpCheckIn), "op budget is shared across devices")

	// Other operations are unaffected.
	assert.True(t, l.Allow("D4", OpIngest))
}

func TestAllow_GlobalBudget(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalRate = 1
	cfg.GlobalBurst = 2
	l := New(cfg)

	require.True(t, l.Allow("D1", OpIngest))
	require.True(t, l.Allow("D2", OpIngest))
	assert.False(t, l.Allow("D3", OpIngest))
}

func TestAllow_UnknownOpSkipsOpBudget(t *testing.T) {
	l := New(testConfig())
	assert.True(t, l.Allow("D1", "status"))
}

func TestGetClientIP(t *testing.T) {
	cases := []struct {
		name       string
		remoteAddr string
		xff        string
		xri        string
		want       string
	}{
		{"remote addr only", "10.0.0.1:1234", "", "", "10.0.0.1"},
		{"remote addr without port", "10.0.0.1", "", "", "10.0.0.1"},
		{"x-forwarded-for single", "10.0.0.1:1234", "203.0.113.7", "", "203.0.113.7"},
		{"x-forwarded-for chain", "10.0.0.1:1234", "203.0.113.7, 10.0.0.2, 10.0.0.3", "", "203.0.113.7"},
		{"x-real-ip fallback", "10.0.0.1:1234", "", "203.0.113.9", "203.0.113.9"},
		{"xff wins over xri", "10.0.0.1:1234", "203.0.113.7", "203.0.113.9", "203.0.113.7"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tc.remoteAddr
			if tc.xff != "" {
				r.Header.Set("X-Forwarded-For", tc.xff)
			}
			if tc.xri != "" {
				r.Header.Set("X-Real-IP", tc.xri)
			}
			assert.Equal(t, tc.want, GetClientIP(r))
		})
	}
}
