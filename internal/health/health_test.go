// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(ctx context.Context) error { return p.err }

type staticChecker struct {
	name   string
	result CheckResult
}

func (c staticChecker) Name() string                          { return c.name }
func (c staticChecker) Check(ctx context.Context) CheckResult { return c.result }

func TestManager_HealthVerbose(t *testing.T) {
	m := NewManager("v1")
	m.RegisterChecker(staticChecker{"a", CheckResult{Status: StatusHealthy}})
	m.RegisterChecker(staticChecker{"b", CheckResult{Status: StatusDegraded, Message: "slow"}})

	// Non-verbose ignores components entirely.
	resp := m.Health(context.Background(), false)
	assert.Equal(t, StatusHealthy, resp.Status)
	assert.Empty(t, resp.Checks)
	assert.Equal(t, "v1", resp.Version)

	resp = m.Health(context.Background(), true)
	assert.Equal(t, StatusDegraded, resp.Status)
	assert.Len(t, resp.Checks, 2)
	assert.Equal(t, "slow", resp.Checks["b"].Message)
}

func TestManager_HealthVerboseUnhealthyWins(t *testing.T) {
	m := NewManager("v1")
	m.RegisterChecker(staticChecker{"a", CheckResult{Status: StatusDegraded}})
	m.RegisterChecker(staticChecker{"b", CheckResult{Status: StatusUnhealthy, Error: "down"}})

	resp := m.Health(context.Background(), true)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestManager_Ready(t *testing.T) {
	m := NewManager("v1")
	assert.True(t, m.Ready(context.Background()).Ready, "no checkers means ready")

	m.RegisterChecker(staticChecker{"a", CheckResult{Status: StatusDegraded}})
	resp := m.Ready(context.Background())
	assert.True(t, resp.Ready, "degraded keeps serving")
	assert.Equal(t, StatusDegraded, resp.Status)

	m.RegisterChecker(staticChecker{"b", CheckResult{Status: StatusUnhealthy}})
	resp = m.Ready(context.Background())
	assert.False(t, resp.Ready)
	assert.Equal(t, StatusUnhealthy, resp.Status)
}

func TestStoreChecker(t *testing.T) {
	ok := NewStoreChecker("store", fakePinger{})
	assert.Equal(t, "store", ok.Name())
	res := ok.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, "store reachable", res.Message)

	bad := NewStoreChecker("store", fakePinger{err: errors.New("locked")})
	res = bad.Check(context.Background())
	assert.Equal(t, StatusUnhealthy, res.Status)
	assert.Equal(t, "locked", res.Error)
}

func TestLastRunChecker(t *testing.T) {
	var lastRun time.Time
	var lastErr string
	c := NewLastRunChecker("analyzer", time.Hour, func() (time.Time, string) {
		return lastRun, lastErr
	})

	// Never ran: healthy, the job simply has not fired yet.
	res := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)
	assert.Equal(t, "no run yet", res.Message)

	lastRun = time.Now().Add(-time.Minute)
	res = c.Check(context.Background())
	assert.Equal(t, StatusHealthy, res.Status)

	lastErr = "report write failed"
	res = c.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
	assert.Equal(t, "report write failed", res.Error)

	lastErr = ""
	lastRun = time.Now().Add(-2 * time.Hour)
	res = c.Check(context.Background())
	assert.Equal(t, StatusDegraded, res.Status)
}

func TestServeHealth(t *testing.T) {
	m := NewManager("v1")
	m.RegisterChecker(staticChecker{"store", CheckResult{Status: StatusUnhealthy, Error: "down"}})

	// Liveness is always 200, even with an unhealthy component.
	rec := httptest.NewRecorder()
	m.ServeHealth(rec, httptest.NewRequest("GET", "/healthz?verbose=true", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, StatusUnhealthy, resp.Status)
	assert.Equal(t, "down", resp.Checks["store"].Error)
}

func TestServeReady(t *testing.T) {
	m := NewManager("v1")

	rec := httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	m.RegisterChecker(staticChecker{"store", CheckResult{Status: StatusUnhealthy}})
	rec = httptest.NewRecorder()
	m.ServeReady(rec, httptest.NewRequest("GET", "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp ReadinessResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Ready)
}
