// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"time"
)

// Pinger is anything with a Ping, typically the store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreChecker verifies the persistence layer answers.
type StoreChecker struct {
	name   string
	pinger Pinger
}

// NewStoreChecker creates a checker that pings the store.
func NewStoreChecker(name string, pinger Pinger) *StoreChecker {
	return &StoreChecker{name: name, pinger: pinger}
}

func (c *StoreChecker) Name() string {
	return c.name
}

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.pinger.Ping(ctx); err != nil {
		return CheckResult{
			Status: StatusUnhealthy,
			Error:  err.Error(),
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: "store reachable",
	}
}

// LastRunChecker reports on a background job's most recent run. A run
// older than staleAfter degrades; a recorded error degrades too since
// the API itself keeps serving without the job.
type LastRunChecker struct {
	name       string
	staleAfter time.Duration
	getLastRun func() (time.Time, string)
}

// NewLastRunChecker creates a checker for last job run status.
func NewLastRunChecker(name string, staleAfter time.Duration, getLastRun func() (time.Time, string)) *LastRunChecker {
	return &LastRunChecker{
		name:       name,
		staleAfter: staleAfter,
		getLastRun: getLastRun,
	}
}

func (c *LastRunChecker) Name() string {
	return c.name
}

func (c *LastRunChecker) Check(ctx context.Context) CheckResult {
	lastRun, lastError := c.getLastRun()

	if lastRun.IsZero() {
		return CheckResult{
			Status:  StatusHealthy,
			Message: "no run yet",
		}
	}

	if lastError != "" {
		return CheckResult{
			Status:  StatusDegraded,
			Error:   lastError,
			Message: "last run failed",
		}
	}

	if age := time.Since(lastRun); age > c.staleAfter {
		return CheckResult{
			Status:  StatusDegraded,
			Message: "last successful run too long ago",
		}
	}

	return CheckResult{
		Status:  StatusHealthy,
		Message: "last run successful",
	}
}
