// SPDX-License-Identifier: MIT

// Package clock provides the server-authoritative time source. All domain
// services take a Clock so tests can pin or advance time deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock yields the current server time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the wall clock.
func System() Clock { return systemClock{} }

// CivilDate formats t as the civil date (YYYY-MM-DD) in the server's
// local timezone. Session dates carry no timezone by design.
func CivilDate(t time.Time) string {
	return t.Local().Format("2006-01-02")
}

// Fake is a manually advanced clock for tests.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a fake clock pinned at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set pins the fake clock to t.
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
