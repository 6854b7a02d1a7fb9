// SPDX-License-Identifier: MIT

// Package ratelimit bounds how fast devices may hit the write paths.
// The HTTP layer additionally applies a per-IP limit via chi/httprate;
// this package covers the device-keyed limits that survive NAT.
package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"
)

var (
	rateLimitExceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "verisit",
			Name:      "ratelimit_exceeded_total",
			Help:      "Total rate limit rejections",
		},
		[]string{"limit_type", "op"},
	)
)

// Operations with dedicated per-device budgets.
const (
	OpCheckIn = "checkin"
	OpIngest  = "ingest"
)

// Config holds rate limiting configuration.
type Config struct {
	// Global limits across all devices.
	GlobalRate  rate.Limit // requests per second
	GlobalBurst int

	// Per-device limits, keyed by device identifier.
	PerDeviceRate  rate.Limit
	PerDeviceBurst int

	// Per-operation limits. Ingestion runs every few seconds per device,
	// check-ins should be rare; budgets differ accordingly.
	OpRates map[string]rate.Limit
	OpBurst map[string]int

	// Cleanup interval for per-device limiters.
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		GlobalRate:  200,
		GlobalBurst: 400,

		PerDeviceRate:  5,
		PerDeviceBurst: 10,

		OpRates: map[string]rate.Limit{
			OpCheckIn: 20,  // a class checking in at once is bursty, not sustained
			OpIngest:  100, // one batch per device every ~10s
		},
		OpBurst: map[string]int{
			OpCheckIn: 60,
			OpIngest:  200,
		},

		CleanupInterval: 5 * time.Minute,
	}
}

// Limiter manages the layered write-path limits.
type Limiter struct {
	config Config

	global    *rate.Limiter
	perDevice map[string]*rate.Limiter
	perOp     map[string]*rate.Limiter
	mu        sync.RWMutex

	lastCleanup time.Time
}

// New creates a new rate limiter with the given config.
func New(config Config) *Limiter {
	l := &Limiter{
		config:      config,
		global:      rate.NewLimiter(config.GlobalRate, config.GlobalBurst),
		perDevice:   make(map[string]*rate.Limiter),
		perOp:       make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}

	for op, opRate := range config.OpRates {
		l.perOp[op] = rate.NewLimiter(opRate, config.OpBurst[op])
	}

	return l
}

// Allow checks one request from the given device against the global,
// per-operation and per-device budgets, in that order.
func (l *Limiter) Allow(deviceID, op string) bool {
	if !l.global.Allow() {
		rateLimitExceeded.WithLabelValues("global", op).Inc()
		return false
	}

	l.mu.RLock()
	opLimiter, exists := l.perOp[op]
	l.mu.RUnlock()

	if exists && !opLimiter.Allow() {
		rateLimitExceeded.WithLabelValues("per_op", op).Inc()
		return false
	}

	if !l.getDeviceLimiter(deviceID).Allow() {
		rateLimitExceeded.WithLabelValues("per_device", op).Inc()
		return false
	}

	l.maybeCleanup()

	return true
}

// getDeviceLimiter returns the rate limiter for a specific device.
func (l *Limiter) getDeviceLimiter(deviceID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.perDevice[deviceID]
	if !exists {
		limiter = rate.NewLimiter(l.config.PerDeviceRate, l.config.PerDeviceBurst)
		l.perDevice[deviceID] = limiter
	}

	return limiter
}

// maybeCleanup drops the per-device map once the cleanup interval has
// passed. Resetting wholesale is fine: limiters refill on recreation.
func (l *Limiter) maybeCleanup() {
	if time.Since(l.lastCleanup) < l.config.CleanupInterval {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.perDevice = make(map[string]*rate.Limiter)
	l.lastCleanup = time.Now()
}

// GetClientIP extracts the real client IP from the request.
func GetClientIP(r *http.Request) string {
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		// "client, proxy1, proxy2" - take the original client
		if idx := strings.IndexByte(xff, ','); idx > 0 {
			xff = xff[:idx]
		}
		xff = strings.TrimSpace(xff)
		if xff != "" {
			return xff
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
