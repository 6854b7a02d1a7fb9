// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of the attendance service: the
// check-in lifecycle, RSSI ingestion, anomaly review and operations
// endpoints, all as a thin layer over the domain services.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/verisit/verisit/internal/analyzer"
	"github.com/verisit/verisit/internal/api/middleware"
	"github.com/verisit/verisit/internal/checkin"
	"github.com/verisit/verisit/internal/config"
	"github.com/verisit/verisit/internal/health"
	"github.com/verisit/verisit/internal/ingest"
	"github.com/verisit/verisit/internal/ratelimit"
	"github.com/verisit/verisit/internal/review"
)

// Server is the HTTP API server.
type Server struct {
	checkin  *checkin.Service
	ingest   *ingest.Service
	review   *review.Service
	analyzer *analyzer.Analyzer
	health   *health.Manager
	limiter  *ratelimit.Limiter

	apiToken string
	stack    middleware.StackConfig
}

// New assembles the server from the domain services.
func New(cfg config.AppConfig, ck *checkin.Service, ing *ingest.Service, rev *review.Service, an *analyzer.Analyzer, hm *health.Manager, lim *ratelimit.Limiter) *Server {
	return &Server{
		checkin:  ck,
		ingest:   ing,
		review:   rev,
		analyzer: an,
		health:   hm,
		limiter:  lim,
		apiToken: cfg.APIToken,
		stack: middleware.StackConfig{
			EnableCORS:            true,
			AllowedOrigins:        cfg.AllowedOrigins,
			EnableSecurityHeaders: true,
			EnableMetrics:         true,
			TracingService:        "verisit",
			EnableLogging:         true,
			EnableRateLimit:       cfg.RateLimitEnabled,
			RateLimitPerMinute:    cfg.RateLimitRPS * 60,
		},
	}
}

// Router builds the chi router with the canonical middleware stack.
func (s *Server) Router() http.Handler {
	r := middleware.NewRouter(s.stack)

	// Attendance lifecycle
	r.Post("/check-in", s.handleCheckIn)
	r.Post("/attendance/confirm", s.handleConfirm)
	r.Post("/attendance/cancel-provisional", s.handleCancel)
	r.Get("/attendance/today/{studentId}", s.handleToday)

	// Ingestion
	r.Post("/attendance/rssi-stream", s.handleRSSIStream)

	// Operator surface
	r.Group(func(r chi.Router) {
		r.Use(s.adminAuth)
		r.Post("/analyze-correlations", s.handleAnalyze)
		r.Get("/analyze-correlations/status", s.handleAnalyzeStatus)
		r.Get("/anomalies", s.handleListAnomalies)
		r.Put("/anomalies/{id}/review", s.handleReview)
		r.Post("/admin/students/{studentId}/reset-device", s.handleResetDevice)
	})

	// Operations
	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}
