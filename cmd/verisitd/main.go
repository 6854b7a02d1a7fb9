// SPDX-License-Identifier: MIT

// Command verisitd runs the presence-attestation daemon: the HTTP API,
// the correlation analyzer and the attendance janitor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/verisit/verisit/internal/analyzer"
	"github.com/verisit/verisit/internal/api"
	"github.com/verisit/verisit/internal/cache"
	"github.com/verisit/verisit/internal/checkin"
	"github.com/verisit/verisit/internal/clock"
	"github.com/verisit/verisit/internal/config"
	"github.com/verisit/verisit/internal/devicesig"
	"github.com/verisit/verisit/internal/health"
	"github.com/verisit/verisit/internal/ingest"
	"github.com/verisit/verisit/internal/janitor"
	vlog "github.com/verisit/verisit/internal/log"
	"github.com/verisit/verisit/internal/ratelimit"
	"github.com/verisit/verisit/internal/review"
	"github.com/verisit/verisit/internal/store"
)

var (
	version   = "v1.0.0"
	commit    = "none"
	buildDate = "unknown"
)

const shutdownGrace = 10 * time.Second

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	vlog.Configure(vlog.Config{
		Level:   "info",
		Service: "verisit",
		Version: version,
	})
	logger := vlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath, version)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", *configPath).
			Msg("failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.invalid").
			Msg("configuration rejected")
	}

	vlog.Configure(vlog.Config{
		Level:   cfg.LogLevel,
		Service: "verisit",
		Version: version,
	})

	logger.Info().
		Str("event", "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", cfg.ListenAddr).
		Msg("starting verisitd")

	logger.Info().Msgf("→ Store: %s (%s)", cfg.StoreBackend, cfg.DatabasePath)
	logger.Info().Msgf("→ Confirmation window: %s, class duration: %s, cooldown: %s",
		cfg.ConfirmationWindow, cfg.ClassDuration, cfg.CooldownWindow)
	logger.Info().Msgf("→ Analyzer every %s, janitor every %s", cfg.AnalyzerInterval, cfg.JanitorInterval)
	if cfg.APIToken != "" {
		logger.Info().Msg("→ API token: configured")
	} else {
		logger.Warn().
			Str("security", "weak").
			Msg("→ API token: NOT configured, admin endpoints disabled. Set VERISIT_API_TOKEN.")
	}

	st, err := store.Open(cfg.StoreBackend, cfg.DatabasePath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "store.open_failed").
			Msg("failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("store close failed")
		}
	}()

	// Device signature salts: env/config first, optionally hot-reloaded
	// from a watched salts file.
	salts := cfg.DeviceSalts
	if cfg.SaltFile != "" {
		fileSalts, err := devicesig.LoadSaltFile(cfg.SaltFile)
		if err != nil {
			logger.Fatal().
				Err(err).
				Str("path", cfg.SaltFile).
				Msg("failed to load device salt file")
		}
		salts = fileSalts
	}
	verifier := devicesig.NewVerifier(salts)
	if cfg.SaltFile != "" {
		go func() {
			if err := verifier.WatchSaltFile(ctx, cfg.SaltFile); err != nil {
				logger.Error().Err(err).Msg("salt file watcher stopped")
			}
		}()
	}

	var responseCache cache.Cache = cache.NewMemoryCache(time.Minute)
	if cfg.RedisAddr != "" {
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{Addr: cfg.RedisAddr}, vlog.WithComponent("cache"))
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, using in-memory cache")
		} else {
			responseCache = redisCache
			defer func() { _ = redisCache.Close() }()
		}
	}

	clk := clock.System()

	checkinSvc := checkin.New(st, verifier, clk, responseCache, checkin.Policy{
		ConfirmationWindow: cfg.ConfirmationWindow,
		ClassDuration:      cfg.ClassDuration,
		CooldownWindow:     cfg.CooldownWindow,
	})
	ingestSvc := ingest.New(st, clk)
	reviewSvc := review.New(st, clk, review.Policy{ConfirmationWindow: cfg.ConfirmationWindow})
	an := analyzer.New(st, reviewSvc, clk, analyzer.Config{
		Interval:    cfg.AnalyzerInterval,
		Concurrency: cfg.AnalyzerConcurrency,
		GroupBudget: cfg.AnalyzerGroupBudget,
		ReportPath:  filepath.Join(cfg.DataDir, "analyzer-report.json"),
	})
	jan := janitor.New(st, clk, janitor.Config{
		Interval:             cfg.JanitorInterval,
		ConfirmationWindow:   cfg.ConfirmationWindow,
		ClassDuration:        cfg.ClassDuration,
		IdempotencyRetention: cfg.IdempotencyRetention,
	})

	healthMgr := health.NewManager(version)
	healthMgr.RegisterChecker(health.NewStoreChecker("store", st))
	healthMgr.RegisterChecker(health.NewLastRunChecker("analyzer", 24*time.Hour, an.LastRun))

	limiter := ratelimit.New(ratelimit.DefaultConfig())

	go an.Loop(ctx)
	go jan.Loop(ctx)

	server := api.New(cfg, checkinSvc, ingestSvc, reviewSvc, an, healthMgr, limiter)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.ListenAddr).Msg("http server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info().Str("event", "shutdown.signal").Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Str("event", "shutdown.complete").Msg("verisitd stopped")
}
