// SPDX-License-Identifier: MIT

// Package janitor expires stale provisional attendance and prunes aged
// rows. It only ever flips provisional records via conditional writes,
// so a concurrent confirm or analyzer decision always wins.
package janitor

import (
	"context"
	"errors"
	"time"

	"github.com/verisit/verisit/internal/clock"
	"github.com/verisit/verisit/internal/domain/attendance"
	"github.com/verisit/verisit/internal/log"
	"github.com/verisit/verisit/internal/metrics"
	"github.com/verisit/verisit/internal/store"
)

// anomalyRetention bounds how long resolved and stale anomalies are
// kept for audit.
const anomalyRetention = 30 * 24 * time.Hour

// Config tunes the janitor.
type Config struct {
	Interval             time.Duration
	ConfirmationWindow   time.Duration
	ClassDuration        time.Duration
	IdempotencyRetention time.Duration
}

// Janitor is the background sweeper.
type Janitor struct {
	store store.Store
	clock clock.Clock
	cfg   Config
}

// New wires the janitor.
func New(st store.Store, clk clock.Clock, cfg Config) *Janitor {
	return &Janitor{store: st, clock: clk, cfg: cfg}
}

// SweepResult counts what one pass did.
type SweepResult struct {
	Expired          int
	PrunedCancelled  int
	PrunedIdempotent int
	PrunedAnomalies  int
}

// Sweep runs one pass. Individual failures are logged and the pass
// continues; the janitor never surfaces errors to users.
func (j *Janitor) Sweep(ctx context.Context) SweepResult {
	logger := log.WithComponentFromContext(ctx, "janitor")
	now := j.clock.Now()
	var res SweepResult

	stale, err := j.store.ListProvisionalOlderThan(ctx, now.Add(-j.cfg.ConfirmationWindow))
	if err != nil {
		logger.Error().Err(err).Msg("listing stale provisional records failed")
	}
	for _, rec := range stale {
		_, err := j.store.UpdateAttendanceIf(ctx, rec.ID, attendance.StatusProvisional, func(r *attendance.Record) {
			r.Status = attendance.StatusCancelled
			r.CancelledAt = &now
			r.CancellationReason = attendance.ReasonWindowExpired
		})
		if errors.Is(err, store.ErrConflict) || errors.Is(err, store.ErrNotFound) {
			continue // confirm or analyzer got there first
		}
		if err != nil {
			logger.Error().Err(err).
				Str(log.FieldStudentID, rec.StudentID).
				Str(log.FieldClassID, rec.ClassID).
				Msg("expiry transition failed")
			continue
		}
		res.Expired++
		metrics.RecordTransition(string(attendance.StatusCancelled), "janitor")
	}
	if res.Expired > 0 {
		metrics.RecordJanitorExpired(res.Expired)
		logger.Info().
			Int("count", res.Expired).
			Str("event", "janitor.expired").
			Msg("expired unconfirmed attendance")
	}

	if n, err := j.store.DeleteCancelledOlderThan(ctx, now.Add(-j.cfg.ClassDuration)); err != nil {
		logger.Error().Err(err).Msg("pruning cancelled attendance failed")
	} else if n > 0 {
		res.PrunedCancelled = n
		metrics.RecordJanitorPruned("cancelled_attendance", n)
	}

	if n, err := j.store.DeleteIdempotencyOlderThan(ctx, now.Add(-j.cfg.IdempotencyRetention)); err != nil {
		logger.Error().Err(err).Msg("pruning idempotency records failed")
	} else if n > 0 {
		res.PrunedIdempotent = n
		metrics.RecordJanitorPruned("idempotency", n)
	}

	if n, err := j.store.DeleteAnomaliesOlderThan(ctx, now.Add(-anomalyRetention)); err != nil {
		logger.Error().Err(err).Msg("pruning anomalies failed")
	} else if n > 0 {
		res.PrunedAnomalies = n
		metrics.RecordJanitorPruned("anomalies", n)
	}

	return res
}

// Loop sweeps on the configured interval until ctx is cancelled.
func (j *Janitor) Loop(ctx context.Context) {
	logger := log.WithComponent("janitor")
	ticker := time.NewTicker(j.cfg.Interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", j.cfg.Interval).Msg("janitor loop started")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("janitor loop stopped")
			return
		case <-ticker.C:
			j.Sweep(ctx)
		}
	}
}
