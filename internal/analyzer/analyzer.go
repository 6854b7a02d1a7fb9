// SPDX-License-Identifier: MIT

// Package analyzer runs the periodic correlation pass: it groups recent
// RSSI streams by session, sweeps all pairs, records anomalies and
// closes the loop on provisional attendance.
package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/verisit/verisit/internal/clock"
	"github.com/verisit/verisit/internal/correlation"
	"github.com/verisit/verisit/internal/domain/anomaly"
	"github.com/verisit/verisit/internal/domain/attendance"
	"github.com/verisit/verisit/internal/domain/stream"
	"github.com/verisit/verisit/internal/log"
	"github.com/verisit/verisit/internal/metrics"
	"github.com/verisit/verisit/internal/review"
	"github.com/verisit/verisit/internal/store"
)

// ErrAlreadyRunning rejects overlapping runs; the analyzer is
// single-flight by design.
var ErrAlreadyRunning = errors.New("analyzer: run already in progress")

// lookback bounds an unpinned run to recent streams.
const lookback = 24 * time.Hour

// Config tunes the analyzer.
type Config struct {
	Interval    time.Duration
	Concurrency int           // pair sweep workers, 0 = unbounded
	GroupBudget time.Duration // wall budget per (class, day) group
	ReportPath  string        // run report target, empty disables
}

// Analyzer is the periodic correlation job.
type Analyzer struct {
	store  store.Store
	review *review.Service
	clock  clock.Clock
	cfg    Config

	running atomic.Bool

	mu         sync.Mutex
	lastReport *RunReport
	lastRun    time.Time
	lastErr    string
}

// New wires the analyzer.
func New(st store.Store, rev *review.Service, clk clock.Clock, cfg Config) *Analyzer {
	return &Analyzer{store: st, review: rev, clock: clk, cfg: cfg}
}

// GroupReport summarizes one (class, session date) group of a run.
type GroupReport struct {
	ClassID     string `json:"classId"`
	SessionDate string `json:"sessionDate"`
	Streams     int    `json:"streams"`
	Pairs       int    `json:"pairs"`
	Flagged     int    `json:"flagged"`
	Confirmed   int    `json:"confirmed"`
	Cancelled   int    `json:"cancelled"`
	Skipped     string `json:"skipped,omitempty"`
}

// RunReport summarizes one analyzer run.
type RunReport struct {
	JobID      string        `json:"jobId"`
	StartedAt  time.Time     `json:"startedAt"`
	DurationMS int64         `json:"durationMs"`
	Groups     []GroupReport `json:"groups"`
	Streams    int           `json:"streams"`
	Pairs      int           `json:"pairs"`
	Flagged    int           `json:"flagged"`
	Error      string        `json:"error,omitempty"`
}

// Status is the on-demand view of the analyzer.
type Status struct {
	Running    bool       `json:"running"`
	LastRun    *time.Time `json:"lastRun,omitempty"`
	LastError  string     `json:"lastError,omitempty"`
	LastReport *RunReport `json:"lastReport,omitempty"`
}

// Run executes one pass. classID and sessionDate optionally pin the
// selection; both empty means all streams of the last 24 hours.
// Concurrent calls return ErrAlreadyRunning.
func (a *Analyzer) Run(ctx context.Context, classID, sessionDate string) (*RunReport, error) {
	if !a.running.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRunning
	}
	defer a.running.Store(false)

	jobID := uuid.NewString()
	ctx = log.ContextWithJobID(ctx, jobID)
	logger := log.WithComponentFromContext(ctx, "analyzer")

	started := a.clock.Now()
	report := &RunReport{JobID: jobID, StartedAt: started}

	err := a.runOnce(ctx, classID, sessionDate, report)

	report.DurationMS = a.clock.Now().Sub(started).Milliseconds()
	outcome := "ok"
	if err != nil {
		outcome = "error"
		report.Error = err.Error()
	}
	metrics.RecordAnalyzerRun(outcome, time.Duration(report.DurationMS)*time.Millisecond)

	a.mu.Lock()
	a.lastReport = report
	a.lastRun = started
	a.lastErr = report.Error
	a.mu.Unlock()

	a.writeReport(logger, report)

	logger.Info().
		Str("event", "analyzer.run_finished").
		Int("streams", report.Streams).
		Int("pairs", report.Pairs).
		Int("flagged", report.Flagged).
		Int64("duration_ms", report.DurationMS).
		Str("outcome", outcome).
		Msg("analyzer run finished")

	return report, err
}

func (a *Analyzer) runOnce(ctx context.Context, classID, sessionDate string, report *RunReport) error {
	filter := store.StreamFilter{
		ClassID:     classID,
		SessionDate: sessionDate,
		MinSamples:  correlation.MinAlignedSamples,
	}
	if classID == "" && sessionDate == "" {
		filter.Since = a.clock.Now().Add(-lookback)
	}

	streams, err := a.store.ListStreams(ctx, filter)
	if err != nil {
		return err
	}
	report.Streams = len(streams)

	groups := groupStreams(streams)
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		group := groups[key]
		gr := a.analyzeGroup(ctx, group)
		report.Groups = append(report.Groups, gr)
		report.Pairs += gr.Pairs
		report.Flagged += gr.Flagged
	}
	return nil
}

// analyzeGroup sweeps one (class, day) group under its wall budget and
// applies the attendance consequences. Failures stay inside the group.
func (a *Analyzer) analyzeGroup(ctx context.Context, group []*stream.Stream) GroupReport {
	gr := GroupReport{
		ClassID:     group[0].ClassID,
		SessionDate: group[0].SessionDate,
		Streams:     len(group),
	}
	logger := log.WithComponentFromContext(ctx, "analyzer")

	if len(group) < 2 {
		gr.Skipped = "fewer than two streams"
		return gr
	}

	gctx := ctx
	if a.cfg.GroupBudget > 0 {
		var cancel context.CancelFunc
		gctx, cancel = context.WithTimeout(ctx, a.cfg.GroupBudget)
		defer cancel()
	}

	results, err := correlation.AnalyzeAllPairs(gctx, group, a.cfg.Concurrency)
	if err != nil {
		gr.Skipped = "pair sweep aborted: " + err.Error()
		logger.Warn().Err(err).
			Str(log.FieldClassID, gr.ClassID).
			Str(log.FieldSessionDate, gr.SessionDate).
			Msg("group skipped")
		return gr
	}
	gr.Pairs = len(results)

	proxy := make(map[string]bool)
	pending := make(map[string]bool)
	for _, res := range correlation.Flagged(results) {
		gr.Flagged++
		an, err := a.review.UpsertFlagged(ctx, gr.ClassID, gr.SessionDate, res)
		if err != nil {
			logger.Error().Err(err).
				Str(log.FieldClassID, gr.ClassID).
				Str(log.FieldSessionDate, gr.SessionDate).
				Msg("anomaly upsert failed")
			continue
		}
		logger.Info().
			Str("event", "analyzer.pair_flagged").
			Str(log.FieldAnomalyID, an.ID).
			Str(log.FieldClassID, gr.ClassID).
			Str(log.FieldSessionDate, gr.SessionDate).
			Str(log.FieldReason, res.Reason).
			Str(log.FieldStrategy, res.Strategy).
			Str(log.FieldSeverity, string(res.Severity)).
			Msg("correlated pair flagged")
		switch an.Status {
		case anomaly.StatusConfirmedProxy:
			proxy[an.StudentID1] = true
			proxy[an.StudentID2] = true
		case anomaly.StatusPending:
			pending[an.StudentID1] = true
			pending[an.StudentID2] = true
		}
	}

	confirmed, cancelled := a.closeLoop(ctx, group, proxy, pending)
	gr.Confirmed = confirmed
	gr.Cancelled = cancelled
	return gr
}

// closeLoop settles provisional attendance for the group: proxies are
// cancelled, pending pairs stay provisional for review, everyone else
// is confirmed. Conditional writes keep the janitor race benign.
func (a *Analyzer) closeLoop(ctx context.Context, group []*stream.Stream, proxy, pending map[string]bool) (confirmed, cancelled int) {
	logger := log.WithComponentFromContext(ctx, "analyzer")
	now := a.clock.Now()

	for _, st := range group {
		rec, err := a.store.FindAttendance(ctx, st.StudentID, st.ClassID, st.SessionDate)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			logger.Error().Err(err).
				Str(log.FieldStudentID, st.StudentID).
				Msg("attendance lookup failed while closing loop")
			continue
		}
		if rec.Status != attendance.StatusProvisional {
			continue
		}

		switch {
		case proxy[st.StudentID]:
			_, err = a.store.UpdateAttendanceIf(ctx, rec.ID, attendance.StatusProvisional, func(r *attendance.Record) {
				r.Status = attendance.StatusCancelled
				r.CancelledAt = &now
				r.CancellationReason = attendance.ReasonProxyAutomation
			})
			if err == nil {
				cancelled++
				metrics.RecordTransition(string(attendance.StatusCancelled), "analyzer")
			}
		case pending[st.StudentID]:
			// Awaits human review.
		default:
			_, err = a.store.UpdateAttendanceIf(ctx, rec.ID, attendance.StatusProvisional, func(r *attendance.Record) {
				r.Status = attendance.StatusConfirmed
				r.ConfirmedAt = &now
			})
			if err == nil {
				confirmed++
				metrics.RecordTransition(string(attendance.StatusConfirmed), "analyzer")
			}
		}
		if err != nil && !errors.Is(err, store.ErrConflict) {
			logger.Error().Err(err).
				Str(log.FieldStudentID, st.StudentID).
				Msg("attendance transition failed while closing loop")
		}
	}
	return confirmed, cancelled
}

// writeReport persists the run report atomically; a broken report file
// must never be observable.
func (a *Analyzer) writeReport(logger zerolog.Logger, report *RunReport) {
	if a.cfg.ReportPath == "" {
		return
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err == nil {
		err = renameio.WriteFile(a.cfg.ReportPath, data, 0o644)
	}
	if err != nil {
		logger.Warn().Err(err).Str("path", a.cfg.ReportPath).Msg("failed to write run report")
	}
}

// Status reports whether a run is in flight and the last outcome.
func (a *Analyzer) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Status{
		Running:    a.running.Load(),
		LastError:  a.lastErr,
		LastReport: a.lastReport,
	}
	if !a.lastRun.IsZero() {
		t := a.lastRun
		s.LastRun = &t
	}
	return s
}

// LastRun feeds the health checker.
func (a *Analyzer) LastRun() (time.Time, string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastRun, a.lastErr
}

// Loop runs the analyzer on its ticker until ctx is cancelled.
func (a *Analyzer) Loop(ctx context.Context) {
	logger := log.WithComponent("analyzer")
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", a.cfg.Interval).Msg("analyzer loop started")
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("analyzer loop stopped")
			return
		case <-ticker.C:
			if _, err := a.Run(ctx, "", ""); err != nil && !errors.Is(err, ErrAlreadyRunning) {
				logger.Error().Err(err).Msg("scheduled analyzer run failed")
			}
		}
	}
}

// groupStreams buckets streams by (class, session date).
func groupStreams(streams []*stream.Stream) map[string][]*stream.Stream {
	groups := make(map[string][]*stream.Stream)
	for _, st := range streams {
		key := st.ClassID + "|" + st.SessionDate
		groups[key] = append(groups[key], st)
	}
	return groups
}
