// SPDX-License-Identifier: MIT

// Package review manages the anomaly lifecycle: deduplicated upserts of
// flagged pairs, auto-promotion of overwhelming evidence and the human
// review that feeds back into attendance status.
package review

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/verisit/verisit/internal/clock"
	"github.com/verisit/verisit/internal/correlation"
	"github.com/verisit/verisit/internal/domain/anomaly"
	"github.com/verisit/verisit/internal/domain/attendance"
	"github.com/verisit/verisit/internal/domain/fault"
	"github.com/verisit/verisit/internal/log"
	"github.com/verisit/verisit/internal/metrics"
	"github.com/verisit/verisit/internal/store"
)

// AutoConfirmCorrelation promotes a fresh anomaly straight to
// confirmed_proxy without human review.
const AutoConfirmCorrelation = 0.98

// Review actions accepted from the API.
const (
	ActionConfirmProxy  = "confirm_proxy"
	ActionFalsePositive = "false_positive"
)

// Policy carries the window needed for false-positive reinstatement.
type Policy struct {
	ConfirmationWindow time.Duration
}

// Service is the anomaly service.
type Service struct {
	store  store.Store
	clock  clock.Clock
	policy Policy
}

// New wires the anomaly service.
func New(st store.Store, clk clock.Clock, policy Policy) *Service {
	return &Service{store: st, clock: clk, policy: policy}
}

// UpsertFlagged folds one suspicious pair result into the anomaly table.
// An existing row is strengthened only when the new correlation is
// higher; its review status is never weakened. Returns the stored row.
func (s *Service) UpsertFlagged(ctx context.Context, classID, sessionDate string, res correlation.Result) (*anomaly.Anomaly, error) {
	if res.Correlation == nil {
		return nil, fault.New(fault.CodeBadRequest, "result carries no correlation")
	}
	score := *res.Correlation

	s1, s2 := anomaly.CanonicalPair(res.StudentID1, res.StudentID2)
	now := s.clock.Now()

	existing, err := s.store.FindAnomaly(ctx, classID, sessionDate, s1, s2)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fault.Wrap(err, fault.CodeInternal, "anomaly lookup failed")
	}

	if existing != nil {
		if score > existing.CorrelationScore {
			existing.CorrelationScore = score
			existing.Severity = res.Severity
			existing.Notes = res.Reason
			if err := s.store.PutAnomaly(ctx, existing); err != nil {
				return nil, fault.Wrap(err, fault.CodeInternal, "anomaly update failed")
			}
		}
		return existing, nil
	}

	status := anomaly.StatusPending
	if score >= AutoConfirmCorrelation {
		status = anomaly.StatusConfirmedProxy
	}
	a := &anomaly.Anomaly{
		ID:               uuid.NewString(),
		ClassID:          classID,
		SessionDate:      sessionDate,
		StudentID1:       s1,
		StudentID2:       s2,
		CorrelationScore: score,
		Severity:         res.Severity,
		Status:           status,
		Notes:            res.Reason,
		CreatedAt:        now,
	}
	if err := s.store.PutAnomaly(ctx, a); err != nil {
		return nil, fault.Wrap(err, fault.CodeInternal, "anomaly insert failed")
	}
	metrics.RecordAnomaly(string(a.Severity))

	l := log.WithComponentFromContext(ctx, "review")
	l.Info().
		Str(log.FieldAnomalyID, a.ID).
		Str(log.FieldClassID, classID).
		Str(log.FieldSessionDate, sessionDate).
		Float64(log.FieldCorrelation, score).
		Str(log.FieldSeverity, string(a.Severity)).
		Str("status", string(status)).
		Msg("anomaly recorded")

	return a, nil
}

// List returns anomalies matching the filter, pending rows first.
func (s *Service) List(ctx context.Context, f store.AnomalyFilter) ([]*anomaly.Anomaly, error) {
	out, err := s.store.ListAnomalies(ctx, f)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeInternal, "anomaly listing failed")
	}
	return out, nil
}

// ReviewRequest is a human verdict on one anomaly.
type ReviewRequest struct {
	AnomalyID string `json:"-"`
	Action    string `json:"action"`
	Notes     string `json:"notes,omitempty"`
}

// Review applies a verdict. confirm_proxy cancels both students'
// attendance for the class and day; false_positive reinstates records
// previously cancelled for proxy reasons. Repeating the same action is
// a no-op; switching actions re-applies the attendance effects.
func (s *Service) Review(ctx context.Context, req *ReviewRequest) (*anomaly.Anomaly, error) {
	if req.Action != ActionConfirmProxy && req.Action != ActionFalsePositive {
		return nil, fault.New(fault.CodeBadRequest, "action must be confirm_proxy or false_positive")
	}

	a, err := s.store.GetAnomaly(ctx, req.AnomalyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.New(fault.CodeNotFound, "unknown anomaly")
	}
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeInternal, "anomaly lookup failed")
	}

	target := anomaly.StatusConfirmedProxy
	if req.Action == ActionFalsePositive {
		target = anomaly.StatusFalsePositive
	}
	if a.Status == target {
		return a, nil
	}

	now := s.clock.Now()
	previous := a.Status
	a.Status = target
	a.ReviewedAt = &now
	if req.Notes != "" {
		a.Notes = req.Notes
	}
	if err := s.store.PutAnomaly(ctx, a); err != nil {
		return nil, fault.Wrap(err, fault.CodeInternal, "anomaly update failed")
	}

	logger := log.WithComponentFromContext(ctx, "review")

	switch target {
	case anomaly.StatusConfirmedProxy:
		for _, studentID := range []string{a.StudentID1, a.StudentID2} {
			if err := s.cancelForProxy(ctx, studentID, a.ClassID, a.SessionDate, now); err != nil {
				logger.Error().Err(err).
					Str(log.FieldAnomalyID, a.ID).
					Str(log.FieldStudentID, studentID).
					Msg("failed to cancel attendance after proxy confirmation")
			}
		}
	case anomaly.StatusFalsePositive:
		for _, studentID := range []string{a.StudentID1, a.StudentID2} {
			if err := s.reinstate(ctx, studentID, a.ClassID, a.SessionDate, now); err != nil {
				logger.Error().Err(err).
					Str(log.FieldAnomalyID, a.ID).
					Str(log.FieldStudentID, studentID).
					Msg("failed to reinstate attendance after false positive")
			}
		}
	}

	logger.Info().
		Str(log.FieldAnomalyID, a.ID).
		Str(log.FieldOldStatus, string(previous)).
		Str(log.FieldNewStatus, string(target)).
		Msg("anomaly reviewed")

	return a, nil
}

// cancelForProxy cancels the student's attendance regardless of its
// current status. This is the one sanctioned break of terminal-state
// monotonicity: a confirmed record flips to cancelled on proxy review.
func (s *Service) cancelForProxy(ctx context.Context, studentID, classID, sessionDate string, now time.Time) error {
	rec, err := s.store.FindAttendance(ctx, studentID, classID, sessionDate)
	if errors.Is(err, store.ErrNotFound) {
		return nil // nothing to cancel
	}
	if err != nil {
		return err
	}
	if rec.Status == attendance.StatusCancelled {
		return nil
	}

	rec.Status = attendance.StatusCancelled
	rec.CancelledAt = &now
	rec.CancellationReason = attendance.ReasonProxyReview
	if err := s.store.UpdateAttendance(ctx, rec); err != nil {
		return err
	}
	metrics.RecordTransition(string(attendance.StatusCancelled), "review")
	return nil
}

// reinstate undoes automated or reviewed proxy cancellations for the
// pair: back to provisional while the confirmation window is open,
// otherwise straight to confirmed. Records cancelled for unrelated
// reasons stay cancelled.
func (s *Service) reinstate(ctx context.Context, studentID, classID, sessionDate string, now time.Time) error {
	rec, err := s.store.FindAttendance(ctx, studentID, classID, sessionDate)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Status != attendance.StatusCancelled || !isProxyReason(rec.CancellationReason) {
		return nil
	}

	rec.CancelledAt = nil
	rec.CancellationReason = ""
	if now.Sub(rec.CheckInTime) <= s.policy.ConfirmationWindow {
		rec.Status = attendance.StatusProvisional
	} else {
		rec.Status = attendance.StatusConfirmed
		rec.ConfirmedAt = &now
	}
	if err := s.store.UpdateAttendance(ctx, rec); err != nil {
		return err
	}
	metrics.RecordTransition(string(rec.Status), "review")
	return nil
}

func isProxyReason(reason string) bool {
	return reason == attendance.ReasonProxyAutomation || reason == attendance.ReasonProxyReview
}
