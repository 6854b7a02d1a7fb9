// SPDX-License-Identifier: MIT

// Package checkin implements the two-phase attendance state machine:
// provisional check-in, confirmation within the window, cancellation,
// device binding and idempotent replays.
package checkin

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/verisit/verisit/internal/cache"
	"github.com/verisit/verisit/internal/clock"
	"github.com/verisit/verisit/internal/devicesig"
	"github.com/verisit/verisit/internal/domain/attendance"
	"github.com/verisit/verisit/internal/domain/fault"
	"github.com/verisit/verisit/internal/log"
	"github.com/verisit/verisit/internal/metrics"
	"github.com/verisit/verisit/internal/store"
)

// Idempotency scopes. One event id may appear once per scope.
const (
	ScopeCheckIn = "checkin"
	ScopeConfirm = "confirm"
	ScopeCancel  = "cancel"
)

const todayCacheTTL = 5 * time.Second

// Policy carries the attendance timing windows.
type Policy struct {
	ConfirmationWindow time.Duration
	ClassDuration      time.Duration
	CooldownWindow     time.Duration
}

// Service is the attendance state machine.
type Service struct {
	store    store.Store
	verifier *devicesig.Verifier
	clock    clock.Clock
	cache    cache.Cache
	policy   Policy
}

// New wires the state machine. cache may be a no-op cache.
func New(st store.Store, verifier *devicesig.Verifier, clk clock.Clock, c cache.Cache, policy Policy) *Service {
	return &Service{
		store:    st,
		verifier: verifier,
		clock:    clk,
		cache:    c,
		policy:   policy,
	}
}

// CheckInRequest is one check-in attempt from a device.
type CheckInRequest struct {
	StudentID         string `json:"studentId"`
	ClassID           string `json:"classId"`
	DeviceID          string `json:"deviceId"`
	DeviceSignature   string `json:"deviceSignature"`
	DeviceSaltVersion string `json:"deviceSaltVersion,omitempty"`
	EventID           string `json:"eventId"`

	RSSI        *int `json:"rssi,omitempty"`
	BeaconMajor *int `json:"beaconMajor,omitempty"`
	BeaconMinor *int `json:"beaconMinor,omitempty"`
}

// CheckInResponse mirrors the record plus derived window arithmetic.
type CheckInResponse struct {
	Success          bool               `json:"success"`
	Created          bool               `json:"created"`
	Status           attendance.Status  `json:"status"`
	RemainingSeconds int64              `json:"remainingSeconds"`
	Attendance       *attendance.Record `json:"attendance"`
}

// CheckIn runs the check-in sequence: signature, idempotency,
// device ownership, lazy student binding, then find-or-create of the
// day's record. Racing duplicate inserts fold into the surviving row.
func (s *Service) CheckIn(ctx context.Context, req *CheckInRequest) (*CheckInResponse, error) {
	logger := log.WithComponentFromContext(ctx, "checkin")

	if req.StudentID == "" || req.ClassID == "" || req.DeviceID == "" || req.EventID == "" {
		metrics.RecordCheckIn("bad_request")
		return nil, fault.New(fault.CodeBadRequest, "studentId, classId, deviceId and eventId are required")
	}
	if !s.verifier.Verify(req.DeviceID, req.DeviceSignature, req.DeviceSaltVersion) {
		metrics.RecordCheckIn("unauthorized")
		return nil, fault.New(fault.CodeUnauthorized, "device signature verification failed")
	}

	reqHash := hashRequest(req)
	if resp, err := s.replay(ctx, req.EventID, ScopeCheckIn, reqHash); err != nil {
		metrics.RecordCheckIn("conflict")
		return nil, err
	} else if resp != nil {
		metrics.RecordCheckIn("replayed")
		var out CheckInResponse
		if err := json.Unmarshal(resp.Response, &out); err != nil {
			return nil, fault.Wrap(err, fault.CodeInternal, "stored idempotent response is unreadable")
		}
		return &out, nil
	}

	if err := s.bindDevice(ctx, req.StudentID, req.DeviceID); err != nil {
		metrics.RecordCheckIn("device_mismatch")
		return nil, err
	}

	now := s.clock.Now()
	sessionDate := clock.CivilDate(now)

	rec, created, err := s.findOrCreate(ctx, req, now, sessionDate)
	if err != nil {
		metrics.RecordCheckIn("error")
		return nil, err
	}

	out := &CheckInResponse{
		Success:          true,
		Created:          created,
		Status:           rec.Status,
		RemainingSeconds: rec.RemainingSeconds(now, s.policy.ConfirmationWindow),
		Attendance:       rec,
	}

	if err := s.remember(ctx, req.EventID, ScopeCheckIn, reqHash, out, now); err != nil {
		logger.Warn().Err(err).
			Str(log.FieldEventID, req.EventID).
			Msg("failed to persist idempotency record")
	}
	s.invalidateToday(req.StudentID, sessionDate)

	outcome := "folded"
	if created {
		outcome = "created"
		metrics.RecordTransition(string(attendance.StatusProvisional), "client")
	}
	metrics.RecordCheckIn(outcome)

	logger.Info().
		Str(log.FieldEventID, req.EventID).
		Str(log.FieldStudentID, req.StudentID).
		Str(log.FieldClassID, req.ClassID).
		Str(log.FieldDeviceID, req.DeviceID).
		Bool("created", created).
		Str("status", string(rec.Status)).
		Msg("check-in processed")

	return out, nil
}

// bindDevice enforces the one-device-per-student invariant in both
// directions before any record is touched.
func (s *Service) bindDevice(ctx context.Context, studentID, deviceID string) error {
	owner, err := s.store.FindStudentByDevice(ctx, deviceID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return fault.Wrap(err, fault.CodeInternal, "device lookup failed")
	}
	if owner != nil && owner.StudentID != studentID {
		f := fault.New(fault.CodeDeviceMismatch, "device is registered to another student").
			WithDetail("lockedToStudent", owner.StudentID)
		if owner.DeviceRegisteredAt != nil {
			f = f.WithDetail("deviceRegisteredAt", owner.DeviceRegisteredAt)
		}
		return f
	}

	student, err := s.store.GetStudent(ctx, studentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		student = &attendance.Student{StudentID: studentID}
	case err != nil:
		return fault.Wrap(err, fault.CodeInternal, "student lookup failed")
	}

	switch {
	case student.DeviceID == "":
		now := s.clock.Now()
		student.DeviceID = deviceID
		student.DeviceRegisteredAt = &now
	case student.DeviceID != deviceID:
		f := fault.New(fault.CodeDeviceMismatch, "student is bound to a different device").
			WithDetail("lockedToStudent", student.StudentID)
		if student.DeviceRegisteredAt != nil {
			f = f.WithDetail("deviceRegisteredAt", student.DeviceRegisteredAt)
		}
		return f
	default:
		return nil // already bound to this device
	}

	if err := s.store.PutStudent(ctx, student); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Lost the binding race to another student.
			return fault.New(fault.CodeDeviceMismatch, "device is registered to another student")
		}
		return fault.Wrap(err, fault.CodeInternal, "student upsert failed")
	}
	return nil
}

// findOrCreate resolves the day's record. A lost CreateAttendance race
// folds into the winner's row instead of surfacing a conflict.
func (s *Service) findOrCreate(ctx context.Context, req *CheckInRequest, now time.Time, sessionDate string) (*attendance.Record, bool, error) {
	rec, err := s.store.FindAttendance(ctx, req.StudentID, req.ClassID, sessionDate)
	if errors.Is(err, store.ErrNotFound) {
		rec = &attendance.Record{
			ID:          uuid.NewString(),
			StudentID:   req.StudentID,
			ClassID:     req.ClassID,
			SessionDate: sessionDate,
			DeviceID:    req.DeviceID,
			Status:      attendance.StatusProvisional,
			CheckInTime: now,
			RSSI:        req.RSSI,
			BeaconMajor: req.BeaconMajor,
			BeaconMinor: req.BeaconMinor,
		}
		err = s.store.CreateAttendance(ctx, rec)
		if err == nil {
			return rec, true, nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return nil, false, fault.Wrap(err, fault.CodeInternal, "attendance insert failed")
		}
		rec, err = s.store.FindAttendance(ctx, req.StudentID, req.ClassID, sessionDate)
	}
	if err != nil {
		return nil, false, fault.Wrap(err, fault.CodeInternal, "attendance lookup failed")
	}

	if rec.Status != attendance.StatusProvisional {
		// Terminal record: idempotent success, no mutation.
		return rec, false, nil
	}

	// Repeated provisional check-in refreshes the beacon snapshot.
	rec.RSSI = req.RSSI
	rec.BeaconMajor = req.BeaconMajor
	rec.BeaconMinor = req.BeaconMinor
	if err := s.store.UpdateAttendance(ctx, rec); err != nil {
		return nil, false, fault.Wrap(err, fault.CodeInternal, "attendance update failed")
	}
	return rec, false, nil
}

// ConfirmRequest confirms a provisional record from the bound device.
type ConfirmRequest struct {
	StudentID    string `json:"studentId"`
	ClassID      string `json:"classId"`
	DeviceID     string `json:"deviceId"`
	EventID      string `json:"eventId"`
	AttendanceID string `json:"attendanceId,omitempty"`
}

// TransitionResponse is the result of a confirm or cancel.
type TransitionResponse struct {
	Success    bool               `json:"success"`
	Status     attendance.Status  `json:"status"`
	Attendance *attendance.Record `json:"attendance"`
}

// Confirm transitions provisional to confirmed. Repeats are idempotent;
// a record already cancelled by the janitor reports NOT_FOUND, matching
// what the client should conclude from QueryToday.
func (s *Service) Confirm(ctx context.Context, req *ConfirmRequest) (*TransitionResponse, error) {
	if req.StudentID == "" || req.ClassID == "" || req.DeviceID == "" || req.EventID == "" {
		return nil, fault.New(fault.CodeBadRequest, "studentId, classId, deviceId and eventId are required")
	}

	reqHash := hashRequest(req)
	if resp, err := s.replay(ctx, req.EventID, ScopeConfirm, reqHash); err != nil {
		return nil, err
	} else if resp != nil {
		var out TransitionResponse
		if err := json.Unmarshal(resp.Response, &out); err != nil {
			return nil, fault.Wrap(err, fault.CodeInternal, "stored idempotent response is unreadable")
		}
		return &out, nil
	}

	now := s.clock.Now()
	rec, err := s.locate(ctx, req.AttendanceID, req.StudentID, req.ClassID, clock.CivilDate(now))
	if err != nil {
		return nil, err
	}
	if rec.DeviceID != req.DeviceID {
		return nil, fault.New(fault.CodeDeviceMismatch, "confirmation must come from the check-in device")
	}

	switch rec.Status {
	case attendance.StatusConfirmed:
		// Repeated confirm.
	case attendance.StatusCancelled:
		return nil, fault.New(fault.CodeNotFound, "no provisional attendance to confirm")
	default:
		rec, err = s.store.UpdateAttendanceIf(ctx, rec.ID, attendance.StatusProvisional, func(r *attendance.Record) {
			r.Status = attendance.StatusConfirmed
			r.ConfirmedAt = &now
		})
		if errors.Is(err, store.ErrConflict) {
			// Lost to the janitor or a concurrent confirm; re-read decides.
			rec, err = s.store.GetAttendance(ctx, rec.ID)
			if err == nil && rec.Status == attendance.StatusCancelled {
				return nil, fault.New(fault.CodeNotFound, "no provisional attendance to confirm")
			}
		}
		if err != nil {
			return nil, fault.Wrap(err, fault.CodeInternal, "confirm transition failed")
		}
		metrics.RecordTransition(string(attendance.StatusConfirmed), "client")
	}

	out := &TransitionResponse{Success: true, Status: rec.Status, Attendance: rec}
	if err := s.remember(ctx, req.EventID, ScopeConfirm, reqHash, out, now); err != nil {
		l := log.WithComponentFromContext(ctx, "checkin")
		l.Warn().Err(err).
			Str(log.FieldEventID, req.EventID).
			Msg("failed to persist idempotency record")
	}
	s.invalidateToday(req.StudentID, rec.SessionDate)
	return out, nil
}

// CancelRequest abandons a provisional record.
type CancelRequest struct {
	StudentID string `json:"studentId"`
	ClassID   string `json:"classId"`
	EventID   string `json:"eventId"`
	Reason    string `json:"reason,omitempty"`
}

// CancelProvisional transitions provisional to cancelled. Cancelling an
// already-cancelled record succeeds; a confirmed one is INVALID_STATE.
func (s *Service) CancelProvisional(ctx context.Context, req *CancelRequest) (*TransitionResponse, error) {
	if req.StudentID == "" || req.ClassID == "" || req.EventID == "" {
		return nil, fault.New(fault.CodeBadRequest, "studentId, classId and eventId are required")
	}

	reqHash := hashRequest(req)
	if resp, err := s.replay(ctx, req.EventID, ScopeCancel, reqHash); err != nil {
		return nil, err
	} else if resp != nil {
		var out TransitionResponse
		if err := json.Unmarshal(resp.Response, &out); err != nil {
			return nil, fault.Wrap(err, fault.CodeInternal, "stored idempotent response is unreadable")
		}
		return &out, nil
	}

	now := s.clock.Now()
	rec, err := s.locate(ctx, "", req.StudentID, req.ClassID, clock.CivilDate(now))
	if err != nil {
		return nil, err
	}

	reason := req.Reason
	if reason == "" {
		reason = attendance.ReasonLeftBeforeConfirmation
	}

	switch rec.Status {
	case attendance.StatusCancelled:
		// Repeated cancel.
	case attendance.StatusConfirmed:
		return nil, fault.New(fault.CodeInvalidState, "confirmed attendance cannot be cancelled by the client")
	default:
		rec, err = s.store.UpdateAttendanceIf(ctx, rec.ID, attendance.StatusProvisional, func(r *attendance.Record) {
			r.Status = attendance.StatusCancelled
			r.CancelledAt = &now
			r.CancellationReason = reason
		})
		if errors.Is(err, store.ErrConflict) {
			rec, err = s.store.GetAttendance(ctx, rec.ID)
			if err == nil && rec.Status == attendance.StatusConfirmed {
				return nil, fault.New(fault.CodeInvalidState, "confirmed attendance cannot be cancelled by the client")
			}
		}
		if err != nil {
			return nil, fault.Wrap(err, fault.CodeInternal, "cancel transition failed")
		}
		metrics.RecordTransition(string(attendance.StatusCancelled), "client")
	}

	out := &TransitionResponse{Success: true, Status: rec.Status, Attendance: rec}
	if err := s.remember(ctx, req.EventID, ScopeCancel, reqHash, out, now); err != nil {
		l := log.WithComponentFromContext(ctx, "checkin")
		l.Warn().Err(err).
			Str(log.FieldEventID, req.EventID).
			Msg("failed to persist idempotency record")
	}
	s.invalidateToday(req.StudentID, rec.SessionDate)
	return out, nil
}

// locate finds the target record by id, else by (student, class, today).
func (s *Service) locate(ctx context.Context, id, studentID, classID, sessionDate string) (*attendance.Record, error) {
	var (
		rec *attendance.Record
		err error
	)
	if id != "" {
		rec, err = s.store.GetAttendance(ctx, id)
	} else {
		rec, err = s.store.FindAttendance(ctx, studentID, classID, sessionDate)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, fault.New(fault.CodeNotFound, "no attendance record for this student, class and day")
	}
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeInternal, "attendance lookup failed")
	}
	if rec.StudentID != studentID {
		return nil, fault.New(fault.CodeNotFound, "no attendance record for this student, class and day")
	}
	return rec, nil
}

// TodayRecord is one attendance row enriched with window arithmetic.
type TodayRecord struct {
	*attendance.Record
	RemainingSeconds *int64               `json:"remainingSeconds,omitempty"`
	Cooldown         *attendance.Cooldown `json:"cooldown,omitempty"`
}

// QueryToday lists the student's attendance for the current civil day.
func (s *Service) QueryToday(ctx context.Context, studentID string) ([]TodayRecord, error) {
	if studentID == "" {
		return nil, fault.New(fault.CodeBadRequest, "studentId is required")
	}

	now := s.clock.Now()
	sessionDate := clock.CivilDate(now)

	cacheKey := todayKey(studentID, sessionDate)
	var cached []TodayRecord
	if cache.GetTyped(s.cache, cacheKey, &cached) {
		return cached, nil
	}

	recs, err := s.store.ListAttendanceByStudentDate(ctx, studentID, sessionDate)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeInternal, "attendance query failed")
	}

	out := make([]TodayRecord, 0, len(recs))
	for _, rec := range recs {
		tr := TodayRecord{Record: rec}
		if rec.Status == attendance.StatusProvisional {
			remaining := rec.RemainingSeconds(now, s.policy.ConfirmationWindow)
			tr.RemainingSeconds = &remaining
		}
		tr.Cooldown = rec.CooldownAt(now, s.policy.CooldownWindow)
		out = append(out, tr)
	}

	s.cache.Set(cacheKey, out, todayCacheTTL)
	return out, nil
}

// ResetDevice clears a student's device binding (admin operation).
func (s *Service) ResetDevice(ctx context.Context, studentID string) error {
	if studentID == "" {
		return fault.New(fault.CodeBadRequest, "studentId is required")
	}
	err := s.store.ClearStudentDevice(ctx, studentID)
	if errors.Is(err, store.ErrNotFound) {
		return fault.New(fault.CodeNotFound, "unknown student")
	}
	if err != nil {
		return fault.Wrap(err, fault.CodeInternal, "device reset failed")
	}
	l := log.WithComponentFromContext(ctx, "checkin")
	l.Info().
		Str(log.FieldStudentID, studentID).
		Str("event", "device.reset").
		Msg("device binding cleared")
	return nil
}

// replay returns the stored record when (eventID, scope) was already
// processed with an identical payload, nil when the event is new, and
// an IDEMPOTENCY_CONFLICT fault when the payload differs.
func (s *Service) replay(ctx context.Context, eventID, scope, reqHash string) (*store.IdempotencyRecord, error) {
	rec, err := s.store.GetIdempotency(ctx, eventID, scope)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeInternal, "idempotency lookup failed")
	}
	if rec.RequestHash != reqHash {
		return nil, fault.New(fault.CodeIdempotencyConflict, "event %q was already processed with a different payload", eventID)
	}
	return rec, nil
}

func (s *Service) remember(ctx context.Context, eventID, scope, reqHash string, response any, now time.Time) error {
	body, err := json.Marshal(response)
	if err != nil {
		return err
	}
	return s.store.PutIdempotency(ctx, &store.IdempotencyRecord{
		EventID:     eventID,
		Scope:       scope,
		RequestHash: reqHash,
		Response:    body,
		StatusCode:  200,
		CreatedAt:   now,
	})
}

func (s *Service) invalidateToday(studentID, sessionDate string) {
	s.cache.Delete(todayKey(studentID, sessionDate))
}

func todayKey(studentID, sessionDate string) string {
	return fmt.Sprintf("today|%s|%s", studentID, sessionDate)
}

// hashRequest canonicalizes a request for idempotent replay detection.
// Struct field order makes the JSON encoding deterministic.
func hashRequest(v any) string {
	body, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
