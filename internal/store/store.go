// SPDX-License-Identifier: MIT

// Package store defines the persistence contract of the service and its
// implementations. The domain services never see a concrete database;
// uniqueness and conditional transitions are enforced here and mirrored
// in the service layer.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/verisit/verisit/internal/domain/anomaly"
	"github.com/verisit/verisit/internal/domain/attendance"
	"github.com/verisit/verisit/internal/domain/stream"
)

var (
	// ErrNotFound signals a missing row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict signals a uniqueness violation or a failed conditional
	// write (expected status did not match).
	ErrConflict = errors.New("store: conflict")
)

// IdempotencyRecord is a processed request keyed by (event id, scope).
type IdempotencyRecord struct {
	EventID     string
	Scope       string
	RequestHash string
	Response    []byte
	StatusCode  int
	CreatedAt   time.Time
}

// StreamKey addresses the one stream per (student, class, day).
type StreamKey struct {
	StudentID   string
	ClassID     string
	SessionDate string
}

// StreamFilter narrows ListStreams.
type StreamFilter struct {
	ClassID     string    // optional
	SessionDate string    // optional
	Since       time.Time // optional: streams completed at or after
	MinSamples  int
}

// AnomalyFilter narrows ListAnomalies.
type AnomalyFilter struct {
	ClassID     string
	SessionDate string
	Status      anomaly.Status
}

// Store is the repository contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Students
	GetStudent(ctx context.Context, studentID string) (*attendance.Student, error)
	FindStudentByDevice(ctx context.Context, deviceID string) (*attendance.Student, error)
	// PutStudent upserts by student id. A device id bound to a different
	// student yields ErrConflict.
	PutStudent(ctx context.Context, s *attendance.Student) error
	// ClearStudentDevice removes the device binding (admin reset).
	ClearStudentDevice(ctx context.Context, studentID string) error

	// Attendance
	// CreateAttendance inserts a new record; ErrConflict when a record for
	// (student, class, session date) already exists.
	CreateAttendance(ctx context.Context, rec *attendance.Record) error
	GetAttendance(ctx context.Context, id string) (*attendance.Record, error)
	FindAttendance(ctx context.Context, studentID, classID, sessionDate string) (*attendance.Record, error)
	ListAttendanceByStudentDate(ctx context.Context, studentID, sessionDate string) ([]*attendance.Record, error)
	// UpdateAttendanceIf applies mutate to the record only while its status
	// equals expect, all within one atomic step. ErrConflict when the
	// status moved; ErrNotFound when the record is gone.
	UpdateAttendanceIf(ctx context.Context, id string, expect attendance.Status, mutate func(*attendance.Record)) (*attendance.Record, error)
	// UpdateAttendance replaces mutable fields unconditionally (snapshot
	// updates on repeated provisional check-ins).
	UpdateAttendance(ctx context.Context, rec *attendance.Record) error
	ListProvisionalOlderThan(ctx context.Context, cutoff time.Time) ([]*attendance.Record, error)
	DeleteCancelledOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// RSSI streams
	GetStream(ctx context.Context, key StreamKey) (*stream.Stream, error)
	// AppendSamples appends to the day's stream, creating it when absent,
	// and returns the new sample count.
	AppendSamples(ctx context.Context, key StreamKey, samples []stream.Sample, lastOffsetMS int64, now time.Time) (int, error)
	ListStreams(ctx context.Context, f StreamFilter) ([]*stream.Stream, error)

	// Anomalies
	GetAnomaly(ctx context.Context, id string) (*anomaly.Anomaly, error)
	FindAnomaly(ctx context.Context, classID, sessionDate, studentID1, studentID2 string) (*anomaly.Anomaly, error)
	// PutAnomaly upserts by (class, session date, canonical pair).
	PutAnomaly(ctx context.Context, a *anomaly.Anomaly) error
	ListAnomalies(ctx context.Context, f AnomalyFilter) ([]*anomaly.Anomaly, error)
	DeleteAnomaliesOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Idempotency
	GetIdempotency(ctx context.Context, eventID, scope string) (*IdempotencyRecord, error)
	PutIdempotency(ctx context.Context, rec *IdempotencyRecord) error
	DeleteIdempotencyOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// Ping verifies the backing storage is reachable.
	Ping(ctx context.Context) error
	Close() error
}
