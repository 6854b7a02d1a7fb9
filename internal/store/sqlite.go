// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/verisit/verisit/internal/domain/anomaly"
	"github.com/verisit/verisit/internal/domain/attendance"
	"github.com/verisit/verisit/internal/domain/stream"
	"github.com/verisit/verisit/internal/persistence/sqlite"
)

const schemaVersion = 1

// SqliteStore implements Store on SQLite.
type SqliteStore struct {
	DB *sql.DB
}

// NewSqliteStore opens the database at dbPath and migrates the schema.
func NewSqliteStore(dbPath string) (*SqliteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SqliteStore{DB: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SqliteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS students (
		student_id TEXT PRIMARY KEY,
		name TEXT,
		device_id TEXT,
		device_registered_at_ms INTEGER
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_students_device
		ON students(device_id) WHERE device_id IS NOT NULL AND device_id != '';

	CREATE TABLE IF NOT EXISTS attendance (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		class_id TEXT NOT NULL,
		session_date TEXT NOT NULL,
		device_id TEXT NOT NULL,
		status TEXT NOT NULL,
		check_in_time_ms INTEGER NOT NULL,
		confirmed_at_ms INTEGER,
		cancelled_at_ms INTEGER,
		cancellation_reason TEXT,
		rssi INTEGER,
		beacon_major INTEGER,
		beacon_minor INTEGER,
		UNIQUE(student_id, class_id, session_date)
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_status_checkin
		ON attendance(status, check_in_time_ms);
	CREATE INDEX IF NOT EXISTS idx_attendance_student_date
		ON attendance(student_id, session_date);

	CREATE TABLE IF NOT EXISTS rssi_streams (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		class_id TEXT NOT NULL,
		session_date TEXT NOT NULL,
		samples_json TEXT NOT NULL,
		started_at_ms INTEGER NOT NULL,
		completed_at_ms INTEGER NOT NULL,
		sample_count INTEGER NOT NULL,
		last_clock_offset_ms INTEGER NOT NULL,
		UNIQUE(student_id, class_id, session_date)
	);

	CREATE INDEX IF NOT EXISTS idx_streams_class_date
		ON rssi_streams(class_id, session_date);

	CREATE TABLE IF NOT EXISTS anomalies (
		id TEXT PRIMARY KEY,
		class_id TEXT NOT NULL,
		session_date TEXT NOT NULL,
		student_id_1 TEXT NOT NULL,
		student_id_2 TEXT NOT NULL,
		correlation_score REAL NOT NULL,
		severity TEXT NOT NULL,
		status TEXT NOT NULL,
		notes TEXT,
		created_at_ms INTEGER NOT NULL,
		reviewed_at_ms INTEGER,
		UNIQUE(class_id, session_date, student_id_1, student_id_2)
	);

	CREATE TABLE IF NOT EXISTS idempotency (
		event_id TEXT NOT NULL,
		scope TEXT NOT NULL,
		request_hash TEXT NOT NULL,
		response BLOB,
		status_code INTEGER NOT NULL,
		created_at_ms INTEGER NOT NULL,
		PRIMARY KEY(event_id, scope)
	);

	CREATE INDEX IF NOT EXISTS idx_idempotency_created
		ON idempotency(created_at_ms);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

// isUniqueViolation detects constraint failures from the modernc driver.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func ms(t time.Time) int64 { return t.UnixMilli() }

func msPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func fromMS(v int64) time.Time { return time.UnixMilli(v) }

func fromMSPtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

func intPtr(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func toNullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// --- Students ---

func (s *SqliteStore) GetStudent(ctx context.Context, studentID string) (*attendance.Student, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT student_id, name, device_id, device_registered_at_ms FROM students WHERE student_id = ?`, studentID)
	return scanStudent(row)
}

func (s *SqliteStore) FindStudentByDevice(ctx context.Context, deviceID string) (*attendance.Student, error) {
	if deviceID == "" {
		return nil, ErrNotFound
	}
	row := s.DB.QueryRowContext(ctx,
		`SELECT student_id, name, device_id, device_registered_at_ms FROM students WHERE device_id = ?`, deviceID)
	return scanStudent(row)
}

func scanStudent(row *sql.Row) (*attendance.Student, error) {
	var st attendance.Student
	var name, deviceID sql.NullString
	var registeredAt sql.NullInt64
	err := row.Scan(&st.StudentID, &name, &deviceID, &registeredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	st.Name = name.String
	st.DeviceID = deviceID.String
	st.DeviceRegisteredAt = fromMSPtr(registeredAt)
	return &st, nil
}

func (s *SqliteStore) PutStudent(ctx context.Context, st *attendance.Student) error {
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO students (student_id, name, device_id, device_registered_at_ms)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(student_id) DO UPDATE SET
		name = excluded.name,
		device_id = excluded.device_id,
		device_registered_at_ms = excluded.device_registered_at_ms
	`, st.StudentID, st.Name, st.DeviceID, msPtr(st.DeviceRegisteredAt))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *SqliteStore) ClearStudentDevice(ctx context.Context, studentID string) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE students SET device_id = '', device_registered_at_ms = NULL WHERE student_id = ?`, studentID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Attendance ---

const attendanceColumns = `id, student_id, class_id, session_date, device_id, status,
	check_in_time_ms, confirmed_at_ms, cancelled_at_ms, cancellation_reason,
	rssi, beacon_major, beacon_minor`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAttendance(row rowScanner) (*attendance.Record, error) {
	var rec attendance.Record
	var checkIn int64
	var confirmedAt, cancelledAt, rssi, major, minor sql.NullInt64
	var reason sql.NullString
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.ClassID, &rec.SessionDate, &rec.DeviceID, &rec.Status,
		&checkIn, &confirmedAt, &cancelledAt, &reason, &rssi, &major, &minor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.CheckInTime = fromMS(checkIn)
	rec.ConfirmedAt = fromMSPtr(confirmedAt)
	rec.CancelledAt = fromMSPtr(cancelledAt)
	rec.CancellationReason = reason.String
	rec.RSSI = intPtr(rssi)
	rec.BeaconMajor = intPtr(major)
	rec.BeaconMinor = intPtr(minor)
	return &rec, nil
}

func (s *SqliteStore) CreateAttendance(ctx context.Context, rec *attendance.Record) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO attendance (`+attendanceColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.StudentID, rec.ClassID, rec.SessionDate, rec.DeviceID, rec.Status,
		ms(rec.CheckInTime), msPtr(rec.ConfirmedAt), msPtr(rec.CancelledAt), rec.CancellationReason,
		toNullInt(rec.RSSI), toNullInt(rec.BeaconMajor), toNullInt(rec.BeaconMinor))
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *SqliteStore) GetAttendance(ctx context.Context, id string) (*attendance.Record, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE id = ?`, id)
	return scanAttendance(row)
}

func (s *SqliteStore) FindAttendance(ctx context.Context, studentID, classID, sessionDate string) (*attendance.Record, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE student_id = ? AND class_id = ? AND session_date = ?`,
		studentID, classID, sessionDate)
	return scanAttendance(row)
}

func (s *SqliteStore) ListAttendanceByStudentDate(ctx context.Context, studentID, sessionDate string) ([]*attendance.Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE student_id = ? AND session_date = ? ORDER BY check_in_time_ms`,
		studentID, sessionDate)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*attendance.Record
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SqliteStore) UpdateAttendanceIf(ctx context.Context, id string, expect attendance.Status, mutate func(*attendance.Record)) (*attendance.Record, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE id = ?`, id)
	rec, err := scanAttendance(row)
	if err != nil {
		return nil, err
	}
	if rec.Status != expect {
		return nil, ErrConflict
	}

	mutate(rec)

	res, err := tx.ExecContext(ctx, `
	UPDATE attendance SET
		device_id = ?, status = ?, check_in_time_ms = ?, confirmed_at_ms = ?,
		cancelled_at_ms = ?, cancellation_reason = ?, rssi = ?, beacon_major = ?, beacon_minor = ?
	WHERE id = ? AND status = ?
	`, rec.DeviceID, rec.Status, ms(rec.CheckInTime), msPtr(rec.ConfirmedAt),
		msPtr(rec.CancelledAt), rec.CancellationReason, toNullInt(rec.RSSI),
		toNullInt(rec.BeaconMajor), toNullInt(rec.BeaconMinor), id, expect)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrConflict
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *SqliteStore) UpdateAttendance(ctx context.Context, rec *attendance.Record) error {
	res, err := s.DB.ExecContext(ctx, `
	UPDATE attendance SET
		device_id = ?, status = ?, check_in_time_ms = ?, confirmed_at_ms = ?,
		cancelled_at_ms = ?, cancellation_reason = ?, rssi = ?, beacon_major = ?, beacon_minor = ?
	WHERE id = ?
	`, rec.DeviceID, rec.Status, ms(rec.CheckInTime), msPtr(rec.ConfirmedAt),
		msPtr(rec.CancelledAt), rec.CancellationReason, toNullInt(rec.RSSI),
		toNullInt(rec.BeaconMajor), toNullInt(rec.BeaconMinor), rec.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SqliteStore) ListProvisionalOlderThan(ctx context.Context, cutoff time.Time) ([]*attendance.Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+attendanceColumns+` FROM attendance WHERE status = ? AND check_in_time_ms < ?`,
		attendance.StatusProvisional, ms(cutoff))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*attendance.Record
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SqliteStore) DeleteCancelledOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM attendance WHERE status = ? AND check_in_time_ms < ?`,
		attendance.StatusCancelled, ms(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- RSSI streams ---

func (s *SqliteStore) GetStream(ctx context.Context, key StreamKey) (*stream.Stream, error) {
	row := s.DB.QueryRowContext(ctx, `
	SELECT id, student_id, class_id, session_date, samples_json, started_at_ms,
		completed_at_ms, sample_count, last_clock_offset_ms
	FROM rssi_streams WHERE student_id = ? AND class_id = ? AND session_date = ?`,
		key.StudentID, key.ClassID, key.SessionDate)
	return scanStream(row)
}

func scanStream(row rowScanner) (*stream.Stream, error) {
	var st stream.Stream
	var samplesJSON string
	var startedAt, completedAt int64
	err := row.Scan(&st.ID, &st.StudentID, &st.ClassID, &st.SessionDate, &samplesJSON,
		&startedAt, &completedAt, &st.SampleCount, &st.LastClockOffsetMS)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(samplesJSON), &st.Samples); err != nil {
		return nil, fmt.Errorf("stream %s: corrupt samples: %w", st.ID, err)
	}
	st.StartedAt = fromMS(startedAt)
	st.CompletedAt = fromMS(completedAt)
	return &st, nil
}

func (s *SqliteStore) AppendSamples(ctx context.Context, key StreamKey, samples []stream.Sample, lastOffsetMS int64, now time.Time) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
	SELECT id, student_id, class_id, session_date, samples_json, started_at_ms,
		completed_at_ms, sample_count, last_clock_offset_ms
	FROM rssi_streams WHERE student_id = ? AND class_id = ? AND session_date = ?`,
		key.StudentID, key.ClassID, key.SessionDate)

	st, err := scanStream(row)
	if errors.Is(err, ErrNotFound) {
		st = &stream.Stream{
			ID:          uuid.New().String(),
			StudentID:   key.StudentID,
			ClassID:     key.ClassID,
			SessionDate: key.SessionDate,
			StartedAt:   now,
		}
	} else if err != nil {
		return 0, err
	}

	st.Samples = append(st.Samples, samples...)
	st.SampleCount = len(st.Samples)
	st.CompletedAt = now
	st.LastClockOffsetMS = lastOffsetMS

	samplesJSON, err := json.Marshal(st.Samples)
	if err != nil {
		return 0, err
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO rssi_streams (id, student_id, class_id, session_date, samples_json,
		started_at_ms, completed_at_ms, sample_count, last_clock_offset_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(student_id, class_id, session_date) DO UPDATE SET
		samples_json = excluded.samples_json,
		completed_at_ms = excluded.completed_at_ms,
		sample_count = excluded.sample_count,
		last_clock_offset_ms = excluded.last_clock_offset_ms
	`, st.ID, st.StudentID, st.ClassID, st.SessionDate, string(samplesJSON),
		ms(st.StartedAt), ms(st.CompletedAt), st.SampleCount, st.LastClockOffsetMS)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return st.SampleCount, nil
}

func (s *SqliteStore) ListStreams(ctx context.Context, f StreamFilter) ([]*stream.Stream, error) {
	query := `
	SELECT id, student_id, class_id, session_date, samples_json, started_at_ms,
		completed_at_ms, sample_count, last_clock_offset_ms
	FROM rssi_streams WHERE sample_count >= ?`
	args := []any{f.MinSamples}
	if f.ClassID != "" {
		query += ` AND class_id = ?`
		args = append(args, f.ClassID)
	}
	if f.SessionDate != "" {
		query += ` AND session_date = ?`
		args = append(args, f.SessionDate)
	}
	if !f.Since.IsZero() {
		query += ` AND completed_at_ms >= ?`
		args = append(args, ms(f.Since))
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*stream.Stream
	for rows.Next() {
		st, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// --- Anomalies ---

const anomalyColumns = `id, class_id, session_date, student_id_1, student_id_2,
	correlation_score, severity, status, notes, created_at_ms, reviewed_at_ms`

func scanAnomaly(row rowScanner) (*anomaly.Anomaly, error) {
	var a anomaly.Anomaly
	var createdAt int64
	var reviewedAt sql.NullInt64
	var notes sql.NullString
	err := row.Scan(&a.ID, &a.ClassID, &a.SessionDate, &a.StudentID1, &a.StudentID2,
		&a.CorrelationScore, &a.Severity, &a.Status, &notes, &createdAt, &reviewedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Notes = notes.String
	a.CreatedAt = fromMS(createdAt)
	a.ReviewedAt = fromMSPtr(reviewedAt)
	return &a, nil
}

func (s *SqliteStore) GetAnomaly(ctx context.Context, id string) (*anomaly.Anomaly, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+anomalyColumns+` FROM anomalies WHERE id = ?`, id)
	return scanAnomaly(row)
}

func (s *SqliteStore) FindAnomaly(ctx context.Context, classID, sessionDate, studentID1, studentID2 string) (*anomaly.Anomaly, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+anomalyColumns+` FROM anomalies WHERE class_id = ? AND session_date = ? AND student_id_1 = ? AND student_id_2 = ?`,
		classID, sessionDate, studentID1, studentID2)
	return scanAnomaly(row)
}

func (s *SqliteStore) PutAnomaly(ctx context.Context, a *anomaly.Anomaly) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO anomalies (`+anomalyColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(class_id, session_date, student_id_1, student_id_2) DO UPDATE SET
		correlation_score = excluded.correlation_score,
		severity = excluded.severity,
		status = excluded.status,
		notes = excluded.notes,
		reviewed_at_ms = excluded.reviewed_at_ms
	`, a.ID, a.ClassID, a.SessionDate, a.StudentID1, a.StudentID2,
		a.CorrelationScore, a.Severity, a.Status, a.Notes, ms(a.CreatedAt), msPtr(a.ReviewedAt))
	return err
}

func (s *SqliteStore) ListAnomalies(ctx context.Context, f AnomalyFilter) ([]*anomaly.Anomaly, error) {
	query := `SELECT ` + anomalyColumns + ` FROM anomalies WHERE 1=1`
	var args []any
	if f.ClassID != "" {
		query += ` AND class_id = ?`
		args = append(args, f.ClassID)
	}
	if f.SessionDate != "" {
		query += ` AND session_date = ?`
		args = append(args, f.SessionDate)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	// Pending anomalies first, newest first within a status.
	query += ` ORDER BY CASE status WHEN 'pending' THEN 0 ELSE 1 END, created_at_ms DESC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []*anomaly.Anomaly
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SqliteStore) DeleteAnomaliesOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM anomalies WHERE created_at_ms < ?`, ms(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- Idempotency ---

func (s *SqliteStore) GetIdempotency(ctx context.Context, eventID, scope string) (*IdempotencyRecord, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT event_id, scope, request_hash, response, status_code, created_at_ms FROM idempotency WHERE event_id = ? AND scope = ?`,
		eventID, scope)
	var rec IdempotencyRecord
	var createdAt int64
	err := row.Scan(&rec.EventID, &rec.Scope, &rec.RequestHash, &rec.Response, &rec.StatusCode, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = fromMS(createdAt)
	return &rec, nil
}

func (s *SqliteStore) PutIdempotency(ctx context.Context, rec *IdempotencyRecord) error {
	_, err := s.DB.ExecContext(ctx, `
	INSERT INTO idempotency (event_id, scope, request_hash, response, status_code, created_at_ms)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(event_id, scope) DO UPDATE SET
		request_hash = excluded.request_hash,
		response = excluded.response,
		status_code = excluded.status_code,
		created_at_ms = excluded.created_at_ms
	`, rec.EventID, rec.Scope, rec.RequestHash, rec.Response, rec.StatusCode, ms(rec.CreatedAt))
	return err
}

func (s *SqliteStore) DeleteIdempotencyOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM idempotency WHERE created_at_ms < ?`, ms(cutoff))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *SqliteStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *SqliteStore) Close() error {
	return s.DB.Close()
}

var _ Store = (*SqliteStore)(nil)
