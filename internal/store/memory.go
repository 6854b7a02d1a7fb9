// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/verisit/verisit/internal/domain/anomaly"
	"github.com/verisit/verisit/internal/domain/attendance"
	"github.com/verisit/verisit/internal/domain/stream"
)

// MemoryStore is an in-memory Store for tests and single-node dev runs.
type MemoryStore struct {
	mu          sync.RWMutex
	students    map[string]*attendance.Student // by student id
	attendance  map[string]*attendance.Record  // by record id
	attByKey    map[string]string              // (student|class|date) -> record id
	streams     map[string]*stream.Stream      // by (student|class|date)
	anomalies   map[string]*anomaly.Anomaly    // by anomaly id
	anomByKey   map[string]string              // (class|date|s1|s2) -> anomaly id
	idempotency map[string]*IdempotencyRecord  // by (event|scope)
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		students:    make(map[string]*attendance.Student),
		attendance:  make(map[string]*attendance.Record),
		attByKey:    make(map[string]string),
		streams:     make(map[string]*stream.Stream),
		anomalies:   make(map[string]*anomaly.Anomaly),
		anomByKey:   make(map[string]string),
		idempotency: make(map[string]*IdempotencyRecord),
	}
}

func attKey(studentID, classID, sessionDate string) string {
	return strings.Join([]string{studentID, classID, sessionDate}, "|")
}

func anomKey(classID, sessionDate, s1, s2 string) string {
	return strings.Join([]string{classID, sessionDate, s1, s2}, "|")
}

func idemKey(eventID, scope string) string {
	return eventID + "|" + scope
}

// --- Students ---

func (m *MemoryStore) GetStudent(_ context.Context, studentID string) (*attendance.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[studentID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) FindStudentByDevice(_ context.Context, deviceID string) (*attendance.Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.students {
		if s.DeviceID == deviceID && deviceID != "" {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) PutStudent(_ context.Context, s *attendance.Student) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.DeviceID != "" {
		for id, other := range m.students {
			if id != s.StudentID && other.DeviceID == s.DeviceID {
				return ErrConflict
			}
		}
	}
	cp := *s
	m.students[s.StudentID] = &cp
	return nil
}

func (m *MemoryStore) ClearStudentDevice(_ context.Context, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.students[studentID]
	if !ok {
		return ErrNotFound
	}
	s.DeviceID = ""
	s.DeviceRegisteredAt = nil
	return nil
}

// --- Attendance ---

func (m *MemoryStore) CreateAttendance(_ context.Context, rec *attendance.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := attKey(rec.StudentID, rec.ClassID, rec.SessionDate)
	if _, exists := m.attByKey[key]; exists {
		return ErrConflict
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	cp := *rec
	m.attendance[rec.ID] = &cp
	m.attByKey[key] = rec.ID
	return nil
}

func (m *MemoryStore) GetAttendance(_ context.Context, id string) (*attendance.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.attendance[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) FindAttendance(_ context.Context, studentID, classID, sessionDate string) (*attendance.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.attByKey[attKey(studentID, classID, sessionDate)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.attendance[id]
	return &cp, nil
}

func (m *MemoryStore) ListAttendanceByStudentDate(_ context.Context, studentID, sessionDate string) ([]*attendance.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*attendance.Record
	for _, rec := range m.attendance {
		if rec.StudentID == studentID && rec.SessionDate == sessionDate {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateAttendanceIf(_ context.Context, id string, expect attendance.Status, mutate func(*attendance.Record)) (*attendance.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.attendance[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != expect {
		return nil, ErrConflict
	}
	mutate(rec)
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) UpdateAttendance(_ context.Context, rec *attendance.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attendance[rec.ID]; !ok {
		return ErrNotFound
	}
	cp := *rec
	m.attendance[rec.ID] = &cp
	return nil
}

func (m *MemoryStore) ListProvisionalOlderThan(_ context.Context, cutoff time.Time) ([]*attendance.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*attendance.Record
	for _, rec := range m.attendance {
		if rec.Status == attendance.StatusProvisional && rec.CheckInTime.Before(cutoff) {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteCancelledOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, rec := range m.attendance {
		if rec.Status == attendance.StatusCancelled && rec.CheckInTime.Before(cutoff) {
			delete(m.attendance, id)
			delete(m.attByKey, attKey(rec.StudentID, rec.ClassID, rec.SessionDate))
			deleted++
		}
	}
	return deleted, nil
}

// --- RSSI streams ---

func (m *MemoryStore) GetStream(_ context.Context, key StreamKey) (*stream.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.streams[attKey(key.StudentID, key.ClassID, key.SessionDate)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.Samples = append([]stream.Sample(nil), s.Samples...)
	return &cp, nil
}

func (m *MemoryStore) AppendSamples(_ context.Context, key StreamKey, samples []stream.Sample, lastOffsetMS int64, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := attKey(key.StudentID, key.ClassID, key.SessionDate)
	s, ok := m.streams[k]
	if !ok {
		s = &stream.Stream{
			ID:          uuid.New().String(),
			StudentID:   key.StudentID,
			ClassID:     key.ClassID,
			SessionDate: key.SessionDate,
			StartedAt:   now,
		}
		m.streams[k] = s
	}
	s.Samples = append(s.Samples, samples...)
	s.SampleCount = len(s.Samples)
	s.CompletedAt = now
	s.LastClockOffsetMS = lastOffsetMS
	return s.SampleCount, nil
}

func (m *MemoryStore) ListStreams(_ context.Context, f StreamFilter) ([]*stream.Stream, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*stream.Stream
	for _, s := range m.streams {
		if f.ClassID != "" && s.ClassID != f.ClassID {
			continue
		}
		if f.SessionDate != "" && s.SessionDate != f.SessionDate {
			continue
		}
		if !f.Since.IsZero() && s.CompletedAt.Before(f.Since) {
			continue
		}
		if s.SampleCount < f.MinSamples {
			continue
		}
		cp := *s
		cp.Samples = append([]stream.Sample(nil), s.Samples...)
		out = append(out, &cp)
	}
	return out, nil
}

// --- Anomalies ---

func (m *MemoryStore) GetAnomaly(_ context.Context, id string) (*anomaly.Anomaly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.anomalies[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) FindAnomaly(_ context.Context, classID, sessionDate, studentID1, studentID2 string) (*anomaly.Anomaly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.anomByKey[anomKey(classID, sessionDate, studentID1, studentID2)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.anomalies[id]
	return &cp, nil
}

func (m *MemoryStore) PutAnomaly(_ context.Context, a *anomaly.Anomaly) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := anomKey(a.ClassID, a.SessionDate, a.StudentID1, a.StudentID2)
	if a.ID == "" {
		if existing, ok := m.anomByKey[key]; ok {
			a.ID = existing
		} else {
			a.ID = uuid.New().String()
		}
	}
	cp := *a
	m.anomalies[a.ID] = &cp
	m.anomByKey[key] = a.ID
	return nil
}

func (m *MemoryStore) ListAnomalies(_ context.Context, f AnomalyFilter) ([]*anomaly.Anomaly, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*anomaly.Anomaly
	for _, a := range m.anomalies {
		if f.ClassID != "" && a.ClassID != f.ClassID {
			continue
		}
		if f.SessionDate != "" && a.SessionDate != f.SessionDate {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	// Pending rows first, newest within each group, matching sqlite.
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Status == anomaly.StatusPending, out[j].Status == anomaly.StatusPending
		if pi != pj {
			return pi
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) DeleteAnomaliesOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, a := range m.anomalies {
		if a.CreatedAt.Before(cutoff) {
			delete(m.anomalies, id)
			delete(m.anomByKey, anomKey(a.ClassID, a.SessionDate, a.StudentID1, a.StudentID2))
			deleted++
		}
	}
	return deleted, nil
}

// --- Idempotency ---

func (m *MemoryStore) GetIdempotency(_ context.Context, eventID, scope string) (*IdempotencyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.idempotency[idemKey(eventID, scope)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *MemoryStore) PutIdempotency(_ context.Context, rec *IdempotencyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.idempotency[idemKey(rec.EventID, rec.Scope)] = &cp
	return nil
}

func (m *MemoryStore) DeleteIdempotencyOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for k, rec := range m.idempotency {
		if rec.CreatedAt.Before(cutoff) {
			delete(m.idempotency, k)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
