// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verisit/verisit/internal/domain/anomaly"
	"github.com/verisit/verisit/internal/domain/attendance"
	"github.com/verisit/verisit/internal/domain/stream"
)

// forEachBackend runs the contract against every Store implementation.
// SQLite stores times at millisecond precision, so fixtures stick to
// millisecond-aligned instants and comparisons allow that margin.
func forEachBackend(t *testing.T, fn func(t *testing.T, st Store)) {
	t.Helper()

	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemoryStore())
	})

	t.Run("sqlite", func(t *testing.T) {
		st, err := NewSqliteStore(filepath.Join(t.TempDir(), "store.db"))
		require.NoError(t, err)
		t.Cleanup(func() { require.NoError(t, st.Close()) })
		fn(t, st)
	})
}

var timeCmp = cmpopts.EquateApproxTime(time.Millisecond)

func msAligned(t time.Time) time.Time { return t.Truncate(time.Millisecond) }

func TestStore_StudentRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		registered := msAligned(time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local))

		_, err := st.GetStudent(ctx, "S1")
		assert.ErrorIs(t, err, ErrNotFound)

		want := &attendance.Student{
			StudentID:          "S1",
			Name:               "Jordan",
			DeviceID:           "D1",
			DeviceRegisteredAt: &registered,
		}
		require.NoError(t, st.PutStudent(ctx, want))

		got, err := st.GetStudent(ctx, "S1")
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(want, got, timeCmp))

		byDevice, err := st.FindStudentByDevice(ctx, "D1")
		require.NoError(t, err)
		assert.Equal(t, "S1", byDevice.StudentID)

		_, err = st.FindStudentByDevice(ctx, "D-unknown")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_DeviceUniqueness(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()

		require.NoError(t, st.PutStudent(ctx, &attendance.Student{StudentID: "S1", DeviceID: "D1"}))

		err := st.PutStudent(ctx, &attendance.Student{StudentID: "S2", DeviceID: "D1"})
		assert.ErrorIs(t, err, ErrConflict)

		// Students without a device never collide.
		require.NoError(t, st.PutStudent(ctx, &attendance.Student{StudentID: "S3"}))
		require.NoError(t, st.PutStudent(ctx, &attendance.Student{StudentID: "S4"}))
	})
}

func TestStore_ClearStudentDevice(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		registered := msAligned(time.Now())

		require.NoError(t, st.PutStudent(ctx, &attendance.Student{
			StudentID: "S1", DeviceID: "D1", DeviceRegisteredAt: &registered,
		}))
		require.NoError(t, st.ClearStudentDevice(ctx, "S1"))

		got, err := st.GetStudent(ctx, "S1")
		require.NoError(t, err)
		assert.Empty(t, got.DeviceID)
		assert.Nil(t, got.DeviceRegisteredAt)

		// The device is free for someone else now.
		require.NoError(t, st.PutStudent(ctx, &attendance.Student{StudentID: "S2", DeviceID: "D1"}))

		assert.ErrorIs(t, st.ClearStudentDevice(ctx, "nobody"), ErrNotFound)
	})
}

func newRecord(studentID, classID, date string, checkIn time.Time) *attendance.Record {
	rssi := -60
	return &attendance.Record{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		ClassID:     classID,
		SessionDate: date,
		DeviceID:    "D-" + studentID,
		Status:      attendance.StatusProvisional,
		CheckInTime: msAligned(checkIn),
		RSSI:        &rssi,
	}
}

func TestStore_AttendanceRoundTripAndUniqueness(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		checkIn := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)

		want := newRecord("S1", "C1", "2026-03-02", checkIn)
		require.NoError(t, st.CreateAttendance(ctx, want))

		got, err := st.GetAttendance(ctx, want.ID)
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(want, got, timeCmp))

		found, err := st.FindAttendance(ctx, "S1", "C1", "2026-03-02")
		require.NoError(t, err)
		assert.Equal(t, want.ID, found.ID)

		// Second record for the same (student, class, day) is refused.
		dup := newRecord("S1", "C1", "2026-03-02", checkIn.Add(time.Minute))
		assert.ErrorIs(t, st.CreateAttendance(ctx, dup), ErrConflict)

		// Another class on the same day is fine.
		other := newRecord("S1", "C2", "2026-03-02", checkIn)
		require.NoError(t, st.CreateAttendance(ctx, other))

		recs, err := st.ListAttendanceByStudentDate(ctx, "S1", "2026-03-02")
		require.NoError(t, err)
		assert.Len(t, recs, 2)
	})
}

func TestStore_UpdateAttendanceIf(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		now := msAligned(time.Date(2026, 3, 2, 9, 5, 0, 0, time.Local))

		rec := newRecord("S1", "C1", "2026-03-02", now.Add(-5*time.Minute))
		require.NoError(t, st.CreateAttendance(ctx, rec))

		confirmed, err := st.UpdateAttendanceIf(ctx, rec.ID, attendance.StatusProvisional, func(r *attendance.Record) {
			r.Status = attendance.StatusConfirmed
			r.ConfirmedAt = &now
		})
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusConfirmed, confirmed.Status)

		// The guard sees the moved status and refuses.
		_, err = st.UpdateAttendanceIf(ctx, rec.ID, attendance.StatusProvisional, func(r *attendance.Record) {
			r.Status = attendance.StatusCancelled
		})
		assert.ErrorIs(t, err, ErrConflict)

		got, err := st.GetAttendance(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusConfirmed, got.Status)
		require.NotNil(t, got.ConfirmedAt)

		_, err = st.UpdateAttendanceIf(ctx, uuid.NewString(), attendance.StatusProvisional, func(*attendance.Record) {})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestStore_UpdateAttendanceUnknownID(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		rec := newRecord("S1", "C1", "2026-03-02", time.Now())
		assert.ErrorIs(t, st.UpdateAttendance(context.Background(), rec), ErrNotFound)
	})
}

func TestStore_ProvisionalExpiryQueries(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		base := msAligned(time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local))

		old := newRecord("S1", "C1", "2026-03-02", base)
		require.NoError(t, st.CreateAttendance(ctx, old))
		atCutoff := newRecord("S2", "C1", "2026-03-02", base.Add(time.Minute))
		require.NoError(t, st.CreateAttendance(ctx, atCutoff))

		confirmedOld := newRecord("S3", "C1", "2026-03-02", base)
		require.NoError(t, st.CreateAttendance(ctx, confirmedOld))
		_, err := st.UpdateAttendanceIf(ctx, confirmedOld.ID, attendance.StatusProvisional, func(r *attendance.Record) {
			r.Status = attendance.StatusConfirmed
		})
		require.NoError(t, err)

		// Strictly-before semantics: the record at the cutoff stays.
		stale, err := st.ListProvisionalOlderThan(ctx, base.Add(time.Minute))
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, old.ID, stale[0].ID)
	})
}

func TestStore_DeleteCancelledOlderThan(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		base := msAligned(time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local))

		cancelled := newRecord("S1", "C1", "2026-03-02", base)
		require.NoError(t, st.CreateAttendance(ctx, cancelled))
		_, err := st.UpdateAttendanceIf(ctx, cancelled.ID, attendance.StatusProvisional, func(r *attendance.Record) {
			r.Status = attendance.StatusCancelled
		})
		require.NoError(t, err)

		keepProvisional := newRecord("S2", "C1", "2026-03-02", base)
		require.NoError(t, st.CreateAttendance(ctx, keepProvisional))

		n, err := st.DeleteCancelledOlderThan(ctx, base.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		_, err = st.GetAttendance(ctx, cancelled.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = st.GetAttendance(ctx, keepProvisional.ID)
		require.NoError(t, err)

		// The uniqueness slot is released with the row.
		again := newRecord("S1", "C1", "2026-03-02", base.Add(2*time.Hour))
		require.NoError(t, st.CreateAttendance(ctx, again))
	})
}

func sampleBatch(start time.Time, rssi ...int) []stream.Sample {
	out := make([]stream.Sample, 0, len(rssi))
	for i, v := range rssi {
		out = append(out, stream.Sample{
			Timestamp: msAligned(start.Add(time.Duration(i) * 5 * time.Second)),
			RSSI:      v,
		})
	}
	return out
}

func TestStore_StreamAppendAndRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		now := msAligned(time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local))
		key := StreamKey{StudentID: "S1", ClassID: "C1", SessionDate: "2026-03-02"}

		_, err := st.GetStream(ctx, key)
		assert.ErrorIs(t, err, ErrNotFound)

		first := sampleBatch(now, -60, -61)
		count, err := st.AppendSamples(ctx, key, first, 0, now)
		require.NoError(t, err)
		assert.Equal(t, 2, count)

		second := sampleBatch(now.Add(10*time.Second), -62, -63, -64)
		count, err = st.AppendSamples(ctx, key, second, 1500, now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, 5, count)

		got, err := st.GetStream(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, 5, got.SampleCount)
		assert.Equal(t, int64(1500), got.LastClockOffsetMS)
		assert.Empty(t, cmp.Diff(append(first, second...), got.Samples, timeCmp))
		assert.Empty(t, cmp.Diff(now, got.StartedAt, timeCmp))
		assert.Empty(t, cmp.Diff(now.Add(time.Minute), got.CompletedAt, timeCmp))
	})
}

func TestStore_ListStreamsFilters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		now := msAligned(time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local))

		seed := func(student, class, date string, n int, completed time.Time) {
			rssi := make([]int, n)
			for i := range rssi {
				rssi[i] = -60
			}
			_, err := st.AppendSamples(ctx,
				StreamKey{StudentID: student, ClassID: class, SessionDate: date},
				sampleBatch(completed.Add(-time.Hour), rssi...), 0, completed)
			require.NoError(t, err)
		}

		seed("S1", "C1", "2026-03-02", 20, now)
		seed("S2", "C1", "2026-03-02", 5, now) // below MinSamples
		seed("S3", "C2", "2026-03-02", 20, now)
		seed("S4", "C1", "2026-03-01", 20, now.Add(-48*time.Hour))

		byClass, err := st.ListStreams(ctx, StreamFilter{ClassID: "C1", MinSamples: 10})
		require.NoError(t, err)
		require.Len(t, byClass, 2)

		byDate, err := st.ListStreams(ctx, StreamFilter{SessionDate: "2026-03-02", MinSamples: 10})
		require.NoError(t, err)
		assert.Len(t, byDate, 2)

		recent, err := st.ListStreams(ctx, StreamFilter{Since: now.Add(-24 * time.Hour), MinSamples: 10})
		require.NoError(t, err)
		assert.Len(t, recent, 2)
	})
}

func TestStore_AnomalyUpsertAndFilters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		created := msAligned(time.Date(2026, 3, 2, 12, 0, 0, 0, time.Local))

		a := &anomaly.Anomaly{
			ID:               uuid.NewString(),
			ClassID:          "C1",
			SessionDate:      "2026-03-02",
			StudentID1:       "S1",
			StudentID2:       "S2",
			CorrelationScore: 0.85,
			Severity:         anomaly.SeverityWarning,
			Status:           anomaly.StatusPending,
			Notes:            "high_correlation",
			CreatedAt:        created,
		}
		require.NoError(t, st.PutAnomaly(ctx, a))

		got, err := st.FindAnomaly(ctx, "C1", "2026-03-02", "S1", "S2")
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(a, got, timeCmp))

		// Upsert on the same pair updates in place.
		a.CorrelationScore = 0.97
		a.Severity = anomaly.SeverityCritical
		require.NoError(t, st.PutAnomaly(ctx, a))
		got, err = st.GetAnomaly(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, 0.97, got.CorrelationScore)

		other := &anomaly.Anomaly{
			ID:          uuid.NewString(),
			ClassID:     "C2",
			SessionDate: "2026-03-02",
			StudentID1:  "S3",
			StudentID2:  "S4",
			Severity:    anomaly.SeverityWarning,
			Status:      anomaly.StatusFalsePositive,
			CreatedAt:   created,
		}
		require.NoError(t, st.PutAnomaly(ctx, other))

		pending, err := st.ListAnomalies(ctx, AnomalyFilter{Status: anomaly.StatusPending})
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.Equal(t, a.ID, pending[0].ID)

		byClass, err := st.ListAnomalies(ctx, AnomalyFilter{ClassID: "C2"})
		require.NoError(t, err)
		assert.Len(t, byClass, 1)

		// Unfiltered listing puts pending rows first.
		all, err := st.ListAnomalies(ctx, AnomalyFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, a.ID, all[0].ID)
	})
}

func TestStore_IdempotencyRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		created := msAligned(time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local))

		want := &IdempotencyRecord{
			EventID:     "e1",
			Scope:       "checkin",
			RequestHash: "abc123",
			Response:    []byte(`{"success":true}`),
			StatusCode:  200,
			CreatedAt:   created,
		}
		require.NoError(t, st.PutIdempotency(ctx, want))

		got, err := st.GetIdempotency(ctx, "e1", "checkin")
		require.NoError(t, err)
		assert.Empty(t, cmp.Diff(want, got, timeCmp))

		// Scopes partition the event id space.
		_, err = st.GetIdempotency(ctx, "e1", "confirm")
		assert.ErrorIs(t, err, ErrNotFound)

		n, err := st.DeleteIdempotencyOlderThan(ctx, created.Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		_, err = st.GetIdempotency(ctx, "e1", "checkin")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
