// SPDX-License-Identifier: MIT

package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/verisit/verisit/internal/clock"
	"github.com/verisit/verisit/internal/domain/anomaly"
	"github.com/verisit/verisit/internal/domain/attendance"
	"github.com/verisit/verisit/internal/store"
)

func newJanitor() (*Janitor, *store.MemoryStore, *clock.Fake) {
	st := store.NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local))
	j := New(st, clk, Config{
		Interval:             time.Minute,
		ConfirmationWindow:   3 * time.Minute,
		ClassDuration:        60 * time.Minute,
		IdempotencyRetention: 24 * time.Hour,
	})
	return j, st, clk
}

func seedRecord(t *testing.T, st *store.MemoryStore, studentID string, checkIn time.Time, status attendance.Status) *attendance.Record {
	t.Helper()
	rec := &attendance.Record{
		ID:          uuid.NewString(),
		StudentID:   studentID,
		ClassID:     "C1",
		SessionDate: clock.CivilDate(checkIn),
		DeviceID:    "D-" + studentID,
		Status:      attendance.StatusProvisional,
		CheckInTime: checkIn,
	}
	require.NoError(t, st.CreateAttendance(context.Background(), rec))
	if status != attendance.StatusProvisional {
		updated, err := st.UpdateAttendanceIf(context.Background(), rec.ID, attendance.StatusProvisional, func(r *attendance.Record) {
			r.Status = status
			if status == attendance.StatusCancelled {
				r.CancelledAt = &checkIn
			}
		})
		require.NoError(t, err)
		return updated
	}
	return rec
}

func TestSweep_ExpiresOnlyPastWindow(t *testing.T) {
	j, st, clk := newJanitor()
	ctx := context.Background()
	start := clk.Now()

	stale := seedRecord(t, st, "S1", start, attendance.StatusProvisional)
	// Exactly at the window boundary: still confirmable, not expired.
	boundary := seedRecord(t, st, "S2", start.Add(10*time.Second), attendance.StatusProvisional)
	fresh := seedRecord(t, st, "S3", start.Add(3*time.Minute), attendance.StatusProvisional)

	clk.Set(start.Add(3*time.Minute + 10*time.Second))
	res := j.Sweep(ctx)
	assert.Equal(t, 1, res.Expired)

	got, err := st.GetAttendance(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusCancelled, got.Status)
	assert.Equal(t, attendance.ReasonWindowExpired, got.CancellationReason)
	require.NotNil(t, got.CancelledAt)
	assert.Equal(t, clk.Now(), *got.CancelledAt)

	for _, rec := range []*attendance.Record{boundary, fresh} {
		got, err := st.GetAttendance(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, attendance.StatusProvisional, got.Status)
	}
}

func TestSweep_ConfirmedRecordsAreNeverExpired(t *testing.T) {
	j, st, clk := newJanitor()
	ctx := context.Background()

	rec := seedRecord(t, st, "S1", clk.Now(), attendance.StatusConfirmed)

	clk.Advance(time.Hour)
	res := j.Sweep(ctx)
	assert.Zero(t, res.Expired)

	got, err := st.GetAttendance(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, attendance.StatusConfirmed, got.Status)
}

func TestSweep_PrunesAgedCancelledRecords(t *testing.T) {
	j, st, clk := newJanitor()
	ctx := context.Background()
	start := clk.Now()

	old := seedRecord(t, st, "S1", start, attendance.StatusCancelled)
	recent := seedRecord(t, st, "S2", start.Add(30*time.Minute), attendance.StatusCancelled)

	clk.Set(start.Add(61 * time.Minute))
	res := j.Sweep(ctx)
	assert.Equal(t, 1, res.PrunedCancelled)

	_, err := st.GetAttendance(ctx, old.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetAttendance(ctx, recent.ID)
	require.NoError(t, err)

	// The slot is free again: a new check-in for the same day works.
	fresh := &attendance.Record{
		ID:          uuid.NewString(),
		StudentID:   "S1",
		ClassID:     "C1",
		SessionDate: old.SessionDate,
		DeviceID:    "D-S1",
		Status:      attendance.StatusProvisional,
		CheckInTime: clk.Now(),
	}
	require.NoError(t, st.CreateAttendance(ctx, fresh))
}

func TestSweep_PrunesIdempotencyAndAnomalies(t *testing.T) {
	j, st, clk := newJanitor()
	ctx := context.Background()
	start := clk.Now()

	require.NoError(t, st.PutIdempotency(ctx, &store.IdempotencyRecord{
		EventID: "e-old", Scope: "checkin", RequestHash: "h", CreatedAt: start.Add(-25 * time.Hour),
	}))
	require.NoError(t, st.PutIdempotency(ctx, &store.IdempotencyRecord{
		EventID: "e-new", Scope: "checkin", RequestHash: "h", CreatedAt: start,
	}))
	require.NoError(t, st.PutAnomaly(ctx, &anomaly.Anomaly{
		ClassID: "C1", SessionDate: "2026-01-15", StudentID1: "S1", StudentID2: "S2",
		Status: anomaly.StatusFalsePositive, CreatedAt: start.Add(-31 * 24 * time.Hour),
	}))
	require.NoError(t, st.PutAnomaly(ctx, &anomaly.Anomaly{
		ClassID: "C1", SessionDate: clock.CivilDate(start), StudentID1: "S3", StudentID2: "S4",
		Status: anomaly.StatusPending, CreatedAt: start,
	}))

	res := j.Sweep(ctx)
	assert.Equal(t, 1, res.PrunedIdempotent)
	assert.Equal(t, 1, res.PrunedAnomalies)

	_, err := st.GetIdempotency(ctx, "e-old", "checkin")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetIdempotency(ctx, "e-new", "checkin")
	require.NoError(t, err)

	remaining, err := st.ListAnomalies(ctx, store.AnomalyFilter{})
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, anomaly.StatusPending, remaining[0].Status)
}

func TestLoop_StopsOnContextCancel(t *testing.T) {
	defer goleak.VerifyNone(t)

	j, _, _ := newJanitor()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		j.Loop(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop on context cancellation")
	}
}
