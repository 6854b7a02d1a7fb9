// SPDX-License-Identifier: MIT

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/verisit/verisit/internal/clock"
	"github.com/verisit/verisit/internal/domain/fault"
	"github.com/verisit/verisit/internal/store"
)

func intp(v int) *int              { return &v }
func timep(t time.Time) *time.Time { return &t }

func newIngestFixture() (*Service, *store.MemoryStore, *clock.Fake) {
	st := store.NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local))
	return New(st, clk), st, clk
}

func TestAppend_NoDeviceTimestampMeansNoCorrection(t *testing.T) {
	svc, st, clk := newIngestFixture()
	ctx := context.Background()

	ts := clk.Now().Add(-10 * time.Second)
	resp, err := svc.Append(ctx, &AppendRequest{
		StudentID: "S1",
		ClassID:   "C1",
		RSSIData: []SampleInput{
			{Timestamp: timep(ts), RSSI: intp(-60)},
			{Timestamp: timep(ts.Add(5 * time.Second)), RSSI: intp(-62)},
		},
	})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.SampleCount)
	assert.Equal(t, int64(0), resp.ClockOffsetMS)
	assert.Equal(t, clock.CivilDate(clk.Now()), resp.SessionDate)

	got, err := st.GetStream(ctx, store.StreamKey{StudentID: "S1", ClassID: "C1", SessionDate: resp.SessionDate})
	require.NoError(t, err)
	require.Len(t, got.Samples, 2)
	assert.Equal(t, ts, got.Samples[0].Timestamp)
	assert.Nil(t, got.Samples[0].OriginalTimestamp)
}

func TestAppend_ClockSkewCorrection(t *testing.T) {
	svc, st, clk := newIngestFixture()
	ctx := context.Background()

	// Device clock runs 30 s behind the server.
	deviceNow := clk.Now().Add(-30 * time.Second)
	deviceTS := deviceNow.Add(-5 * time.Second)

	resp, err := svc.Append(ctx, &AppendRequest{
		StudentID:       "S1",
		ClassID:         "C1",
		DeviceTimestamp: timep(deviceNow),
		RSSIData:        []SampleInput{{Timestamp: timep(deviceTS), RSSI: intp(-55)}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(30_000), resp.ClockOffsetMS)

	got, err := st.GetStream(ctx, store.StreamKey{StudentID: "S1", ClassID: "C1", SessionDate: resp.SessionDate})
	require.NoError(t, err)
	require.Len(t, got.Samples, 1)
	s := got.Samples[0]
	assert.Equal(t, deviceTS.Add(30*time.Second), s.Timestamp)
	require.NotNil(t, s.OriginalTimestamp)
	assert.Equal(t, deviceTS, *s.OriginalTimestamp)
	assert.Equal(t, int64(30_000), s.ClockOffsetMS)
}

func TestAppend_BatchesAccumulateLikeOneUpload(t *testing.T) {
	svc, st, clk := newIngestFixture()
	ctx := context.Background()

	base := clk.Now()
	batch := func(offsets ...int) []SampleInput {
		out := make([]SampleInput, 0, len(offsets))
		for _, o := range offsets {
			out = append(out, SampleInput{
				Timestamp: timep(base.Add(time.Duration(o) * time.Second)),
				RSSI:      intp(-60 - o),
			})
		}
		return out
	}

	// Two uploads out of chronological order.
	_, err := svc.Append(ctx, &AppendRequest{StudentID: "S1", ClassID: "C1", RSSIData: batch(10, 15)})
	require.NoError(t, err)
	resp, err := svc.Append(ctx, &AppendRequest{StudentID: "S1", ClassID: "C1", RSSIData: batch(0, 5)})
	require.NoError(t, err)
	assert.Equal(t, 4, resp.SampleCount)

	got, err := st.GetStream(ctx, store.StreamKey{StudentID: "S1", ClassID: "C1", SessionDate: resp.SessionDate})
	require.NoError(t, err)
	sorted := got.SortedSamples()
	require.Len(t, sorted, 4)
	for i := 1; i < len(sorted); i++ {
		assert.False(t, sorted[i].Timestamp.Before(sorted[i-1].Timestamp))
	}
	assert.Equal(t, -60, sorted[0].RSSI)
	assert.Equal(t, -75, sorted[3].RSSI)
}

func TestAppend_MissingFieldsRejected(t *testing.T) {
	svc, _, clk := newIngestFixture()
	ctx := context.Background()

	_, err := svc.Append(ctx, &AppendRequest{
		StudentID: "S1", ClassID: "C1",
		RSSIData: []SampleInput{{Timestamp: timep(clk.Now())}},
	})
	require.Error(t, err)
	assert.Equal(t, fault.CodeBadRequest, fault.CodeOf(err))

	_, err = svc.Append(ctx, &AppendRequest{
		StudentID: "S1", ClassID: "C1",
		RSSIData: []SampleInput{{RSSI: intp(-60)}},
	})
	require.Error(t, err)
	assert.Equal(t, fault.CodeBadRequest, fault.CodeOf(err))

	_, err = svc.Append(ctx, &AppendRequest{StudentID: "S1", ClassID: "C1"})
	require.Error(t, err)
	assert.Equal(t, fault.CodeBadRequest, fault.CodeOf(err))

	_, err = svc.Append(ctx, &AppendRequest{
		ClassID:  "C1",
		RSSIData: []SampleInput{{Timestamp: timep(clk.Now()), RSSI: intp(-60)}},
	})
	require.Error(t, err)
	assert.Equal(t, fault.CodeBadRequest, fault.CodeOf(err))
}

func TestAppend_ExplicitSessionDateWins(t *testing.T) {
	svc, st, clk := newIngestFixture()
	ctx := context.Background()

	resp, err := svc.Append(ctx, &AppendRequest{
		StudentID:   "S1",
		ClassID:     "C1",
		SessionDate: "2026-03-01",
		RSSIData:    []SampleInput{{Timestamp: timep(clk.Now()), RSSI: intp(-60)}},
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01", resp.SessionDate)

	_, err = st.GetStream(ctx, store.StreamKey{StudentID: "S1", ClassID: "C1", SessionDate: "2026-03-01"})
	require.NoError(t, err)
}
