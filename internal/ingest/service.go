// SPDX-License-Identifier: MIT

// Package ingest appends device RSSI batches to the day's stream,
// applying server-side clock correction before storage.
package ingest

import (
	"context"
	"time"

	"github.com/verisit/verisit/internal/clock"
	"github.com/verisit/verisit/internal/domain/fault"
	"github.com/verisit/verisit/internal/domain/stream"
	"github.com/verisit/verisit/internal/log"
	"github.com/verisit/verisit/internal/metrics"
	"github.com/verisit/verisit/internal/store"
)

// Offsets beyond this magnitude are worth a log line; the correction
// still applies.
const offsetLogThreshold = 5 * time.Second

// Service is the RSSI ingestion path.
type Service struct {
	store store.Store
	clock clock.Clock
}

// New wires the ingestion service.
func New(st store.Store, clk clock.Clock) *Service {
	return &Service{store: st, clock: clk}
}

// SampleInput is one uploaded observation. Pointers distinguish absent
// from zero; both fields are mandatory.
type SampleInput struct {
	Timestamp *time.Time `json:"timestamp"`
	RSSI      *int       `json:"rssi"`
	// Distance is accepted from older clients and ignored; RSSI is the
	// only signal the analysis uses.
	Distance *float64 `json:"distance,omitempty"`
}

// AppendRequest is one upload batch.
type AppendRequest struct {
	StudentID       string        `json:"studentId"`
	ClassID         string        `json:"classId"`
	SessionDate     string        `json:"sessionDate,omitempty"`
	DeviceTimestamp *time.Time    `json:"deviceTimestamp,omitempty"`
	RSSIData        []SampleInput `json:"rssiData"`
}

// AppendResponse reports the stream's new size.
type AppendResponse struct {
	Success       bool   `json:"success"`
	SampleCount   int    `json:"sampleCount"`
	ClockOffsetMS int64  `json:"clockOffsetMs"`
	SessionDate   string `json:"sessionDate"`
}

// Append corrects the batch for device clock skew and appends it to the
// (student, class, day) stream, creating the stream on first upload.
func (s *Service) Append(ctx context.Context, req *AppendRequest) (*AppendResponse, error) {
	logger := log.WithComponentFromContext(ctx, "ingest")

	if req.StudentID == "" || req.ClassID == "" {
		return nil, fault.New(fault.CodeBadRequest, "studentId and classId are required")
	}
	if len(req.RSSIData) == 0 {
		return nil, fault.New(fault.CodeBadRequest, "rssiData must not be empty")
	}

	now := s.clock.Now()

	var offsetMS int64
	if req.DeviceTimestamp != nil {
		offsetMS = now.UnixMilli() - req.DeviceTimestamp.UnixMilli()
	}
	if abs(offsetMS) > offsetLogThreshold.Milliseconds() {
		logger.Warn().
			Str(log.FieldStudentID, req.StudentID).
			Str(log.FieldClassID, req.ClassID).
			Int64("clock_offset_ms", offsetMS).
			Msg("large device clock offset, correcting timestamps")
	}

	samples := make([]stream.Sample, 0, len(req.RSSIData))
	for i, in := range req.RSSIData {
		if in.Timestamp == nil || in.RSSI == nil {
			return nil, fault.New(fault.CodeBadRequest, "sample %d is missing timestamp or rssi", i)
		}
		sample := stream.Sample{Timestamp: *in.Timestamp, RSSI: *in.RSSI}
		if offsetMS != 0 {
			orig := *in.Timestamp
			sample.Timestamp = orig.Add(time.Duration(offsetMS) * time.Millisecond)
			sample.OriginalTimestamp = &orig
			sample.ClockOffsetMS = offsetMS
		}
		samples = append(samples, sample)
	}

	sessionDate := req.SessionDate
	if sessionDate == "" {
		sessionDate = clock.CivilDate(now)
	}

	key := store.StreamKey{
		StudentID:   req.StudentID,
		ClassID:     req.ClassID,
		SessionDate: sessionDate,
	}
	count, err := s.store.AppendSamples(ctx, key, samples, offsetMS, now)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeInternal, "stream append failed")
	}

	metrics.RecordIngestion(len(samples), offsetMS)

	logger.Debug().
		Str(log.FieldStudentID, req.StudentID).
		Str(log.FieldClassID, req.ClassID).
		Str(log.FieldSessionDate, sessionDate).
		Int(log.FieldSampleCount, count).
		Int("batch", len(samples)).
		Msg("rssi batch appended")

	return &AppendResponse{
		Success:       true,
		SampleCount:   count,
		ClockOffsetMS: offsetMS,
		SessionDate:   sessionDate,
	}, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
