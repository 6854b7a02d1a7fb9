// SPDX-License-Identifier: MIT

// Package stream models the per-day RSSI sample streams uploaded by
// student devices and the ingestion rules applied to them.
package stream

import (
	"sort"
	"time"
)

// Sample is one RSSI observation. RSSI stays integer dBm end to end.
// When a clock offset was applied, Timestamp is the server-corrected
// instant and OriginalTimestamp keeps the device's value for audit.
type Sample struct {
	Timestamp         time.Time  `json:"timestamp"`
	RSSI              int        `json:"rssi"`
	OriginalTimestamp *time.Time `json:"originalTimestamp,omitempty"`
	ClockOffsetMS     int64      `json:"clockOffsetMs,omitempty"`
}

// Stream is the append-only sample sequence of one (student, class, day).
type Stream struct {
	ID                string    `json:"id"`
	StudentID         string    `json:"studentId"`
	ClassID           string    `json:"classId"`
	SessionDate       string    `json:"sessionDate"`
	Samples           []Sample  `json:"samples"`
	StartedAt         time.Time `json:"startedAt"`
	CompletedAt       time.Time `json:"completedAt"`
	SampleCount       int       `json:"sampleCount"`
	LastClockOffsetMS int64     `json:"lastClockOffsetMs"`
}

// SortedSamples returns the samples ordered by corrected timestamp.
// Stored order is not semantically significant; analysis re-sorts.
func (s *Stream) SortedSamples() []Sample {
	out := make([]Sample, len(s.Samples))
	copy(out, s.Samples)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
