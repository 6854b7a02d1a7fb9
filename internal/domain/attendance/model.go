// SPDX-License-Identifier: MIT

// Package attendance holds the attendance record lifecycle: the two-phase
// check-in state machine, device binding and the policy windows around it.
package attendance

import "time"

// Status is the client-visible lifecycle of one attendance record.
type Status string

const (
	StatusProvisional Status = "provisional"
	StatusConfirmed   Status = "confirmed"
	StatusCancelled   Status = "cancelled"
)

// IsTerminal returns true if the status is a final state. Terminal states
// never revert, with the single documented exception of a proxy review
// cancelling a confirmed record.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

// Cancellation reasons written by the service and the background tasks.
// These strings are client-visible; keep them stable.
const (
	ReasonLeftBeforeConfirmation = "left_before_confirmation"
	ReasonWindowExpired          = "Auto-cancelled: confirmation window expired"
	ReasonProxyAutomation        = "Proxy detected by automation"
	ReasonProxyReview            = "Proxy attendance detected"
)

// Student binds an external student identifier to at most one device.
type Student struct {
	StudentID          string     `json:"studentId"`
	Name               string     `json:"name,omitempty"`
	DeviceID           string     `json:"deviceId,omitempty"`
	DeviceRegisteredAt *time.Time `json:"deviceRegisteredAt,omitempty"`
}

// Record is one attendance row. At most one exists per
// (student, class, session date) at any time.
type Record struct {
	ID          string `json:"id"`
	StudentID   string `json:"studentId"`
	ClassID     string `json:"classId"`
	SessionDate string `json:"sessionDate"` // civil date, server TZ
	DeviceID    string `json:"deviceId"`

	Status             Status     `json:"status"`
	CheckInTime        time.Time  `json:"checkInTime"`
	ConfirmedAt        *time.Time `json:"confirmedAt,omitempty"`
	CancelledAt        *time.Time `json:"cancelledAt,omitempty"`
	CancellationReason string     `json:"cancellationReason,omitempty"`

	// Beacon snapshot from the most recent check-in. RSSI is integer dBm.
	RSSI        *int `json:"rssi,omitempty"`
	BeaconMajor *int `json:"beaconMajor,omitempty"`
	BeaconMinor *int `json:"beaconMinor,omitempty"`
}

// RemainingSeconds computes the non-negative remainder of the confirmation
// window for a provisional record.
func (r *Record) RemainingSeconds(now time.Time, window time.Duration) int64 {
	if r.Status != StatusProvisional {
		return 0
	}
	remaining := window - now.Sub(r.CheckInTime)
	if remaining < 0 {
		return 0
	}
	return int64(remaining.Seconds())
}

// Cooldown describes the post-confirmation suppression window.
type Cooldown struct {
	EndsAt           time.Time `json:"cooldownEndsAt"`
	SecondsRemaining int64     `json:"secondsRemaining"`
}

// CooldownAt derives the cooldown block for a confirmed record, nil otherwise.
func (r *Record) CooldownAt(now time.Time, window time.Duration) *Cooldown {
	if r.Status != StatusConfirmed || r.ConfirmedAt == nil {
		return nil
	}
	ends := r.ConfirmedAt.Add(window)
	remaining := int64(ends.Sub(now).Seconds())
	if remaining < 0 {
		remaining = 0
	}
	return &Cooldown{EndsAt: ends, SecondsRemaining: remaining}
}
