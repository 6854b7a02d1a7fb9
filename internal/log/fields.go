// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldEventID   = "event_id"
	FieldStudentID = "student_id"
	FieldClassID   = "class_id"
	FieldDeviceID  = "device_id"
	FieldAnomalyID = "anomaly_id"

	// Process fields
	FieldEvent     = "event"
	FieldComponent = "component"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"
	FieldReason    = "reason"

	// Analysis fields
	FieldSessionDate = "session_date"
	FieldCorrelation = "correlation"
	FieldSeverity    = "severity"
	FieldStrategy    = "strategy"
	FieldSampleCount = "sample_count"
)
