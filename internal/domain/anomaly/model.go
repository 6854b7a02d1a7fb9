// SPDX-License-Identifier: MIT

// Package anomaly holds flagged device pairs and their review lifecycle.
package anomaly

import "time"

// Severity classifies how strong the correlation evidence is.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Status is the review lifecycle of an anomaly.
type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmedProxy Status = "confirmed_proxy"
	StatusFalsePositive  Status = "false_positive"
)

// Anomaly is one flagged pair for a (class, session date). The pair is
// canonical: StudentID1 < StudentID2.
type Anomaly struct {
	ID               string     `json:"id"`
	ClassID          string     `json:"classId"`
	SessionDate      string     `json:"sessionDate"`
	StudentID1       string     `json:"studentId1"`
	StudentID2       string     `json:"studentId2"`
	CorrelationScore float64    `json:"correlationScore"`
	Severity         Severity   `json:"severity"`
	Status           Status     `json:"status"`
	Notes            string     `json:"notes,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	ReviewedAt       *time.Time `json:"reviewedAt,omitempty"`
}

// CanonicalPair orders two student identifiers lexicographically so every
// pair has exactly one representation.
func CanonicalPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

// Involves reports whether the anomaly references the given student.
func (a *Anomaly) Involves(studentID string) bool {
	return a.StudentID1 == studentID || a.StudentID2 == studentID
}
