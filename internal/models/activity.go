package models

import "time"

// ActivityStatus captures the checklist-item lifecycle.
type ActivityStatus string

const (
	ActivityStatusPending   ActivityStatus = "PENDING"
	ActivityStatusCompleted ActivityStatus = "COMPLETED"
	ActivityStatusReopened  ActivityStatus = "REOPENED"
)

// EvidenceKind declares what proof-of-work an activity expects.
type EvidenceKind string

const (
	EvidenceKindFile   EvidenceKind = "FILE"
	EvidenceKindReport EvidenceKind = "REPORT"
)

// AssignmentActivity is one checklist line item owned by an assignment.
// Once completed the row is locked: evidence stays immutable until an
// explicit reopen clears the lock.
type AssignmentActivity struct {
	ID                string         `db:"id" json:"id"`
	AssignmentID      string         `db:"assignment_id" json:"assignment_id"`
	Title             string         `db:"title" json:"title"`
	Description       string         `db:"description" json:"description"`
	OrderIndex        int            `db:"order_index" json:"order_index"`
	Status            ActivityStatus `db:"status" json:"status"`
	Locked            bool           `db:"locked" json:"locked"`
	EvidenceKind      EvidenceKind   `db:"evidence_kind" json:"evidence_kind"`
	EvidenceFile      *string        `db:"evidence_file" json:"evidence_file,omitempty"`
	EvidenceReport    *string        `db:"evidence_report" json:"evidence_report,omitempty"`
	EvidenceSubmitted bool           `db:"evidence_submitted" json:"evidence_submitted"`
	SubmittedBy       *string        `db:"submitted_by" json:"submitted_by,omitempty"`
	SubmittedAt       *time.Time     `db:"submitted_at" json:"submitted_at,omitempty"`
	CompletedBy       *string        `db:"completed_by" json:"completed_by,omitempty"`
	CompletedAt       *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}
