package models

import "time"

// AuditAction enumerates the closed set of workflow mutations recorded in
// the audit trail. New actions are a compile-time decision.
type AuditAction string

const (
	AuditActionAssignmentCreated     AuditAction = "ASSIGNMENT_CREATED"
	AuditActionAssignmentUpdated     AuditAction = "ASSIGNMENT_UPDATED"
	AuditActionActivityAdded         AuditAction = "ACTIVITY_ADDED"
	AuditActionActivityUpdated       AuditAction = "ACTIVITY_UPDATED"
	AuditActionEvidenceSubmitted     AuditAction = "EVIDENCE_SUBMITTED"
	AuditActionActivityCompleted     AuditAction = "ACTIVITY_COMPLETED"
	AuditActionActivityReopened      AuditAction = "ACTIVITY_REOPENED"
	AuditActionProgressAutoUpdated   AuditAction = "PROGRESS_AUTO_UPDATED"
	AuditActionProgressManualUpdated AuditAction = "PROGRESS_MANUAL_UPDATED"
	AuditActionFinalReportSubmitted  AuditAction = "FINAL_REPORT_SUBMITTED"
	AuditActionStatusChanged         AuditAction = "STATUS_CHANGED"
	AuditActionAssignmentApproved    AuditAction = "ASSIGNMENT_APPROVED"
	AuditActionAssignmentRejected    AuditAction = "ASSIGNMENT_REJECTED"
	AuditActionAssignmentReturned    AuditAction = "ASSIGNMENT_RETURNED"
	AuditActionAssignmentReopened    AuditAction = "ASSIGNMENT_REOPENED"
	AuditActionAssignmentOverdue     AuditAction = "ASSIGNMENT_OVERDUE"
	AuditActionOverdueCleared        AuditAction = "OVERDUE_CLEARED"
	AuditActionDeadlineReminder      AuditAction = "DEADLINE_REMINDER"
	AuditActionAssignmentDeleted     AuditAction = "ASSIGNMENT_DELETED"
)

// AssignmentAuditLog is one immutable record of a workflow mutation.
// Rows are never updated or deleted, and they outlive the assignment.
type AssignmentAuditLog struct {
	ID           string      `db:"id" json:"id"`
	AssignmentID string      `db:"assignment_id" json:"assignment_id"`
	ActorID      string      `db:"actor_id" json:"actor_id"`
	Action       AuditAction `db:"action" json:"action"`
	Description  string      `db:"description" json:"description"`
	Metadata     []byte      `db:"metadata" json:"metadata,omitempty"`
	CreatedAt    time.Time   `db:"created_at" json:"created_at"`
}

// AuditFilter constrains audit listing queries. Results are always
// ordered newest-first.
type AuditFilter struct {
	AssignmentID string
	ActorID      string
	Action       AuditAction
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}
