package models

import "time"

// FinalReportStatus captures the review cycle of a final report.
type FinalReportStatus string

const (
	FinalReportStatusSubmitted FinalReportStatus = "SUBMITTED"
	FinalReportStatusReturned  FinalReportStatus = "RETURNED"
	FinalReportStatusApproved  FinalReportStatus = "APPROVED"
)

// AssignmentFinalReport is the assignee's terminal submission. At most one
// row exists per assignment; a RETURNED report is overwritten in place on
// resubmission, so prior content survives only in the audit log.
type AssignmentFinalReport struct {
	ID              string            `db:"id" json:"id"`
	AssignmentID    string            `db:"assignment_id" json:"assignment_id"`
	ReportText      *string           `db:"report_text" json:"report_text,omitempty"`
	ReportFile      *string           `db:"report_file" json:"report_file,omitempty"`
	Status          FinalReportStatus `db:"status" json:"status"`
	SubmittedBy     string            `db:"submitted_by" json:"submitted_by"`
	SubmittedAt     time.Time         `db:"submitted_at" json:"submitted_at"`
	ReviewerComment *string           `db:"reviewer_comment" json:"reviewer_comment,omitempty"`
	ReviewedBy      *string           `db:"reviewed_by" json:"reviewed_by,omitempty"`
	ReviewedAt      *time.Time        `db:"reviewed_at" json:"reviewed_at,omitempty"`
}
