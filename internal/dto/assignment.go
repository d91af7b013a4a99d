package dto

import (
	"time"

	"github.com/taskdesk/taskdesk-api/internal/models"
)

// CreateAssignmentRequest payload for opening a new assignment.
type CreateAssignmentRequest struct {
	Title          string    `json:"title" validate:"required,max=200"`
	Description    string    `json:"description"`
	Priority       string    `json:"priority" validate:"required,priority"`
	DueDate        time.Time `json:"due_date" validate:"required"`
	AssigneeID     string    `json:"assignee_id" validate:"required"`
	ManualProgress bool      `json:"manual_progress"`
}

// UpdateAssignmentRequest payload for editing a non-terminal assignment.
// Nil fields are left untouched.
type UpdateAssignmentRequest struct {
	Title          *string    `json:"title" validate:"omitempty,max=200"`
	Description    *string    `json:"description"`
	Priority       *string    `json:"priority" validate:"omitempty,priority"`
	DueDate        *time.Time `json:"due_date"`
	ManualProgress *bool      `json:"manual_progress"`
}

// UpdateProgressRequest sets a manual progress value.
type UpdateProgressRequest struct {
	Progress int `json:"progress" validate:"min=0,max=100"`
}

// SubmitFinalReportRequest carries the assignee's terminal submission.
// At least one of text or file reference must be present.
type SubmitFinalReportRequest struct {
	ReportText string `json:"report_text"`
	ReportFile string `json:"report_file"`
}

// RejectAssignmentRequest captures the reviewer's decision detail.
type RejectAssignmentRequest struct {
	Comments        string `json:"comments" validate:"required"`
	ReturnForRework bool   `json:"return_for_rework"`
}

// CreateActivityRequest payload for adding a checklist item.
type CreateActivityRequest struct {
	Title        string `json:"title" validate:"required,max=150"`
	Description  string `json:"description"`
	OrderIndex   *int   `json:"order_index"`
	EvidenceKind string `json:"evidence_kind" validate:"required,evidencekind"`
}

// UpdateActivityRequest payload for editing an unlocked checklist item.
type UpdateActivityRequest struct {
	Title       *string `json:"title" validate:"omitempty,max=150"`
	Description *string `json:"description"`
	OrderIndex  *int    `json:"order_index"`
}

// SubmitEvidenceRequest attaches proof-of-work to an activity. The payload
// must match the activity's declared evidence kind.
type SubmitEvidenceRequest struct {
	FileRef    string `json:"file_ref"`
	ReportText string `json:"report_text"`
}

// CompleteActivityRequest marks an activity done with an optional closing note.
type CompleteActivityRequest struct {
	ClosingReport string `json:"closing_report"`
}

// AssignmentDetail is the aggregate read model: the assignment row plus
// its ordered activities, final report, and derived display fields.
type AssignmentDetail struct {
	models.Assignment
	Activities    []models.AssignmentActivity   `json:"activities"`
	FinalReport   *models.AssignmentFinalReport `json:"final_report,omitempty"`
	IsOverdue     bool                          `json:"is_overdue"`
	DaysRemaining int                           `json:"days_remaining"`
}

// AssignmentQuery mirrors supported listing filters.
type AssignmentQuery struct {
	Status     []models.AssignmentStatus
	Priority   models.AssignmentPriority
	AssigneeID string
	AssignerID string
	Overdue    *bool
	Search     string
	Page       int
	PageSize   int
}

// SweepResult summarises one overdue sweep run.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Flagged  int `json:"flagged"`
	Cleared  int `json:"cleared"`
	Reminded int `json:"reminded"`
}
