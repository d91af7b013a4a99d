package models

import "time"

// AssignmentStatus captures workflow states for an assignment.
type AssignmentStatus string

const (
	AssignmentStatusPending     AssignmentStatus = "PENDING"
	AssignmentStatusInProgress  AssignmentStatus = "IN_PROGRESS"
	AssignmentStatusUnderReview AssignmentStatus = "UNDER_REVIEW"
	AssignmentStatusCompleted   AssignmentStatus = "COMPLETED"
	AssignmentStatusCancelled   AssignmentStatus = "CANCELLED"
)

// Terminal reports whether the status permits no further transitions
// short of an explicit reopen.
func (s AssignmentStatus) Terminal() bool {
	return s == AssignmentStatusCompleted || s == AssignmentStatusCancelled
}

// AssignmentPriority enumerates supported priority levels.
type AssignmentPriority string

const (
	AssignmentPriorityLow    AssignmentPriority = "LOW"
	AssignmentPriorityMedium AssignmentPriority = "MEDIUM"
	AssignmentPriorityHigh   AssignmentPriority = "HIGH"
	AssignmentPriorityUrgent AssignmentPriority = "URGENT"
)

// Assignment is the aggregate root of the task workflow. All mutations go
// through the assignment service, which bumps Version on every write.
type Assignment struct {
	ID              string             `db:"id" json:"id"`
	Title           string             `db:"title" json:"title"`
	Description     string             `db:"description" json:"description"`
	Priority        AssignmentPriority `db:"priority" json:"priority"`
	Status          AssignmentStatus   `db:"status" json:"status"`
	DueDate         time.Time          `db:"due_date" json:"due_date"`
	CompletedDate   *time.Time         `db:"completed_date" json:"completed_date,omitempty"`
	Progress        int                `db:"progress" json:"progress"`
	AssigneeID      string             `db:"assignee_id" json:"assignee_id"`
	AssignerID      string             `db:"assigner_id" json:"assigner_id"`
	ManualProgress  bool               `db:"manual_progress" json:"manual_progress"`
	Overdue         bool               `db:"overdue" json:"overdue"`
	ReviewStartedAt *time.Time         `db:"review_started_at" json:"review_started_at,omitempty"`
	ApprovedAt      *time.Time         `db:"approved_at" json:"approved_at,omitempty"`
	RejectedAt      *time.Time         `db:"rejected_at" json:"rejected_at,omitempty"`
	CreatedAt       time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at" json:"updated_at"`
	Version         int                `db:"version" json:"version"`
}

// IsOverdue reports whether the assignment is past due at the reference
// time. The sweeper and display paths share this single rule.
func (a Assignment) IsOverdue(reference time.Time) bool {
	switch a.Status {
	case AssignmentStatusCompleted, AssignmentStatusCancelled, AssignmentStatusUnderReview:
		return false
	}
	return a.DueDate.Before(reference)
}

// DaysRemaining returns whole days until the due date, negative when past.
func (a Assignment) DaysRemaining(reference time.Time) int {
	return int(a.DueDate.Sub(reference).Hours() / 24)
}

// AssignmentFilter constrains listing queries.
type AssignmentFilter struct {
	Status     []AssignmentStatus
	Priority   AssignmentPriority
	AssigneeID string
	AssignerID string
	Overdue    *bool
	Search     string
	Page       int
	PageSize   int
}
