package dto

import (
	"time"

	"github.com/taskdesk/taskdesk-api/internal/models"
)

// AuditQuery mirrors supported audit listing filters.
type AuditQuery struct {
	AssignmentID string
	ActorID      string
	Action       models.AuditAction
	From         *time.Time
	To           *time.Time
	Page         int
	PageSize     int
}

// AuditExportResponse returns the signed link to a rendered export.
type AuditExportResponse struct {
	Format      string    `json:"format"`
	DownloadURL string    `json:"download_url"`
	ExpiresAt   time.Time `json:"expires_at"`
	RowCount    int       `json:"row_count"`
}

// WorkflowSummary is the cached dashboard payload.
type WorkflowSummary struct {
	StatusCounts map[models.AssignmentStatus]int `json:"status_counts"`
	OverdueCount int                             `json:"overdue_count"`
	DueSoon      []models.Assignment             `json:"due_soon"`
	GeneratedAt  time.Time                       `json:"generated_at"`
}
