package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/taskdesk/taskdesk-api/internal/models"
)

const finalReportColumns = `id, assignment_id, report_text, report_file, status, submitted_by, submitted_at,
       reviewer_comment, reviewed_by, reviewed_at`

// FinalReportRepository persists the at-most-one final report per
// assignment. All writes join the parent aggregate update in one
// transaction.
type FinalReportRepository struct {
	db *sqlx.DB
}

// NewFinalReportRepository constructs the repository.
func NewFinalReportRepository(db *sqlx.DB) *FinalReportRepository {
	return &FinalReportRepository{db: db}
}

// GetByAssignment fetches the assignment's final report if present.
func (r *FinalReportRepository) GetByAssignment(ctx context.Context, assignmentID string) (*models.AssignmentFinalReport, error) {
	query := `SELECT ` + finalReportColumns + ` FROM assignment_final_reports WHERE assignment_id = $1`
	var report models.AssignmentFinalReport
	if err := r.db.GetContext(ctx, &report, query, assignmentID); err != nil {
		return nil, err
	}
	return &report, nil
}

// Save upserts the report row, bumps the parent aggregate, and appends the
// transition's audit rows atomically. The unique assignment_id constraint
// enforces the single-report invariant at the storage layer.
func (r *FinalReportRepository) Save(ctx context.Context, report *models.AssignmentFinalReport, parent *models.Assignment, audits ...*models.AssignmentAuditLog) error {
	if report.ID == "" {
		report.ID = uuid.NewString()
	}
	if report.SubmittedAt.IsZero() {
		report.SubmittedAt = time.Now().UTC()
	}

	const query = `INSERT INTO assignment_final_reports
	(id, assignment_id, report_text, report_file, status, submitted_by, submitted_at, reviewer_comment, reviewed_by, reviewed_at)
	VALUES (:id, :assignment_id, :report_text, :report_file, :status, :submitted_by, :submitted_at, :reviewer_comment, :reviewed_by, :reviewed_at)
	ON CONFLICT (assignment_id) DO UPDATE SET
	report_text = EXCLUDED.report_text, report_file = EXCLUDED.report_file, status = EXCLUDED.status,
	submitted_by = EXCLUDED.submitted_by, submitted_at = EXCLUDED.submitted_at,
	reviewer_comment = EXCLUDED.reviewer_comment, reviewed_by = EXCLUDED.reviewed_by, reviewed_at = EXCLUDED.reviewed_at`

	return transact(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, report); err != nil {
			return fmt.Errorf("save final report: %w", err)
		}
		if err := updateAssignmentTx(ctx, tx, parent); err != nil {
			return err
		}
		for _, audit := range audits {
			if err := appendAuditTx(ctx, tx, audit); err != nil {
				return err
			}
		}
		return nil
	})
}
