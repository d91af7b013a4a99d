package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/taskdesk/taskdesk-api/internal/models"
)

const activityColumns = `id, assignment_id, title, description, order_index, status, locked, evidence_kind,
       evidence_file, evidence_report, evidence_submitted, submitted_by, submitted_at, completed_by, completed_at,
       created_at, updated_at`

// ActivityRepository persists assignment checklist items. Mutations take
// the parent aggregate and update it in the same transaction, so activity
// writes participate in the assignment's optimistic-lock protocol.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository constructs the repository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// ListByAssignment returns the checklist ordered by order index with the
// row id as tie-break.
func (r *ActivityRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]models.AssignmentActivity, error) {
	query := `SELECT ` + activityColumns + ` FROM assignment_activities
	WHERE assignment_id = $1 ORDER BY order_index ASC, id ASC`
	var activities []models.AssignmentActivity
	if err := r.db.SelectContext(ctx, &activities, query, assignmentID); err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return activities, nil
}

// GetByID fetches one activity scoped to its assignment.
func (r *ActivityRepository) GetByID(ctx context.Context, assignmentID, activityID string) (*models.AssignmentActivity, error) {
	query := `SELECT ` + activityColumns + ` FROM assignment_activities WHERE id = $1 AND assignment_id = $2`
	var activity models.AssignmentActivity
	if err := r.db.GetContext(ctx, &activity, query, activityID, assignmentID); err != nil {
		return nil, err
	}
	return &activity, nil
}

// NextOrderIndex returns the append position for a new activity.
func (r *ActivityRepository) NextOrderIndex(ctx context.Context, assignmentID string) (int, error) {
	const query = `SELECT COALESCE(MAX(order_index), -1) + 1 FROM assignment_activities WHERE assignment_id = $1`
	var next int
	if err := r.db.GetContext(ctx, &next, query, assignmentID); err != nil {
		return 0, fmt.Errorf("next activity order index: %w", err)
	}
	return next, nil
}

// Create inserts the activity, bumps the parent aggregate, and appends the
// audit row in one transaction.
func (r *ActivityRepository) Create(ctx context.Context, activity *models.AssignmentActivity, parent *models.Assignment, audits ...*models.AssignmentAuditLog) error {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = now
	}
	activity.UpdatedAt = now

	const query = `INSERT INTO assignment_activities
	(id, assignment_id, title, description, order_index, status, locked, evidence_kind, evidence_file,
	 evidence_report, evidence_submitted, submitted_by, submitted_at, completed_by, completed_at, created_at, updated_at)
	VALUES (:id, :assignment_id, :title, :description, :order_index, :status, :locked, :evidence_kind, :evidence_file,
	 :evidence_report, :evidence_submitted, :submitted_by, :submitted_at, :completed_by, :completed_at, :created_at, :updated_at)`

	return transact(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, activity); err != nil {
			return fmt.Errorf("create activity: %w", err)
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

// Save persists activity changes together with the parent aggregate and
// the transition's audit rows.
func (r *ActivityRepository) Save(ctx context.Context, activity *models.AssignmentActivity, parent *models.Assignment, audits ...*models.AssignmentAuditLog) error {
	activity.UpdatedAt = time.Now().UTC()

	const query = `UPDATE assignment_activities SET
	title = :title, description = :description, order_index = :order_index, status = :status, locked = :locked,
	evidence_file = :evidence_file, evidence_report = :evidence_report, evidence_submitted = :evidence_submitted,
	submitted_by = :submitted_by, submitted_at = :submitted_at, completed_by = :completed_by,
	completed_at = :completed_at, updated_at = :updated_at
	WHERE id = :id AND assignment_id = :assignment_id`

	return transact(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, activity); err != nil {
			return fmt.Errorf("save activity: %w", err)
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

// CountByStatus returns total and completed activity counts for progress
// computation.
func (r *ActivityRepository) CountByStatus(ctx context.Context, assignmentID string) (total, completed int, err error) {
	const query = `SELECT COUNT(*) AS total,
	COUNT(*) FILTER (WHERE status = $2) AS completed
	FROM assignment_activities WHERE assignment_id = $1`
	row := struct {
		Total     int `db:"total"`
		Completed int `db:"completed"`
	}{}
	if err := r.db.GetContext(ctx, &row, query, assignmentID, models.ActivityStatusCompleted); err != nil {
		return 0, 0, fmt.Errorf("count activities: %w", err)
	}
	return row.Total, row.Completed, nil
}
