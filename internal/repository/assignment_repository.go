package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/taskdesk/taskdesk-api/internal/models"
)

const assignmentColumns = `id, title, description, priority, status, due_date, completed_date, progress,
       assignee_id, assigner_id, manual_progress, overdue, review_started_at, approved_at, rejected_at,
       created_at, updated_at, version`

// AssignmentRepository persists assignment aggregates. Every mutating
// operation commits the state change and its audit rows in one
// transaction, so a crash can never leave one without the other.
type AssignmentRepository struct {
	db *sqlx.DB
}

// NewAssignmentRepository constructs the repository.
func NewAssignmentRepository(db *sqlx.DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Create inserts a new assignment together with its creation audit row.
func (r *AssignmentRepository) Create(ctx context.Context, assignment *models.Assignment, audit *models.AssignmentAuditLog) error {
	if assignment.ID == "" {
		assignment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if assignment.CreatedAt.IsZero() {
		assignment.CreatedAt = now
	}
	assignment.UpdatedAt = now
	assignment.Version = 1

	const query = `INSERT INTO assignments
	(id, title, description, priority, status, due_date, completed_date, progress, assignee_id, assigner_id,
	 manual_progress, overdue, review_started_at, approved_at, rejected_at, created_at, updated_at, version)
	VALUES (:id, :title, :description, :priority, :status, :due_date, :completed_date, :progress, :assignee_id, :assigner_id,
	 :manual_progress, :overdue, :review_started_at, :approved_at, :rejected_at, :created_at, :updated_at, :version)`

	audit.AssignmentID = assignment.ID

	return transact(ctx, r.db, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx, query, assignment); err != nil {
			return fmt.Errorf("create assignment: %w", err)
		}
		return appendAuditTx(ctx, tx, audit)
	})
}

// GetByID fetches an assignment by identifier.
func (r *AssignmentRepository) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1`
	var assignment models.Assignment
	if err := r.db.GetContext(ctx, &assignment, query, id); err != nil {
		return nil, err
	}
	return &assignment, nil
}

// List returns assignments matching the filter plus the total count.
func (r *AssignmentRepository) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error) {
	conditions := make([]string, 0, 6)
	args := make([]interface{}, 0, 8)

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Priority != "" {
		args = append(args, filter.Priority)
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)))
	}
	if filter.AssigneeID != "" {
		args = append(args, filter.AssigneeID)
		conditions = append(conditions, fmt.Sprintf("assignee_id = $%d", len(args)))
	}
	if filter.AssignerID != "" {
		args = append(args, filter.AssignerID)
		conditions = append(conditions, fmt.Sprintf("assigner_id = $%d", len(args)))
	}
	if filter.Overdue != nil {
		args = append(args, *filter.Overdue)
		conditions = append(conditions, fmt.Sprintf("overdue = $%d", len(args)))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("title ILIKE $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM assignments"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count assignments: %w", err)
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	query := fmt.Sprintf("SELECT %s FROM assignments%s ORDER BY due_date ASC, created_at DESC LIMIT %d OFFSET %d",
		assignmentColumns, where, pageSize, (page-1)*pageSize)

	var assignments []models.Assignment
	if err := r.db.SelectContext(ctx, &assignments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list assignments: %w", err)
	}
	return assignments, total, nil
}

// Update persists the aggregate guarded by its version stamp and appends
// the transition's audit rows. ErrVersionConflict is returned when a
// concurrent transaction won the race; callers surface it as retryable.
func (r *AssignmentRepository) Update(ctx context.Context, assignment *models.Assignment, audits ...*models.AssignmentAuditLog) error {
	return transact(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := updateAssignmentTx(ctx, tx, assignment); err != nil {
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

// Delete hard-removes the assignment; activities and the final report
// cascade via foreign keys while audit rows are intentionally retained.
func (r *AssignmentRepository) Delete(ctx context.Context, id string, audit *models.AssignmentAuditLog) error {
	return transact(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := appendAuditTx(ctx, tx, audit); err != nil {
			return err
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM assignments WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("delete assignment: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("check deleted assignment rows: %w", err)
		}
		if rows == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}

// ListOverdueCandidates returns unflagged assignments past due and still
// in an overdue-eligible state at the reference time.
func (r *AssignmentRepository) ListOverdueCandidates(ctx context.Context, reference time.Time) ([]models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments
	WHERE overdue = FALSE AND due_date < $1 AND status NOT IN ($2, $3, $4)
	ORDER BY due_date ASC`
	var assignments []models.Assignment
	err := r.db.SelectContext(ctx, &assignments, query, reference,
		models.AssignmentStatusCompleted, models.AssignmentStatusCancelled, models.AssignmentStatusUnderReview)
	if err != nil {
		return nil, fmt.Errorf("list overdue candidates: %w", err)
	}
	return assignments, nil
}

// ListDueSoonUnreminded returns open assignments whose due date falls
// inside the reminder window and that have no DEADLINE_REMINDER audit row
// newer than the window start, so each approach of a deadline is reminded
// at most once per window.
func (r *AssignmentRepository) ListDueSoonUnreminded(ctx context.Context, reference time.Time, window time.Duration) ([]models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments
	WHERE status IN ($1, $2) AND due_date > $3 AND due_date <= $4
	AND NOT EXISTS (
		SELECT 1 FROM assignment_audit_logs
		WHERE assignment_id = assignments.id AND action = $5 AND created_at >= $6
	)
	ORDER BY due_date ASC`
	var assignments []models.Assignment
	err := r.db.SelectContext(ctx, &assignments, query,
		models.AssignmentStatusPending, models.AssignmentStatusInProgress,
		reference, reference.Add(window), models.AuditActionDeadlineReminder, reference.Add(-window))
	if err != nil {
		return nil, fmt.Errorf("list due-soon assignments: %w", err)
	}
	return assignments, nil
}

// ListOverdueResolved returns flagged assignments that have since left the
// overdue-eligible set, so the sweeper can clear their flag.
func (r *AssignmentRepository) ListOverdueResolved(ctx context.Context, reference time.Time) ([]models.Assignment, error) {
	query := `SELECT ` + assignmentColumns + ` FROM assignments
	WHERE overdue = TRUE AND (due_date >= $1 OR status IN ($2, $3, $4))
	ORDER BY due_date ASC`
	var assignments []models.Assignment
	err := r.db.SelectContext(ctx, &assignments, query, reference,
		models.AssignmentStatusCompleted, models.AssignmentStatusCancelled, models.AssignmentStatusUnderReview)
	if err != nil {
		return nil, fmt.Errorf("list overdue resolved: %w", err)
	}
	return assignments, nil
}

// StatusCounts aggregates assignments per workflow status.
func (r *AssignmentRepository) StatusCounts(ctx context.Context) (map[models.AssignmentStatus]int, error) {
	rows := []struct {
		Status models.AssignmentStatus `db:"status"`
		Count  int                     `db:"count"`
	}{}
	const query = `SELECT status, COUNT(*) AS count FROM assignments GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count assignments by status: %w", err)
	}
	counts := make(map[models.AssignmentStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// CountOverdue counts assignments overdue at the reference time using the
// same predicate the sweeper applies.
func (r *AssignmentRepository) CountOverdue(ctx context.Context, reference time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM assignments WHERE due_date < $1 AND status NOT IN ($2, $3, $4)`
	var count int
	err := r.db.GetContext(ctx, &count, query, reference,
		models.AssignmentStatusCompleted, models.AssignmentStatusCancelled, models.AssignmentStatusUnderReview)
	if err != nil {
		return 0, fmt.Errorf("count overdue assignments: %w", err)
	}
	return count, nil
}

// ListDueSoon returns open assignments with due dates inside the window.
func (r *AssignmentRepository) ListDueSoon(ctx context.Context, reference time.Time, window time.Duration, limit int) ([]models.Assignment, error) {
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`SELECT %s FROM assignments
	WHERE due_date >= $1 AND due_date < $2 AND status NOT IN ($3, $4)
	ORDER BY due_date ASC LIMIT %d`, assignmentColumns, limit)
	var assignments []models.Assignment
	err := r.db.SelectContext(ctx, &assignments, query, reference, reference.Add(window),
		models.AssignmentStatusCompleted, models.AssignmentStatusCancelled)
	if err != nil {
		return nil, fmt.Errorf("list due soon assignments: %w", err)
	}
	return assignments, nil
}
