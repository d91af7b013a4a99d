package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/taskdesk/taskdesk-api/internal/models"
)

const auditColumns = `id, assignment_id, actor_id, action, description, metadata, created_at`

// AuditRepository reads the append-only workflow audit trail and appends
// rows for events that carry no aggregate mutation (e.g. reminders).
// Rows are never updated or deleted.
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository constructs the repository.
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append writes one audit row outside any aggregate transaction.
func (r *AuditRepository) Append(ctx context.Context, entry *models.AssignmentAuditLog) error {
	return transact(ctx, r.db, func(tx *sqlx.Tx) error {
		return appendAuditTx(ctx, tx, entry)
	})
}

// List returns audit rows matching the filter, newest first, plus the
// total count for pagination.
func (r *AuditRepository) List(ctx context.Context, filter models.AuditFilter) ([]models.AssignmentAuditLog, int, error) {
	conditions := make([]string, 0, 5)
	args := make([]interface{}, 0, 5)

	if filter.AssignmentID != "" {
		args = append(args, filter.AssignmentID)
		conditions = append(conditions, fmt.Sprintf("assignment_id = $%d", len(args)))
	}
	if filter.ActorID != "" {
		args = append(args, filter.ActorID)
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if filter.Action != "" {
		args = append(args, filter.Action)
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM assignment_audit_logs"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count audit logs: %w", err)
	}

	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 100
	}
	query := fmt.Sprintf("SELECT %s FROM assignment_audit_logs%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d",
		auditColumns, where, pageSize, (page-1)*pageSize)

	var entries []models.AssignmentAuditLog
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list audit logs: %w", err)
	}
	return entries, total, nil
}
