package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/taskdesk/taskdesk-api/internal/models"
)

// transact runs fn inside a transaction, rolling back on error.
func transact(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// updateAssignmentTx persists the aggregate root guarded by its version
// stamp. Child repositories call this inside their own transactions so a
// child write, the parent bump, and the audit rows commit atomically.
// On success the in-memory version is advanced to match the row.
func updateAssignmentTx(ctx context.Context, tx *sqlx.Tx, assignment *models.Assignment) error {
	assignment.UpdatedAt = time.Now().UTC()

	const query = `UPDATE assignments SET
	title = :title, description = :description, priority = :priority, status = :status,
	due_date = :due_date, completed_date = :completed_date, progress = :progress,
	manual_progress = :manual_progress, overdue = :overdue, review_started_at = :review_started_at,
	approved_at = :approved_at, rejected_at = :rejected_at, updated_at = :updated_at,
	version = version + 1
	WHERE id = :id AND version = :version`

	result, err := tx.NamedExecContext(ctx, query, assignment)
	if err != nil {
		return fmt.Errorf("update assignment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check updated assignment rows: %w", err)
	}
	if rows == 0 {
		return ErrVersionConflict
	}
	assignment.Version++
	return nil
}

// appendAuditTx inserts one immutable audit row within the transaction of
// the mutation it describes.
func appendAuditTx(ctx context.Context, tx *sqlx.Tx, entry *models.AssignmentAuditLog) error {
	if entry == nil {
		return nil
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if len(entry.Metadata) == 0 {
		entry.Metadata = []byte("{}")
	}
	const query = `INSERT INTO assignment_audit_logs (id, assignment_id, actor_id, action, description, metadata, created_at)
	VALUES (:id, :assignment_id, :actor_id, :action, :description, :metadata, :created_at)`
	if _, err := tx.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("append audit log: %w", err)
	}
	return nil
}
