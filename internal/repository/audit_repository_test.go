package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdesk/taskdesk-api/internal/models"
)

func TestAuditAppendFillsDefaults(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO assignment_audit_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	entry := &models.AssignmentAuditLog{
		AssignmentID: "a1",
		ActorID:      "manager-1",
		Action:       models.AuditActionDeadlineReminder,
		Description:  "due in 24h",
	}
	err := repo.Append(context.Background(), entry)
	require.NoError(t, err)

	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.CreatedAt.IsZero())
	assert.Equal(t, []byte("{}"), entry.Metadata)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditListFiltersAndPaginates(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	now := time.Now().UTC()
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM assignment_audit_logs WHERE assignment_id = \$1 AND action = \$2`).
		WithArgs("a1", string(models.AuditActionActivityCompleted)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))

	rows := sqlmock.NewRows([]string{"id", "assignment_id", "actor_id", "action", "description", "metadata", "created_at"}).
		AddRow("log2", "a1", "employee-1", "ACTIVITY_COMPLETED", "activity done", []byte("{}"), now).
		AddRow("log1", "a1", "employee-1", "ACTIVITY_COMPLETED", "activity done", []byte("{}"), now.Add(-time.Minute))
	mock.ExpectQuery(`FROM assignment_audit_logs WHERE assignment_id = \$1 AND action = \$2 ORDER BY created_at DESC, id DESC LIMIT 2 OFFSET 2`).
		WithArgs("a1", string(models.AuditActionActivityCompleted)).
		WillReturnRows(rows)

	entries, total, err := repo.List(context.Background(), models.AuditFilter{
		AssignmentID: "a1",
		Action:       models.AuditActionActivityCompleted,
		Page:         2,
		PageSize:     2,
	})
	require.NoError(t, err)

	assert.Equal(t, 12, total)
	require.Len(t, entries, 2)
	assert.Equal(t, "log2", entries[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditListDefaultsPageSize(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM assignment_audit_logs`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`FROM assignment_audit_logs ORDER BY created_at DESC, id DESC LIMIT 100 OFFSET 0`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "assignment_id", "actor_id", "action", "description", "metadata", "created_at"}))

	entries, total, err := repo.List(context.Background(), models.AuditFilter{})
	require.NoError(t, err)
	assert.Equal(t, 0, total)
	assert.Empty(t, entries)
	assert.NoError(t, mock.ExpectationsWereMet())
}
