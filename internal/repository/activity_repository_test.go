package repository

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdesk/taskdesk-api/internal/models"
)

func sampleActivity() *models.AssignmentActivity {
	return &models.AssignmentActivity{
		ID:           "act1",
		AssignmentID: "a1",
		Title:        "Collect access logs",
		Status:       models.ActivityStatusPending,
		EvidenceKind: models.EvidenceKindFile,
		OrderIndex:   0,
	}
}

func TestActivityCreateBumpsParent(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewActivityRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO assignment_activities").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE assignments SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO assignment_audit_logs").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	activity := sampleActivity()
	activity.ID = ""
	parent := sampleAssignment()

	err := repo.Create(context.Background(), activity, parent, sampleAudit(models.AuditActionActivityAdded))
	require.NoError(t, err)

	assert.NotEmpty(t, activity.ID)
	assert.Equal(t, 3, parent.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivitySavePropagatesParentConflict(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewActivityRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE assignment_activities SET").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE assignments SET").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Save(context.Background(), sampleActivity(), sampleAssignment(), sampleAudit(models.AuditActionEvidenceSubmitted))
	require.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivityCountByStatus(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewActivityRepository(db)

	rows := sqlmock.NewRows([]string{"total", "completed"}).AddRow(5, 2)
	mock.ExpectQuery(`SELECT COUNT\(\*\) AS total`).
		WithArgs("a1", string(models.ActivityStatusCompleted)).
		WillReturnRows(rows)

	total, completed, err := repo.CountByStatus(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Equal(t, 2, completed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestActivityNextOrderIndex(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewActivityRepository(db)

	rows := sqlmock.NewRows([]string{"next"}).AddRow(4)
	mock.ExpectQuery(`SELECT COALESCE\(MAX\(order_index\), -1\) \+ 1`).
		WithArgs("a1").
		WillReturnRows(rows)

	next, err := repo.NextOrderIndex(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, 4, next)
	assert.NoError(t, mock.ExpectationsWereMet())
}
