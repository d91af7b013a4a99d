package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskdesk/taskdesk-api/internal/dto"
	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/internal/repository"
	"github.com/taskdesk/taskdesk-api/pkg/config"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
)

type stubActivityStore struct {
	activity    *models.AssignmentActivity
	getErr      error
	saveErr     error
	nextOrder   int
	total       int
	completed   int
	created     *models.AssignmentActivity
	saved       *models.AssignmentActivity
	savedParent *models.Assignment
	audits      []*models.AssignmentAuditLog
}

func (s *stubActivityStore) ListByAssignment(ctx context.Context, assignmentID string) ([]models.AssignmentActivity, error) {
	if s.activity == nil {
		return nil, nil
	}
	return []models.AssignmentActivity{*s.activity}, nil
}

func (s *stubActivityStore) GetByID(ctx context.Context, assignmentID, activityID string) (*models.AssignmentActivity, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.activity == nil {
		return nil, sql.ErrNoRows
	}
	copied := *s.activity
	return &copied, nil
}

func (s *stubActivityStore) NextOrderIndex(ctx context.Context, assignmentID string) (int, error) {
	return s.nextOrder, nil
}

func (s *stubActivityStore) Create(ctx context.Context, activity *models.AssignmentActivity, parent *models.Assignment, audits ...*models.AssignmentAuditLog) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	activity.ID = "activity-1"
	s.created = activity
	s.savedParent = parent
	s.audits = append(s.audits, audits...)
	return nil
}

func (s *stubActivityStore) Save(ctx context.Context, activity *models.AssignmentActivity, parent *models.Assignment, audits ...*models.AssignmentAuditLog) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = activity
	s.savedParent = parent
	s.audits = append(s.audits, audits...)
	return nil
}

func (s *stubActivityStore) CountByStatus(ctx context.Context, assignmentID string) (int, int, error) {
	return s.total, s.completed, nil
}

func testActivity(kind models.EvidenceKind) *models.AssignmentActivity {
	return &models.AssignmentActivity{
		ID:           "activity-1",
		AssignmentID: "assignment-1",
		Title:        "Collect access logs",
		Status:       models.ActivityStatusPending,
		EvidenceKind: kind,
		OrderIndex:   1,
	}
}

func newActivityFixture(store *stubActivityStore, parent *stubAssignmentStore, reports *stubReportStore) (*ActivityService, *captureNotifier) {
	notifier := &captureNotifier{}
	svc := NewActivityService(
		store, parent, reports,
		NewProgressCalculator(config.WorkflowConfig{}),
		notifier, validator.New(), zap.NewNop(),
	)
	return svc, notifier
}

func TestActivityCreateAssignsOrderIndex(t *testing.T) {
	store := &stubActivityStore{nextOrder: 3, total: 3, completed: 1}
	parent := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusInProgress)}
	svc, _ := newActivityFixture(store, parent, &stubReportStore{})

	activity, err := svc.Create(context.Background(), "assignment-1", dto.CreateActivityRequest{
		Title:        "Collect access logs",
		EvidenceKind: "file",
	}, assigneeClaims())
	require.NoError(t, err)

	assert.Equal(t, 3, activity.OrderIndex)
	assert.Equal(t, models.ActivityStatusPending, activity.Status)
	assert.Equal(t, models.EvidenceKindFile, activity.EvidenceKind)
	assert.Contains(t, auditActions(store.audits), models.AuditActionActivityAdded)
}

func TestActivityCreateRejectsClosedAssignment(t *testing.T) {
	parent := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusCompleted)}
	svc, _ := newActivityFixture(&stubActivityStore{}, parent, &stubReportStore{})

	_, err := svc.Create(context.Background(), "assignment-1", dto.CreateActivityRequest{
		Title:        "Too late",
		EvidenceKind: "FILE",
	}, assigneeClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestActivityCreateRejectsAssignmentUnderReview(t *testing.T) {
	parent := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusUnderReview)}
	svc, _ := newActivityFixture(&stubActivityStore{}, parent, &stubReportStore{})

	_, err := svc.Create(context.Background(), "assignment-1", dto.CreateActivityRequest{
		Title:        "Mid review",
		EvidenceKind: "REPORT",
	}, assigneeClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestSubmitEvidenceFileKind(t *testing.T) {
	store := &stubActivityStore{activity: testActivity(models.EvidenceKindFile)}
	parent := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusInProgress)}
	svc, _ := newActivityFixture(store, parent, &stubReportStore{})

	activity, err := svc.SubmitEvidence(context.Background(), "assignment-1", "activity-1",
		dto.SubmitEvidenceRequest{FileRef: "evidence/logs.zip"}, assigneeClaims())
	require.NoError(t, err)

	require.NotNil(t, activity.EvidenceFile)
	assert.Equal(t, "evidence/logs.zip", *activity.EvidenceFile)
	assert.Nil(t, activity.EvidenceReport)
	assert.True(t, activity.EvidenceSubmitted)
	require.NotNil(t, activity.SubmittedBy)
	assert.Equal(t, "employee-1", *activity.SubmittedBy)
}

func TestSubmitEvidenceKindMismatch(t *testing.T) {
	store := &stubActivityStore{activity: testActivity(models.EvidenceKindFile)}
	parent := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusInProgress)}
	svc, _ := newActivityFixture(store, parent, &stubReportStore{})

	_, err := svc.SubmitEvidence(context.Background(), "assignment-1", "activity-1",
		dto.SubmitEvidenceRequest{ReportText: "wrote it up instead"}, assigneeClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSubmitEvidenceRejectsBothKinds(t *testing.T) {
	store := &stubActivityStore{activity: testActivity(models.EvidenceKindReport)}
	parent := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusInProgress)}
	svc, _ := newActivityFixture(store, parent, &stubReportStore{})

	_, err := svc.SubmitEvidence(context.Background(), "assignment-1", "activity-1",
		dto.SubmitEvidenceRequest{ReportText: "summary", FileRef: "evidence/extra.pdf"}, assigneeClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSubmitEvidenceLockedActivity(t *testing.T) {
	activity := testActivity(models.EvidenceKindFile)
	activity.Status = models.ActivityStatusCompleted
	activity.Locked = true
	store := &stubActivityStore{activity: activity}
	parent := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusInProgress)}
	svc, _ := newActivityFixture(store, parent, &stubReportStore{})

	_, err := svc.SubmitEvidence(context.Background(), "assignment-1", "activity-1",
		dto.SubmitEvidenceRequest{FileRef: "evidence/late.zip"}, assigneeClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrLocked.Code, appErrors.FromError(err).Code)
}

func TestCompleteRequiresEvidence(t *testing.T) {
	store := &stubActivityStore{activity: testActivity(models.EvidenceKindFile)}
	parent := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusInProgress)}
	svc, _ := newActivityFixture(store, parent, &stubReportStore{})

	_, err := svc.Complete(context.Background(), "assignment-1", "activity-1",
		dto.CompleteActivityRequest{}, assigneeClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestCompleteLocksActivityAndStartsWork(t *testing.T) {
	fileRef := "evidence/logs.zip"
	activity := testActivity(models.EvidenceKindFile)
	activity.EvidenceSubmitted = true
	activity.EvidenceFile = &fileRef
	// counts reflect the pre-commit state; the delta accounts for this completion
	store := &stubActivityStore{activity: activity, total: 2, completed: 0}
	parent := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusPending)}
	svc, notifier := newActivityFixture(store, parent, &stubReportStore{})

	completed, err := svc.Complete(context.Background(), "assignment-1", "activity-1",
		dto.CompleteActivityRequest{}, assigneeClaims())
	require.NoError(t, err)

	assert.Equal(t, models.ActivityStatusCompleted, completed.Status)
	assert.True(t, completed.Locked)
	require.NotNil(t, completed.CompletedBy)
	assert.Equal(t, "employee-1", *completed.CompletedBy)

	// first completion moves the parent out of PENDING
	require.NotNil(t, store.savedParent)
	assert.Equal(t, models.AssignmentStatusInProgress, store.savedParent.Status)
	assert.Equal(t, 35, store.savedParent.Progress)

	actions := auditActions(store.audits)
	assert.Contains(t, actions, models.AuditActionActivityCompleted)
	assert.Contains(t, actions, models.AuditActionStatusChanged)
	assert.Contains(t, actions, models.AuditActionProgressAutoUpdated)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "manager-1", notifier.events[0].RecipientID)
}

func TestCompleteAlreadyCompleted(t *testing.T) {
	activity := testActivity(models.EvidenceKindFile)
	activity.Status = models.ActivityStatusCompleted
	activity.EvidenceSubmitted = true
	store := &stubActivityStore{activity: activity}
	parent := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusInProgress)}
	svc, _ := newActivityFixture(store, parent, &stubReportStore{})

	_, err := svc.Complete(context.Background(), "assignment-1", "activity-1",
		dto.CompleteActivityRequest{}, assigneeClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestActivityReopenUnlocks(t *testing.T) {
	now := testAssignment(models.AssignmentStatusInProgress).DueDate
	actor := "employee-1"
	activity := testActivity(models.EvidenceKindFile)
	activity.Status = models.ActivityStatusCompleted
	activity.Locked = true
	activity.EvidenceSubmitted = true
	activity.CompletedBy = &actor
	activity.CompletedAt = &now
	store := &stubActivityStore{activity: activity, total: 2, completed: 2}
	parentAssignment := testAssignment(models.AssignmentStatusInProgress)
	parentAssignment.Progress = 70
	parent := &stubAssignmentStore{assignment: parentAssignment}
	svc, _ := newActivityFixture(store, parent, &stubReportStore{})

	reopened, err := svc.Reopen(context.Background(), "assignment-1", "activity-1", assigneeClaims())
	require.NoError(t, err)

	assert.Equal(t, models.ActivityStatusReopened, reopened.Status)
	assert.False(t, reopened.Locked)
	assert.Nil(t, reopened.CompletedBy)
	assert.Nil(t, reopened.CompletedAt)
	// prior evidence is retained for resubmission
	assert.True(t, reopened.EvidenceSubmitted)

	require.NotNil(t, store.savedParent)
	assert.Equal(t, 35, store.savedParent.Progress)
	assert.Contains(t, auditActions(store.audits), models.AuditActionActivityReopened)
}

func TestActivityVersionConflictMapsToConflict(t *testing.T) {
	activity := testActivity(models.EvidenceKindReport)
	store := &stubActivityStore{activity: activity, saveErr: repository.ErrVersionConflict}
	parent := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusInProgress)}
	svc, _ := newActivityFixture(store, parent, &stubReportStore{})

	_, err := svc.SubmitEvidence(context.Background(), "assignment-1", "activity-1",
		dto.SubmitEvidenceRequest{ReportText: "summary"}, assigneeClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestActivityManualProgressSkipsRecompute(t *testing.T) {
	fileRef := "evidence/logs.zip"
	activity := testActivity(models.EvidenceKindFile)
	activity.EvidenceSubmitted = true
	activity.EvidenceFile = &fileRef
	store := &stubActivityStore{activity: activity, total: 1, completed: 0}
	parentAssignment := testAssignment(models.AssignmentStatusInProgress)
	parentAssignment.ManualProgress = true
	parentAssignment.Progress = 25
	parent := &stubAssignmentStore{assignment: parentAssignment}
	svc, _ := newActivityFixture(store, parent, &stubReportStore{})

	_, err := svc.Complete(context.Background(), "assignment-1", "activity-1",
		dto.CompleteActivityRequest{}, assigneeClaims())
	require.NoError(t, err)

	assert.Equal(t, 25, store.savedParent.Progress)
	assert.NotContains(t, auditActions(store.audits), models.AuditActionProgressAutoUpdated)
}
