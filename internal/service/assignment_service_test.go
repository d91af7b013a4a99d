package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

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

type stubAssignmentStore struct {
	assignment *models.Assignment
	getErr     error
	createErr  error
	updateErr  error
	deleteErr  error
	created    *models.Assignment
	updated    *models.Assignment
	deletedID  string
	audits     []*models.AssignmentAuditLog
}

func (s *stubAssignmentStore) Create(ctx context.Context, assignment *models.Assignment, audit *models.AssignmentAuditLog) error {
	if s.createErr != nil {
		return s.createErr
	}
	assignment.ID = "assignment-1"
	assignment.Version = 1
	audit.AssignmentID = assignment.ID
	s.created = assignment
	s.audits = append(s.audits, audit)
	return nil
}

func (s *stubAssignmentStore) GetByID(ctx context.Context, id string) (*models.Assignment, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.assignment == nil {
		return nil, sql.ErrNoRows
	}
	copied := *s.assignment
	return &copied, nil
}

func (s *stubAssignmentStore) List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error) {
	if s.assignment == nil {
		return nil, 0, nil
	}
	return []models.Assignment{*s.assignment}, 1, nil
}

func (s *stubAssignmentStore) Update(ctx context.Context, assignment *models.Assignment, audits ...*models.AssignmentAuditLog) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	s.updated = assignment
	s.audits = append(s.audits, audits...)
	return nil
}

func (s *stubAssignmentStore) Delete(ctx context.Context, id string, audit *models.AssignmentAuditLog) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deletedID = id
	s.audits = append(s.audits, audit)
	return nil
}

type stubActivityCounts struct {
	activities []models.AssignmentActivity
	total      int
	completed  int
	err        error
}

func (s *stubActivityCounts) ListByAssignment(ctx context.Context, assignmentID string) ([]models.AssignmentActivity, error) {
	return s.activities, s.err
}

func (s *stubActivityCounts) CountByStatus(ctx context.Context, assignmentID string) (int, int, error) {
	return s.total, s.completed, s.err
}

type stubReportStore struct {
	report      *models.AssignmentFinalReport
	getErr      error
	saveErr     error
	saved       *models.AssignmentFinalReport
	savedParent *models.Assignment
	audits      []*models.AssignmentAuditLog
}

func (s *stubReportStore) GetByAssignment(ctx context.Context, assignmentID string) (*models.AssignmentFinalReport, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	if s.report == nil {
		return nil, sql.ErrNoRows
	}
	copied := *s.report
	return &copied, nil
}

func (s *stubReportStore) Save(ctx context.Context, report *models.AssignmentFinalReport, parent *models.Assignment, audits ...*models.AssignmentAuditLog) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = report
	s.savedParent = parent
	s.audits = append(s.audits, audits...)
	return nil
}

type stubUserReader struct {
	user *models.User
	err  error
}

func (s *stubUserReader) FindByID(ctx context.Context, id string) (*models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.user == nil {
		return nil, sql.ErrNoRows
	}
	return s.user, nil
}

type captureNotifier struct {
	events []NotificationEvent
}

func (c *captureNotifier) Notify(ctx context.Context, event NotificationEvent) {
	c.events = append(c.events, event)
}

func auditActions(audits []*models.AssignmentAuditLog) []models.AuditAction {
	actions := make([]models.AuditAction, 0, len(audits))
	for _, audit := range audits {
		actions = append(actions, audit.Action)
	}
	return actions
}

func testAssignment(status models.AssignmentStatus) *models.Assignment {
	return &models.Assignment{
		ID:         "assignment-1",
		Title:      "Quarterly security review",
		Priority:   models.AssignmentPriorityHigh,
		Status:     status,
		DueDate:    time.Now().UTC().Add(72 * time.Hour),
		AssigneeID: "employee-1",
		AssignerID: "manager-1",
		Version:    3,
	}
}

func managerClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "manager-1", Role: models.RoleManager}
}

func assigneeClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "employee-1", Role: models.RoleEmployee}
}

func newAssignmentFixture(store *stubAssignmentStore, counts *stubActivityCounts, reports *stubReportStore, users *stubUserReader) (*AssignmentService, *captureNotifier) {
	notifier := &captureNotifier{}
	svc := NewAssignmentService(
		store, counts, reports, users,
		NewProgressCalculator(config.WorkflowConfig{}),
		notifier, validator.New(), zap.NewNop(),
	)
	return svc, notifier
}

func TestAssignmentCreateOpensPending(t *testing.T) {
	store := &stubAssignmentStore{}
	users := &stubUserReader{user: &models.User{ID: "employee-1", FullName: "Dana Ray", Active: true}}
	svc, notifier := newAssignmentFixture(store, &stubActivityCounts{}, &stubReportStore{}, users)

	created, err := svc.Create(context.Background(), dto.CreateAssignmentRequest{
		Title:      "Quarterly security review",
		Priority:   "high",
		DueDate:    time.Now().Add(48 * time.Hour),
		AssigneeID: "employee-1",
	}, managerClaims())
	require.NoError(t, err)

	assert.Equal(t, models.AssignmentStatusPending, created.Status)
	assert.Equal(t, 0, created.Progress)
	assert.Equal(t, models.AssignmentPriorityHigh, created.Priority)
	assert.Equal(t, "manager-1", created.AssignerID)

	require.Len(t, store.audits, 1)
	assert.Equal(t, models.AuditActionAssignmentCreated, store.audits[0].Action)
	assert.Equal(t, created.ID, store.audits[0].AssignmentID)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "employee-1", notifier.events[0].RecipientID)
}

func TestAssignmentCreateRejectsPastDueDate(t *testing.T) {
	svc, _ := newAssignmentFixture(&stubAssignmentStore{}, &stubActivityCounts{}, &stubReportStore{},
		&stubUserReader{user: &models.User{ID: "employee-1", Active: true}})

	_, err := svc.Create(context.Background(), dto.CreateAssignmentRequest{
		Title:      "Late task",
		Priority:   "LOW",
		DueDate:    time.Now().Add(-time.Hour),
		AssigneeID: "employee-1",
	}, managerClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAssignmentCreateRejectsInactiveAssignee(t *testing.T) {
	svc, _ := newAssignmentFixture(&stubAssignmentStore{}, &stubActivityCounts{}, &stubReportStore{},
		&stubUserReader{user: &models.User{ID: "employee-1", Active: false}})

	_, err := svc.Create(context.Background(), dto.CreateAssignmentRequest{
		Title:      "Task",
		Priority:   "MEDIUM",
		DueDate:    time.Now().Add(time.Hour),
		AssigneeID: "employee-1",
	}, managerClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestSubmitFinalReportMovesUnderReview(t *testing.T) {
	store := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusInProgress)}
	counts := &stubActivityCounts{total: 4, completed: 4}
	reports := &stubReportStore{}
	svc, notifier := newAssignmentFixture(store, counts, reports, &stubUserReader{})

	report, err := svc.SubmitFinalReport(context.Background(), "assignment-1",
		dto.SubmitFinalReportRequest{ReportText: "all items verified"}, assigneeClaims())
	require.NoError(t, err)

	assert.Equal(t, models.FinalReportStatusSubmitted, report.Status)
	assert.Equal(t, "employee-1", report.SubmittedBy)

	require.NotNil(t, reports.savedParent)
	assert.Equal(t, models.AssignmentStatusUnderReview, reports.savedParent.Status)
	require.NotNil(t, reports.savedParent.ReviewStartedAt)
	// submitted report lifts progress into the review band
	assert.Equal(t, 90, reports.savedParent.Progress)

	actions := auditActions(reports.audits)
	assert.Contains(t, actions, models.AuditActionFinalReportSubmitted)
	assert.Contains(t, actions, models.AuditActionProgressAutoUpdated)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, "manager-1", notifier.events[0].RecipientID)
}

func TestSubmitFinalReportAssigneeOnly(t *testing.T) {
	store := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusInProgress)}
	svc, _ := newAssignmentFixture(store, &stubActivityCounts{}, &stubReportStore{}, &stubUserReader{})

	_, err := svc.SubmitFinalReport(context.Background(), "assignment-1",
		dto.SubmitFinalReportRequest{ReportText: "done"}, managerClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestSubmitFinalReportRejectsSecondLiveSubmission(t *testing.T) {
	store := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusUnderReview)}
	reports := &stubReportStore{report: &models.AssignmentFinalReport{
		AssignmentID: "assignment-1",
		Status:       models.FinalReportStatusSubmitted,
	}}
	svc, _ := newAssignmentFixture(store, &stubActivityCounts{}, reports, &stubUserReader{})

	_, err := svc.SubmitFinalReport(context.Background(), "assignment-1",
		dto.SubmitFinalReportRequest{ReportText: "again"}, assigneeClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestSubmitFinalReportAllowsResubmitAfterReturn(t *testing.T) {
	store := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusInProgress)}
	comment := "needs evidence for item 3"
	reports := &stubReportStore{report: &models.AssignmentFinalReport{
		ID:              "report-1",
		AssignmentID:    "assignment-1",
		Status:          models.FinalReportStatusReturned,
		ReviewerComment: &comment,
	}}
	svc, _ := newAssignmentFixture(store, &stubActivityCounts{}, reports, &stubUserReader{})

	report, err := svc.SubmitFinalReport(context.Background(), "assignment-1",
		dto.SubmitFinalReportRequest{ReportText: "revised"}, assigneeClaims())
	require.NoError(t, err)

	assert.Equal(t, "report-1", report.ID)
	assert.Equal(t, models.FinalReportStatusSubmitted, report.Status)
	// review fields reset for the new cycle
	assert.Nil(t, report.ReviewerComment)
	assert.Nil(t, report.ReviewedBy)
}

func TestSubmitFinalReportRequiresContent(t *testing.T) {
	svc, _ := newAssignmentFixture(&stubAssignmentStore{}, &stubActivityCounts{}, &stubReportStore{}, &stubUserReader{})

	_, err := svc.SubmitFinalReport(context.Background(), "assignment-1",
		dto.SubmitFinalReportRequest{}, assigneeClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestApproveCompletesAssignment(t *testing.T) {
	store := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusUnderReview)}
	reports := &stubReportStore{report: &models.AssignmentFinalReport{
		AssignmentID: "assignment-1",
		Status:       models.FinalReportStatusSubmitted,
		SubmittedBy:  "employee-1",
	}}
	svc, notifier := newAssignmentFixture(store, &stubActivityCounts{}, reports, &stubUserReader{})

	assignment, err := svc.Approve(context.Background(), "assignment-1", managerClaims())
	require.NoError(t, err)

	assert.Equal(t, models.AssignmentStatusCompleted, assignment.Status)
	assert.Equal(t, 100, assignment.Progress)
	assert.NotNil(t, assignment.CompletedDate)
	assert.NotNil(t, assignment.ApprovedAt)

	require.NotNil(t, reports.saved)
	assert.Equal(t, models.FinalReportStatusApproved, reports.saved.Status)
	require.NotNil(t, reports.saved.ReviewedBy)
	assert.Equal(t, "manager-1", *reports.saved.ReviewedBy)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, models.AuditActionAssignmentApproved, notifier.events[0].Action)
}

func TestApproveRequiresReviewState(t *testing.T) {
	store := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusInProgress)}
	svc, _ := newAssignmentFixture(store, &stubActivityCounts{}, &stubReportStore{}, &stubUserReader{})

	_, err := svc.Approve(context.Background(), "assignment-1", managerClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestRejectReturnForRework(t *testing.T) {
	store := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusUnderReview)}
	counts := &stubActivityCounts{total: 4, completed: 4}
	reports := &stubReportStore{report: &models.AssignmentFinalReport{
		AssignmentID: "assignment-1",
		Status:       models.FinalReportStatusSubmitted,
	}}
	svc, _ := newAssignmentFixture(store, counts, reports, &stubUserReader{})

	assignment, err := svc.Reject(context.Background(), "assignment-1",
		dto.RejectAssignmentRequest{Comments: "item 2 lacks evidence", ReturnForRework: true}, managerClaims())
	require.NoError(t, err)

	assert.Equal(t, models.AssignmentStatusInProgress, assignment.Status)
	assert.Nil(t, assignment.ReviewStartedAt)
	assert.Nil(t, assignment.RejectedAt)
	assert.Equal(t, models.FinalReportStatusReturned, reports.saved.Status)
	require.NotNil(t, reports.saved.ReviewerComment)
	assert.Equal(t, "item 2 lacks evidence", *reports.saved.ReviewerComment)

	assert.Contains(t, auditActions(reports.audits), models.AuditActionAssignmentReturned)
}

func TestRejectOutrightCancels(t *testing.T) {
	store := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusUnderReview)}
	reports := &stubReportStore{report: &models.AssignmentFinalReport{
		AssignmentID: "assignment-1",
		Status:       models.FinalReportStatusSubmitted,
	}}
	svc, notifier := newAssignmentFixture(store, &stubActivityCounts{}, reports, &stubUserReader{})

	assignment, err := svc.Reject(context.Background(), "assignment-1",
		dto.RejectAssignmentRequest{Comments: "out of scope"}, managerClaims())
	require.NoError(t, err)

	assert.Equal(t, models.AssignmentStatusCancelled, assignment.Status)
	assert.NotNil(t, assignment.RejectedAt)
	assert.Contains(t, auditActions(reports.audits), models.AuditActionAssignmentRejected)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, models.AuditActionAssignmentRejected, notifier.events[0].Action)
}

func TestRejectRequiresComments(t *testing.T) {
	store := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusUnderReview)}
	svc, _ := newAssignmentFixture(store, &stubActivityCounts{}, &stubReportStore{}, &stubUserReader{})

	_, err := svc.Reject(context.Background(), "assignment-1", dto.RejectAssignmentRequest{}, managerClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReopenCompletedAssignment(t *testing.T) {
	now := time.Now().UTC()
	assignment := testAssignment(models.AssignmentStatusCompleted)
	assignment.Progress = 100
	assignment.CompletedDate = &now
	assignment.ApprovedAt = &now
	store := &stubAssignmentStore{assignment: assignment}
	counts := &stubActivityCounts{total: 4, completed: 4}
	reports := &stubReportStore{report: &models.AssignmentFinalReport{
		AssignmentID: "assignment-1",
		Status:       models.FinalReportStatusApproved,
	}}
	svc, _ := newAssignmentFixture(store, counts, reports, &stubUserReader{})

	reopened, err := svc.Reopen(context.Background(), "assignment-1", managerClaims())
	require.NoError(t, err)

	assert.Equal(t, models.AssignmentStatusInProgress, reopened.Status)
	assert.Nil(t, reopened.CompletedDate)
	assert.Nil(t, reopened.ApprovedAt)
	// the approved report is returned so work can be resubmitted
	assert.Equal(t, models.FinalReportStatusReturned, reports.saved.Status)
	// returned report no longer lifts progress; the band value applies
	assert.Equal(t, 70, reopened.Progress)
}

func TestReopenAfterRejectAllowsResubmission(t *testing.T) {
	now := time.Now().UTC()
	assignment := testAssignment(models.AssignmentStatusCancelled)
	assignment.RejectedAt = &now
	store := &stubAssignmentStore{assignment: assignment}
	comment := "out of scope"
	// rejecting without rework leaves the report SUBMITTED on a cancelled parent
	reports := &stubReportStore{report: &models.AssignmentFinalReport{
		ID:              "report-1",
		AssignmentID:    "assignment-1",
		Status:          models.FinalReportStatusSubmitted,
		SubmittedBy:     "employee-1",
		ReviewerComment: &comment,
	}}
	svc, _ := newAssignmentFixture(store, &stubActivityCounts{}, reports, &stubUserReader{})

	reopened, err := svc.Reopen(context.Background(), "assignment-1", managerClaims())
	require.NoError(t, err)
	assert.Equal(t, models.AssignmentStatusInProgress, reopened.Status)
	assert.Nil(t, reopened.RejectedAt)
	require.NotNil(t, reports.saved)
	assert.Equal(t, models.FinalReportStatusReturned, reports.saved.Status)

	// the returned report accepts a fresh submission cycle
	store.assignment = reopened
	reports.report = reports.saved
	report, err := svc.SubmitFinalReport(context.Background(), "assignment-1",
		dto.SubmitFinalReportRequest{ReportText: "revised scope"}, assigneeClaims())
	require.NoError(t, err)
	assert.Equal(t, models.FinalReportStatusSubmitted, report.Status)
	assert.Equal(t, models.AssignmentStatusUnderReview, reports.savedParent.Status)
}

func TestReopenRejectsOpenAssignment(t *testing.T) {
	store := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusInProgress)}
	svc, _ := newAssignmentFixture(store, &stubActivityCounts{}, &stubReportStore{}, &stubUserReader{})

	_, err := svc.Reopen(context.Background(), "assignment-1", managerClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestUpdateProgressManualModeOnly(t *testing.T) {
	store := &stubAssignmentStore{assignment: testAssignment(models.AssignmentStatusInProgress)}
	svc, _ := newAssignmentFixture(store, &stubActivityCounts{}, &stubReportStore{}, &stubUserReader{})

	_, err := svc.UpdateProgress(context.Background(), "assignment-1",
		dto.UpdateProgressRequest{Progress: 40}, managerClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestUpdateProgressManualMode(t *testing.T) {
	assignment := testAssignment(models.AssignmentStatusInProgress)
	assignment.ManualProgress = true
	store := &stubAssignmentStore{assignment: assignment}
	svc, _ := newAssignmentFixture(store, &stubActivityCounts{}, &stubReportStore{}, &stubUserReader{})

	updated, err := svc.UpdateProgress(context.Background(), "assignment-1",
		dto.UpdateProgressRequest{Progress: 40}, managerClaims())
	require.NoError(t, err)
	assert.Equal(t, 40, updated.Progress)

	require.Len(t, store.audits, 1)
	assert.Equal(t, models.AuditActionProgressManualUpdated, store.audits[0].Action)
}

func TestVersionConflictMapsToConflict(t *testing.T) {
	assignment := testAssignment(models.AssignmentStatusInProgress)
	assignment.ManualProgress = true
	store := &stubAssignmentStore{assignment: assignment, updateErr: repository.ErrVersionConflict}
	svc, _ := newAssignmentFixture(store, &stubActivityCounts{}, &stubReportStore{}, &stubUserReader{})

	_, err := svc.UpdateProgress(context.Background(), "assignment-1",
		dto.UpdateProgressRequest{Progress: 10}, managerClaims())
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestGetAssignmentNotFound(t *testing.T) {
	svc, _ := newAssignmentFixture(&stubAssignmentStore{}, &stubActivityCounts{}, &stubReportStore{}, &stubUserReader{})

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
