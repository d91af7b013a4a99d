package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/taskdesk/taskdesk-api/internal/dto"
	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/internal/repository"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
)

type assignmentStore interface {
	Create(ctx context.Context, assignment *models.Assignment, audit *models.AssignmentAuditLog) error
	GetByID(ctx context.Context, id string) (*models.Assignment, error)
	List(ctx context.Context, filter models.AssignmentFilter) ([]models.Assignment, int, error)
	Update(ctx context.Context, assignment *models.Assignment, audits ...*models.AssignmentAuditLog) error
	Delete(ctx context.Context, id string, audit *models.AssignmentAuditLog) error
}

type activityReader interface {
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.AssignmentActivity, error)
	CountByStatus(ctx context.Context, assignmentID string) (total, completed int, err error)
}

type finalReportStore interface {
	GetByAssignment(ctx context.Context, assignmentID string) (*models.AssignmentFinalReport, error)
	Save(ctx context.Context, report *models.AssignmentFinalReport, parent *models.Assignment, audits ...*models.AssignmentAuditLog) error
}

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// AssignmentService is the lifecycle controller: the only component that
// mutates the assignment aggregate. Checklist and final-report transitions
// funnel through it or through the activity service it collaborates with.
type AssignmentService struct {
	assignments assignmentStore
	activities  activityReader
	reports     finalReportStore
	users       userReader
	progress    *ProgressCalculator
	notifier    Notifier
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewAssignmentService constructs the service.
func NewAssignmentService(
	assignments assignmentStore,
	activities activityReader,
	reports finalReportStore,
	users userReader,
	progress *ProgressCalculator,
	notifier Notifier,
	validate *validator.Validate,
	logger *zap.Logger,
) *AssignmentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	registerWorkflowValidations(validate)
	return &AssignmentService{
		assignments: assignments,
		activities:  activities,
		reports:     reports,
		users:       users,
		progress:    progress,
		notifier:    notifier,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func registerWorkflowValidations(validate *validator.Validate) {
	_ = validate.RegisterValidation("priority", func(fl validator.FieldLevel) bool {
		switch models.AssignmentPriority(strings.ToUpper(fl.Field().String())) {
		case models.AssignmentPriorityLow, models.AssignmentPriorityMedium, models.AssignmentPriorityHigh, models.AssignmentPriorityUrgent:
			return true
		default:
			return false
		}
	})
	_ = validate.RegisterValidation("evidencekind", func(fl validator.FieldLevel) bool {
		switch models.EvidenceKind(strings.ToUpper(fl.Field().String())) {
		case models.EvidenceKindFile, models.EvidenceKindReport:
			return true
		default:
			return false
		}
	})
}

// Create opens a new assignment in PENDING with zero progress.
func (s *AssignmentService) Create(ctx context.Context, req dto.CreateAssignmentRequest, actor *models.JWTClaims) (*models.Assignment, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	if !req.DueDate.After(s.now()) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "due date must be in the future")
	}

	assignee, err := s.users.FindByID(ctx, req.AssigneeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignee not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignee")
	}
	if !assignee.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "assignee is inactive")
	}

	assignment := &models.Assignment{
		Title:          strings.TrimSpace(req.Title),
		Description:    req.Description,
		Priority:       models.AssignmentPriority(strings.ToUpper(req.Priority)),
		Status:         models.AssignmentStatusPending,
		DueDate:        req.DueDate.UTC(),
		Progress:       0,
		AssigneeID:     assignee.ID,
		AssignerID:     actor.UserID,
		ManualProgress: req.ManualProgress,
	}

	audit := s.auditEntry(assignment.ID, actor.UserID, models.AuditActionAssignmentCreated,
		fmt.Sprintf("assignment %q created for %s", assignment.Title, assignee.FullName),
		map[string]interface{}{"assignee_id": assignee.ID, "due_date": assignment.DueDate, "priority": assignment.Priority})

	if err := s.assignments.Create(ctx, assignment, audit); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create assignment")
	}

	s.notifier.Notify(ctx, NotificationEvent{
		Action:       models.AuditActionAssignmentCreated,
		AssignmentID: assignment.ID,
		ActorID:      actor.UserID,
		RecipientID:  assignee.ID,
		Message:      fmt.Sprintf("you have been assigned %q", assignment.Title),
	})
	return assignment, nil
}

// Get returns the aggregate read model with derived display fields.
func (s *AssignmentService) Get(ctx context.Context, id string) (*dto.AssignmentDetail, error) {
	assignment, err := s.loadAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	activities, err := s.activities.ListByAssignment(ctx, id)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list activities")
	}
	report, err := s.loadReport(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return &dto.AssignmentDetail{
		Assignment:    *assignment,
		Activities:    activities,
		FinalReport:   report,
		IsOverdue:     assignment.IsOverdue(now),
		DaysRemaining: assignment.DaysRemaining(now),
	}, nil
}

// List returns assignments matching the query.
func (s *AssignmentService) List(ctx context.Context, query dto.AssignmentQuery) ([]models.Assignment, *models.Pagination, error) {
	filter := models.AssignmentFilter{
		Status:     query.Status,
		Priority:   query.Priority,
		AssigneeID: query.AssigneeID,
		AssignerID: query.AssignerID,
		Overdue:    query.Overdue,
		Search:     query.Search,
		Page:       query.Page,
		PageSize:   query.PageSize,
	}
	assignments, total, err := s.assignments.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list assignments")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	return assignments, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Update edits mutable fields of a non-terminal assignment.
func (s *AssignmentService) Update(ctx context.Context, id string, req dto.UpdateAssignmentRequest, actor *models.JWTClaims) (*models.Assignment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid assignment payload")
	}
	assignment, err := s.loadAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if assignment.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assignment is closed")
	}

	changes := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "title must not be blank")
		}
		assignment.Title = title
		changes["title"] = title
	}
	if req.Description != nil {
		assignment.Description = *req.Description
		changes["description"] = *req.Description
	}
	if req.Priority != nil {
		assignment.Priority = models.AssignmentPriority(strings.ToUpper(*req.Priority))
		changes["priority"] = assignment.Priority
	}
	if req.DueDate != nil {
		if !req.DueDate.After(s.now()) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "due date must be in the future")
		}
		assignment.DueDate = req.DueDate.UTC()
		changes["due_date"] = assignment.DueDate
	}
	if req.ManualProgress != nil {
		assignment.ManualProgress = *req.ManualProgress
		changes["manual_progress"] = *req.ManualProgress
	}
	if len(changes) == 0 {
		return assignment, nil
	}

	audit := s.auditEntry(assignment.ID, actor.UserID, models.AuditActionAssignmentUpdated, "assignment details updated", changes)
	if err := s.saveAssignment(ctx, assignment, audit); err != nil {
		return nil, err
	}
	return assignment, nil
}

// UpdateProgress sets an operator-supplied progress value. Rejected while
// automatic progress mode is active.
func (s *AssignmentService) UpdateProgress(ctx context.Context, id string, req dto.UpdateProgressRequest, actor *models.JWTClaims) (*models.Assignment, error) {
	if req.Progress < 0 || req.Progress > 100 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "progress must be between 0 and 100")
	}
	assignment, err := s.loadAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if assignment.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assignment is closed")
	}
	if !assignment.ManualProgress {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "automatic progress mode is active")
	}

	previous := assignment.Progress
	assignment.Progress = req.Progress
	audit := s.auditEntry(assignment.ID, actor.UserID, models.AuditActionProgressManualUpdated,
		fmt.Sprintf("progress set to %d%%", req.Progress),
		map[string]interface{}{"from": previous, "to": req.Progress})
	if err := s.saveAssignment(ctx, assignment, audit); err != nil {
		return nil, err
	}
	return assignment, nil
}

// SubmitFinalReport records the assignee's terminal submission and moves
// the assignment under review. Only one live submission cycle is allowed;
// a RETURNED report may be overwritten.
func (s *AssignmentService) SubmitFinalReport(ctx context.Context, id string, req dto.SubmitFinalReportRequest, actor *models.JWTClaims) (*models.AssignmentFinalReport, error) {
	if strings.TrimSpace(req.ReportText) == "" && strings.TrimSpace(req.ReportFile) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "final report requires text or a file")
	}
	assignment, err := s.loadAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor == nil || actor.UserID != assignment.AssigneeID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the assignee may submit the final report")
	}
	if assignment.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assignment is closed")
	}

	report, err := s.loadReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if report != nil && report.Status != models.FinalReportStatusReturned {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "a final report is already awaiting review")
	}

	now := s.now()
	if report == nil {
		report = &models.AssignmentFinalReport{AssignmentID: assignment.ID}
	}
	report.Status = models.FinalReportStatusSubmitted
	report.SubmittedBy = actor.UserID
	report.SubmittedAt = now
	report.ReportText = optionalString(req.ReportText)
	report.ReportFile = optionalString(req.ReportFile)
	report.ReviewerComment = nil
	report.ReviewedBy = nil
	report.ReviewedAt = nil

	previousStatus := assignment.Status
	assignment.Status = models.AssignmentStatusUnderReview
	assignment.ReviewStartedAt = &now

	audits := []*models.AssignmentAuditLog{
		s.auditEntry(assignment.ID, actor.UserID, models.AuditActionFinalReportSubmitted, "final report submitted",
			map[string]interface{}{"from_status": previousStatus, "has_file": report.ReportFile != nil}),
	}
	audits = append(audits, s.recomputeProgress(ctx, assignment, report)...)

	if err := s.reports.Save(ctx, report, assignment, audits...); err != nil {
		return nil, s.storeError(err, "failed to save final report")
	}

	s.notifier.Notify(ctx, NotificationEvent{
		Action:       models.AuditActionFinalReportSubmitted,
		AssignmentID: assignment.ID,
		ActorID:      actor.UserID,
		RecipientID:  assignment.AssignerID,
		Message:      fmt.Sprintf("final report submitted for %q", assignment.Title),
	})
	return report, nil
}

// Approve accepts the submitted final report and completes the assignment.
func (s *AssignmentService) Approve(ctx context.Context, id string, actor *models.JWTClaims) (*models.Assignment, error) {
	assignment, err := s.loadAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if assignment.Status != models.AssignmentStatusUnderReview {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assignment is not under review")
	}
	report, err := s.loadReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if report == nil || report.Status != models.FinalReportStatusSubmitted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "no submitted final report to approve")
	}

	now := s.now()
	report.Status = models.FinalReportStatusApproved
	report.ReviewedBy = &actor.UserID
	report.ReviewedAt = &now

	assignment.Status = models.AssignmentStatusCompleted
	assignment.Progress = 100
	assignment.CompletedDate = &now
	assignment.ApprovedAt = &now

	audit := s.auditEntry(assignment.ID, actor.UserID, models.AuditActionAssignmentApproved, "final report approved, assignment completed",
		map[string]interface{}{"completed_date": now})
	if err := s.reports.Save(ctx, report, assignment, audit); err != nil {
		return nil, s.storeError(err, "failed to approve assignment")
	}

	s.notifier.Notify(ctx, NotificationEvent{
		Action:       models.AuditActionAssignmentApproved,
		AssignmentID: assignment.ID,
		ActorID:      actor.UserID,
		RecipientID:  assignment.AssigneeID,
		Message:      fmt.Sprintf("assignment %q approved", assignment.Title),
	})
	return assignment, nil
}

// Reject records the reviewer's rejection. With return_for_rework the
// report is returned and the assignment goes back to IN_PROGRESS;
// otherwise the assignment is cancelled outright.
func (s *AssignmentService) Reject(ctx context.Context, id string, req dto.RejectAssignmentRequest, actor *models.JWTClaims) (*models.Assignment, error) {
	if strings.TrimSpace(req.Comments) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "reviewer comments are required")
	}
	assignment, err := s.loadAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if assignment.Status != models.AssignmentStatusUnderReview {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assignment is not under review")
	}
	report, err := s.loadReport(ctx, id)
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "no final report to reject")
	}

	now := s.now()
	report.ReviewerComment = optionalString(req.Comments)
	report.ReviewedBy = &actor.UserID
	report.ReviewedAt = &now

	var audits []*models.AssignmentAuditLog
	var action models.AuditAction
	if req.ReturnForRework {
		action = models.AuditActionAssignmentReturned
		report.Status = models.FinalReportStatusReturned
		assignment.Status = models.AssignmentStatusInProgress
		assignment.ReviewStartedAt = nil
		audits = append(audits, s.auditEntry(assignment.ID, actor.UserID, action, "final report returned for rework",
			map[string]interface{}{"comments": req.Comments}))
		audits = append(audits, s.recomputeProgress(ctx, assignment, report)...)
	} else {
		action = models.AuditActionAssignmentRejected
		assignment.Status = models.AssignmentStatusCancelled
		assignment.RejectedAt = &now
		audits = append(audits, s.auditEntry(assignment.ID, actor.UserID, action, "final report rejected, assignment cancelled",
			map[string]interface{}{"comments": req.Comments}))
	}

	if err := s.reports.Save(ctx, report, assignment, audits...); err != nil {
		return nil, s.storeError(err, "failed to reject assignment")
	}

	s.notifier.Notify(ctx, NotificationEvent{
		Action:       action,
		AssignmentID: assignment.ID,
		ActorID:      actor.UserID,
		RecipientID:  assignment.AssigneeID,
		Message:      fmt.Sprintf("assignment %q: %s", assignment.Title, req.Comments),
	})
	return assignment, nil
}

// Reopen reverts a closed assignment to IN_PROGRESS. Historical activities
// and the final report are kept; any prior report is returned so it can
// be resubmitted.
func (s *AssignmentService) Reopen(ctx context.Context, id string, actor *models.JWTClaims) (*models.Assignment, error) {
	assignment, err := s.loadAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !assignment.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only completed or cancelled assignments can be reopened")
	}

	previousStatus := assignment.Status
	assignment.Status = models.AssignmentStatusInProgress
	assignment.CompletedDate = nil
	assignment.ApprovedAt = nil
	assignment.RejectedAt = nil
	assignment.ReviewStartedAt = nil

	report, err := s.loadReport(ctx, id)
	if err != nil {
		return nil, err
	}
	// a SUBMITTED report would block resubmission forever: the assignment is
	// no longer UNDER_REVIEW, so the review cycle could never restart
	if report != nil && report.Status != models.FinalReportStatusReturned {
		report.Status = models.FinalReportStatusReturned
	}

	audits := []*models.AssignmentAuditLog{
		s.auditEntry(assignment.ID, actor.UserID, models.AuditActionAssignmentReopened, "assignment reopened",
			map[string]interface{}{"from_status": previousStatus}),
	}
	audits = append(audits, s.recomputeProgress(ctx, assignment, report)...)

	if report != nil {
		err = s.reports.Save(ctx, report, assignment, audits...)
	} else {
		err = s.assignments.Update(ctx, assignment, audits...)
	}
	if err != nil {
		return nil, s.storeError(err, "failed to reopen assignment")
	}

	s.notifier.Notify(ctx, NotificationEvent{
		Action:       models.AuditActionAssignmentReopened,
		AssignmentID: assignment.ID,
		ActorID:      actor.UserID,
		RecipientID:  assignment.AssigneeID,
		Message:      fmt.Sprintf("assignment %q reopened", assignment.Title),
	})
	return assignment, nil
}

// Delete hard-removes the assignment and its children. Audit rows are
// retained for compliance.
func (s *AssignmentService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	assignment, err := s.loadAssignment(ctx, id)
	if err != nil {
		return err
	}
	audit := s.auditEntry(assignment.ID, actor.UserID, models.AuditActionAssignmentDeleted,
		fmt.Sprintf("assignment %q deleted", assignment.Title), nil)
	if err := s.assignments.Delete(ctx, id, audit); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete assignment")
	}
	return nil
}

// recomputeProgress refreshes automatic progress from the checklist and
// report state. It returns the PROGRESS_AUTO_UPDATED audit entry when the
// stored value changed, or nothing at all.
func (s *AssignmentService) recomputeProgress(ctx context.Context, assignment *models.Assignment, report *models.AssignmentFinalReport) []*models.AssignmentAuditLog {
	if assignment.ManualProgress {
		return nil
	}
	total, completed, err := s.activities.CountByStatus(ctx, assignment.ID)
	if err != nil {
		s.logger.Warn("failed to count activities for progress", zap.String("assignment_id", assignment.ID), zap.Error(err))
		return nil
	}
	computed := s.progress.Compute(total, completed, report)
	if computed == assignment.Progress {
		return nil
	}
	previous := assignment.Progress
	assignment.Progress = computed
	return []*models.AssignmentAuditLog{
		s.auditEntry(assignment.ID, assignment.AssigneeID, models.AuditActionProgressAutoUpdated,
			fmt.Sprintf("progress recomputed to %d%%", computed),
			map[string]interface{}{"from": previous, "to": computed, "total": total, "completed": completed}),
	}
}

func (s *AssignmentService) loadAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	assignment, err := s.assignments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	return assignment, nil
}

func (s *AssignmentService) loadReport(ctx context.Context, assignmentID string) (*models.AssignmentFinalReport, error) {
	report, err := s.reports.GetByAssignment(ctx, assignmentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load final report")
	}
	return report, nil
}

func (s *AssignmentService) saveAssignment(ctx context.Context, assignment *models.Assignment, audits ...*models.AssignmentAuditLog) error {
	if err := s.assignments.Update(ctx, assignment, audits...); err != nil {
		return s.storeError(err, "failed to save assignment")
	}
	return nil
}

func (s *AssignmentService) storeError(err error, message string) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		return appErrors.Clone(appErrors.ErrConflict, "assignment was modified concurrently, reload and retry")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *AssignmentService) auditEntry(assignmentID, actorID string, action models.AuditAction, description string, metadata map[string]interface{}) *models.AssignmentAuditLog {
	entry := &models.AssignmentAuditLog{
		AssignmentID: assignmentID,
		ActorID:      actorID,
		Action:       action,
		Description:  description,
		CreatedAt:    s.now(),
	}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			entry.Metadata = raw
		}
	}
	return entry
}

func optionalString(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
