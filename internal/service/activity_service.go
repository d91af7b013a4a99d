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

type activityStore interface {
	ListByAssignment(ctx context.Context, assignmentID string) ([]models.AssignmentActivity, error)
	GetByID(ctx context.Context, assignmentID, activityID string) (*models.AssignmentActivity, error)
	NextOrderIndex(ctx context.Context, assignmentID string) (int, error)
	Create(ctx context.Context, activity *models.AssignmentActivity, parent *models.Assignment, audits ...*models.AssignmentAuditLog) error
	Save(ctx context.Context, activity *models.AssignmentActivity, parent *models.Assignment, audits ...*models.AssignmentAuditLog) error
	CountByStatus(ctx context.Context, assignmentID string) (total, completed int, err error)
}

type assignmentReader interface {
	GetByID(ctx context.Context, id string) (*models.Assignment, error)
}

type finalReportReader interface {
	GetByAssignment(ctx context.Context, assignmentID string) (*models.AssignmentFinalReport, error)
}

// ActivityService manages the checklist under an assignment: item CRUD,
// evidence submission, and the complete/reopen lock cycle.
type ActivityService struct {
	activities  activityStore
	assignments assignmentReader
	reports     finalReportReader
	progress    *ProgressCalculator
	notifier    Notifier
	validator   *validator.Validate
	logger      *zap.Logger
	now         func() time.Time
}

// NewActivityService constructs the service.
func NewActivityService(
	activities activityStore,
	assignments assignmentReader,
	reports finalReportReader,
	progress *ProgressCalculator,
	notifier Notifier,
	validate *validator.Validate,
	logger *zap.Logger,
) *ActivityService {
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
	return &ActivityService{
		activities:  activities,
		assignments: assignments,
		reports:     reports,
		progress:    progress,
		notifier:    notifier,
		validator:   validate,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Create adds a checklist item to an open assignment.
func (s *ActivityService) Create(ctx context.Context, assignmentID string, req dto.CreateActivityRequest, actor *models.JWTClaims) (*models.AssignmentActivity, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid activity payload")
	}
	assignment, err := s.openAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}

	orderIndex := 0
	if req.OrderIndex != nil {
		orderIndex = *req.OrderIndex
	} else {
		orderIndex, err = s.activities.NextOrderIndex(ctx, assignmentID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to place activity")
		}
	}

	activity := &models.AssignmentActivity{
		AssignmentID: assignmentID,
		Title:        strings.TrimSpace(req.Title),
		Description:  req.Description,
		Status:       models.ActivityStatusPending,
		EvidenceKind: models.EvidenceKind(strings.ToUpper(req.EvidenceKind)),
		OrderIndex:   orderIndex,
	}

	audits := []*models.AssignmentAuditLog{
		s.auditEntry(assignmentID, actor.UserID, models.AuditActionActivityAdded,
			fmt.Sprintf("activity %q added", activity.Title),
			map[string]interface{}{"evidence_kind": activity.EvidenceKind, "order_index": orderIndex}),
	}
	// a new pending item widens the checklist, so the automatic value drops
	audits = append(audits, s.recomputeWithDelta(ctx, assignment, 1, 0)...)

	if err := s.activities.Create(ctx, activity, assignment, audits...); err != nil {
		return nil, s.storeError(err, "failed to create activity")
	}
	return activity, nil
}

// Update edits an unlocked item on an open assignment.
func (s *ActivityService) Update(ctx context.Context, assignmentID, activityID string, req dto.UpdateActivityRequest, actor *models.JWTClaims) (*models.AssignmentActivity, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid activity payload")
	}
	assignment, err := s.openAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	activity, err := s.loadActivity(ctx, assignmentID, activityID)
	if err != nil {
		return nil, err
	}
	if activity.Locked {
		return nil, appErrors.Clone(appErrors.ErrLocked, "completed activity is locked")
	}

	changes := map[string]interface{}{}
	if req.Title != nil {
		title := strings.TrimSpace(*req.Title)
		if title == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "title must not be blank")
		}
		activity.Title = title
		changes["title"] = title
	}
	if req.Description != nil {
		activity.Description = *req.Description
		changes["description"] = *req.Description
	}
	if req.OrderIndex != nil {
		activity.OrderIndex = *req.OrderIndex
		changes["order_index"] = *req.OrderIndex
	}
	if len(changes) == 0 {
		return activity, nil
	}

	audit := s.auditEntry(assignmentID, actor.UserID, models.AuditActionActivityUpdated,
		fmt.Sprintf("activity %q updated", activity.Title), changes)
	if err := s.activities.Save(ctx, activity, assignment, audit); err != nil {
		return nil, s.storeError(err, "failed to save activity")
	}
	return activity, nil
}

// SubmitEvidence attaches proof-of-work matching the item's declared kind.
// Locked items and closed assignments are rejected.
func (s *ActivityService) SubmitEvidence(ctx context.Context, assignmentID, activityID string, req dto.SubmitEvidenceRequest, actor *models.JWTClaims) (*models.AssignmentActivity, error) {
	assignment, err := s.openAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	activity, err := s.loadActivity(ctx, assignmentID, activityID)
	if err != nil {
		return nil, err
	}
	if activity.Locked {
		return nil, appErrors.Clone(appErrors.ErrLocked, "completed activity is locked")
	}

	fileRef := strings.TrimSpace(req.FileRef)
	reportText := strings.TrimSpace(req.ReportText)
	switch activity.EvidenceKind {
	case models.EvidenceKindFile:
		if fileRef == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "activity requires file evidence")
		}
		if reportText != "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "activity accepts file evidence only")
		}
		activity.EvidenceFile = &fileRef
		activity.EvidenceReport = nil
	case models.EvidenceKindReport:
		if reportText == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "activity requires report evidence")
		}
		if fileRef != "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "activity accepts report evidence only")
		}
		activity.EvidenceReport = &reportText
		activity.EvidenceFile = nil
	default:
		return nil, appErrors.Clone(appErrors.ErrInternal, "activity has no evidence kind")
	}

	now := s.now()
	activity.EvidenceSubmitted = true
	activity.SubmittedBy = &actor.UserID
	activity.SubmittedAt = &now

	audit := s.auditEntry(assignmentID, actor.UserID, models.AuditActionEvidenceSubmitted,
		fmt.Sprintf("evidence submitted for %q", activity.Title),
		map[string]interface{}{"evidence_kind": activity.EvidenceKind})
	if err := s.activities.Save(ctx, activity, assignment, audit); err != nil {
		return nil, s.storeError(err, "failed to save evidence")
	}
	return activity, nil
}

// Complete marks an item done and locks it. Evidence must have been
// submitted first. The first completion moves a PENDING assignment to
// IN_PROGRESS.
func (s *ActivityService) Complete(ctx context.Context, assignmentID, activityID string, req dto.CompleteActivityRequest, actor *models.JWTClaims) (*models.AssignmentActivity, error) {
	assignment, err := s.openAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	activity, err := s.loadActivity(ctx, assignmentID, activityID)
	if err != nil {
		return nil, err
	}
	if activity.Status == models.ActivityStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "activity is already completed")
	}
	if !activity.EvidenceSubmitted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "evidence must be submitted before completion")
	}

	now := s.now()
	activity.Status = models.ActivityStatusCompleted
	activity.Locked = true
	activity.CompletedBy = &actor.UserID
	activity.CompletedAt = &now
	if note := strings.TrimSpace(req.ClosingReport); note != "" && activity.EvidenceKind == models.EvidenceKindReport {
		activity.EvidenceReport = &note
	}

	audits := []*models.AssignmentAuditLog{
		s.auditEntry(assignmentID, actor.UserID, models.AuditActionActivityCompleted,
			fmt.Sprintf("activity %q completed", activity.Title), nil),
	}
	if assignment.Status == models.AssignmentStatusPending {
		assignment.Status = models.AssignmentStatusInProgress
		audits = append(audits, s.auditEntry(assignmentID, actor.UserID, models.AuditActionStatusChanged,
			"work started, assignment moved to IN_PROGRESS",
			map[string]interface{}{"from": models.AssignmentStatusPending, "to": models.AssignmentStatusInProgress}))
	}
	audits = append(audits, s.recomputeWithDelta(ctx, assignment, 0, 1)...)

	if err := s.activities.Save(ctx, activity, assignment, audits...); err != nil {
		return nil, s.storeError(err, "failed to complete activity")
	}

	s.notifier.Notify(ctx, NotificationEvent{
		Action:       models.AuditActionActivityCompleted,
		AssignmentID: assignmentID,
		ActorID:      actor.UserID,
		RecipientID:  assignment.AssignerID,
		Message:      fmt.Sprintf("activity %q completed on %q", activity.Title, assignment.Title),
	})
	return activity, nil
}

// Reopen unlocks a completed item so its evidence can be revised. Prior
// evidence is retained until resubmitted.
func (s *ActivityService) Reopen(ctx context.Context, assignmentID, activityID string, actor *models.JWTClaims) (*models.AssignmentActivity, error) {
	assignment, err := s.openAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	activity, err := s.loadActivity(ctx, assignmentID, activityID)
	if err != nil {
		return nil, err
	}
	if activity.Status != models.ActivityStatusCompleted {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "only completed activities can be reopened")
	}

	activity.Status = models.ActivityStatusReopened
	activity.Locked = false
	activity.CompletedBy = nil
	activity.CompletedAt = nil

	audits := []*models.AssignmentAuditLog{
		s.auditEntry(assignmentID, actor.UserID, models.AuditActionActivityReopened,
			fmt.Sprintf("activity %q reopened", activity.Title), nil),
	}
	audits = append(audits, s.recomputeWithDelta(ctx, assignment, 0, -1)...)

	if err := s.activities.Save(ctx, activity, assignment, audits...); err != nil {
		return nil, s.storeError(err, "failed to reopen activity")
	}
	return activity, nil
}

// recomputeWithDelta refreshes the automatic progress value using current
// checklist counts adjusted by the not-yet-committed mutation.
func (s *ActivityService) recomputeWithDelta(ctx context.Context, assignment *models.Assignment, totalDelta, completedDelta int) []*models.AssignmentAuditLog {
	if assignment.ManualProgress {
		return nil
	}
	total, completed, err := s.activities.CountByStatus(ctx, assignment.ID)
	if err != nil {
		s.logger.Warn("failed to count activities for progress", zap.String("assignment_id", assignment.ID), zap.Error(err))
		return nil
	}
	total += totalDelta
	completed += completedDelta
	if completed < 0 {
		completed = 0
	}

	report, err := s.reports.GetByAssignment(ctx, assignment.ID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		s.logger.Warn("failed to load final report for progress", zap.String("assignment_id", assignment.ID), zap.Error(err))
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

func (s *ActivityService) openAssignment(ctx context.Context, id string) (*models.Assignment, error) {
	assignment, err := s.assignments.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "assignment not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load assignment")
	}
	if assignment.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assignment is closed")
	}
	if assignment.Status == models.AssignmentStatusUnderReview {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "assignment is under review")
	}
	return assignment, nil
}

func (s *ActivityService) loadActivity(ctx context.Context, assignmentID, activityID string) (*models.AssignmentActivity, error) {
	activity, err := s.activities.GetByID(ctx, assignmentID, activityID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "activity not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load activity")
	}
	return activity, nil
}

func (s *ActivityService) storeError(err error, message string) error {
	if errors.Is(err, repository.ErrVersionConflict) {
		return appErrors.Clone(appErrors.ErrConflict, "assignment was modified concurrently, reload and retry")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

func (s *ActivityService) auditEntry(assignmentID, actorID string, action models.AuditAction, description string, metadata map[string]interface{}) *models.AssignmentAuditLog {
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
