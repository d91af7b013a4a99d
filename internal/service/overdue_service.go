package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskdesk/taskdesk-api/internal/dto"
	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/internal/repository"
	"github.com/taskdesk/taskdesk-api/pkg/config"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
)

type overdueStore interface {
	ListOverdueCandidates(ctx context.Context, reference time.Time) ([]models.Assignment, error)
	ListOverdueResolved(ctx context.Context, reference time.Time) ([]models.Assignment, error)
	ListDueSoonUnreminded(ctx context.Context, reference time.Time, window time.Duration) ([]models.Assignment, error)
	Update(ctx context.Context, assignment *models.Assignment, audits ...*models.AssignmentAuditLog) error
}

type auditAppender interface {
	Append(ctx context.Context, entry *models.AssignmentAuditLog) error
}

// OverdueService periodically reconciles the persisted overdue flag with
// the overdue predicate and emits deadline reminders for assignments
// approaching their due date. Flagging is idempotent: the candidate
// queries only return rows whose stored flag disagrees with the
// predicate, so a second sweep over an unchanged assignment is a no-op.
type OverdueService struct {
	assignments   overdueStore
	audits        auditAppender
	notifier      Notifier
	logger        *zap.Logger
	interval      time.Duration
	dueSoonWindow time.Duration
	now           func() time.Time
}

// NewOverdueService constructs the sweeper.
func NewOverdueService(assignments overdueStore, audits auditAppender, cfg config.WorkflowConfig, notifier Notifier, logger *zap.Logger) *OverdueService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	interval := cfg.SweepInterval
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	dueSoonWindow := cfg.DueSoonWindow
	if dueSoonWindow <= 0 {
		dueSoonWindow = 72 * time.Hour
	}
	return &OverdueService{
		assignments:   assignments,
		audits:        audits,
		notifier:      notifier,
		logger:        logger,
		interval:      interval,
		dueSoonWindow: dueSoonWindow,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Start runs the sweep on a ticker until the context is cancelled.
func (s *OverdueService) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.Sweep(ctx); err != nil {
					s.logger.Error("overdue sweep failed", zap.Error(err))
				}
			}
		}
	}()
	s.logger.Info("overdue sweeper started", zap.Duration("interval", s.interval))
}

// Sweep flags assignments that crossed their due date and clears the flag
// on assignments no longer overdue. The same function backs the ticker and
// the manual admin trigger.
func (s *OverdueService) Sweep(ctx context.Context) (*dto.SweepResult, error) {
	reference := s.now()
	result := &dto.SweepResult{}

	candidates, err := s.assignments.ListOverdueCandidates(ctx, reference)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list overdue candidates")
	}
	result.Scanned += len(candidates)
	for i := range candidates {
		assignment := &candidates[i]
		if !assignment.IsOverdue(reference) {
			continue
		}
		assignment.Overdue = true
		audit := s.auditEntry(assignment, models.AuditActionAssignmentOverdue,
			fmt.Sprintf("assignment %q is overdue", assignment.Title), reference)
		if err := s.assignments.Update(ctx, assignment, audit); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				// someone mutated the row mid-sweep; the next run settles it
				s.logger.Debug("overdue flag skipped on version conflict", zap.String("assignment_id", assignment.ID))
				continue
			}
			return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to flag overdue assignment")
		}
		result.Flagged++
		s.notifier.Notify(ctx, NotificationEvent{
			Action:       models.AuditActionAssignmentOverdue,
			AssignmentID: assignment.ID,
			ActorID:      assignment.AssignerID,
			RecipientID:  assignment.AssigneeID,
			Message:      fmt.Sprintf("assignment %q is past its due date", assignment.Title),
		})
	}

	resolved, err := s.assignments.ListOverdueResolved(ctx, reference)
	if err != nil {
		return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list resolved assignments")
	}
	result.Scanned += len(resolved)
	for i := range resolved {
		assignment := &resolved[i]
		if assignment.IsOverdue(reference) {
			continue
		}
		assignment.Overdue = false
		audit := s.auditEntry(assignment, models.AuditActionOverdueCleared,
			fmt.Sprintf("assignment %q is no longer overdue", assignment.Title), reference)
		if err := s.assignments.Update(ctx, assignment, audit); err != nil {
			if errors.Is(err, repository.ErrVersionConflict) {
				s.logger.Debug("overdue clear skipped on version conflict", zap.String("assignment_id", assignment.ID))
				continue
			}
			return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to clear overdue flag")
		}
		result.Cleared++
	}

	if s.audits != nil {
		dueSoon, err := s.assignments.ListDueSoonUnreminded(ctx, reference, s.dueSoonWindow)
		if err != nil {
			return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list due-soon assignments")
		}
		for i := range dueSoon {
			assignment := &dueSoon[i]
			audit := s.auditEntry(assignment, models.AuditActionDeadlineReminder,
				fmt.Sprintf("assignment %q is due within %s", assignment.Title, s.dueSoonWindow), reference)
			if err := s.audits.Append(ctx, audit); err != nil {
				return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record deadline reminder")
			}
			result.Reminded++
			s.notifier.Notify(ctx, NotificationEvent{
				Action:       models.AuditActionDeadlineReminder,
				AssignmentID: assignment.ID,
				ActorID:      assignment.AssignerID,
				RecipientID:  assignment.AssigneeID,
				Message:      fmt.Sprintf("assignment %q is due on %s", assignment.Title, assignment.DueDate.Format(time.RFC3339)),
			})
		}
	}

	if result.Flagged > 0 || result.Cleared > 0 || result.Reminded > 0 {
		s.logger.Info("overdue sweep finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("flagged", result.Flagged),
			zap.Int("cleared", result.Cleared),
			zap.Int("reminded", result.Reminded))
	}
	return result, nil
}

func (s *OverdueService) auditEntry(assignment *models.Assignment, action models.AuditAction, description string, reference time.Time) *models.AssignmentAuditLog {
	metadata, _ := json.Marshal(map[string]interface{}{
		"due_date": assignment.DueDate,
		"status":   assignment.Status,
	})
	return &models.AssignmentAuditLog{
		AssignmentID: assignment.ID,
		ActorID:      assignment.AssignerID,
		Action:       action,
		Description:  description,
		Metadata:     metadata,
		CreatedAt:    reference,
	}
}
