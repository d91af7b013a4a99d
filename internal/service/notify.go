package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/pkg/config"
	"github.com/taskdesk/taskdesk-api/pkg/jobs"
)

// NotificationEvent describes a workflow transition worth telling a user
// about. Delivery is best effort and never affects the transition itself.
type NotificationEvent struct {
	Action       models.AuditAction `json:"action"`
	AssignmentID string             `json:"assignment_id"`
	ActorID      string             `json:"actor_id"`
	RecipientID  string             `json:"recipient_id"`
	Message      string             `json:"message"`
}

// Notifier fans workflow events out to interested users.
type Notifier interface {
	Notify(ctx context.Context, event NotificationEvent)
}

// NopNotifier drops every event. Used when notifications are disabled.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, NotificationEvent) {}

// NotificationService delivers workflow events through an in-memory job
// queue so HTTP requests never wait on delivery.
type NotificationService struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationService builds the service and its backing queue.
func NewNotificationService(cfg config.NotificationsConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{logger: logger}
	s.queue = jobs.NewQueue("workflow-notifications", s.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		RetryDelay: 2 * time.Second,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify enqueues the event. A full or stopped queue is logged and dropped;
// notifications must never fail a committed transition.
func (s *NotificationService) Notify(_ context.Context, event NotificationEvent) {
	job := jobs.Job{
		ID:      fmt.Sprintf("%s:%s:%d", event.Action, event.AssignmentID, time.Now().UnixNano()),
		Type:    string(event.Action),
		Payload: event,
	}
	if err := s.queue.Enqueue(job); err != nil {
		s.logger.Warn("notification dropped",
			zap.String("action", string(event.Action)),
			zap.String("assignment_id", event.AssignmentID),
			zap.Error(err))
	}
}

// deliver is the queue handler. Delivery is a structured log line today;
// mail or chat transports can hang off the same queue later.
func (s *NotificationService) deliver(_ context.Context, job jobs.Job) error {
	event, ok := job.Payload.(NotificationEvent)
	if !ok {
		return fmt.Errorf("unexpected payload type %T", job.Payload)
	}
	s.logger.Info("workflow notification",
		zap.String("action", string(event.Action)),
		zap.String("assignment_id", event.AssignmentID),
		zap.String("recipient_id", event.RecipientID),
		zap.String("message", event.Message))
	return nil
}
