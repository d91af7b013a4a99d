package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taskdesk/taskdesk-api/internal/dto"
	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/pkg/config"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
)

type workflowSummaryRepository interface {
	StatusCounts(ctx context.Context) (map[models.AssignmentStatus]int, error)
	CountOverdue(ctx context.Context, reference time.Time) (int, error)
	ListDueSoon(ctx context.Context, reference time.Time, window time.Duration, limit int) ([]models.Assignment, error)
}

const workflowSummaryCacheKey = "dash:workflow"

// DashboardService composes the workflow overview payload and caches it.
type DashboardService struct {
	assignments   workflowSummaryRepository
	cache         *CacheService
	metrics       *MetricsService
	logger        *zap.Logger
	now           func() time.Time
	cacheTTL      time.Duration
	dueSoonWindow time.Duration
	dueSoonLimit  int
}

// NewDashboardService constructs the service with sane defaults.
func NewDashboardService(assignments workflowSummaryRepository, cache *CacheService, metrics *MetricsService, workflow config.WorkflowConfig, dashboard config.DashboardConfig, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	cacheTTL := dashboard.CacheTTL
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	dueSoonWindow := workflow.DueSoonWindow
	if dueSoonWindow <= 0 {
		dueSoonWindow = 72 * time.Hour
	}
	return &DashboardService{
		assignments:   assignments,
		cache:         cache,
		metrics:       metrics,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		cacheTTL:      cacheTTL,
		dueSoonWindow: dueSoonWindow,
		dueSoonLimit:  10,
	}
}

// Workflow returns the workflow summary and indicates cache utilisation.
func (s *DashboardService) Workflow(ctx context.Context) (*dto.WorkflowSummary, bool, error) {
	if s.cache != nil {
		var cached dto.WorkflowSummary
		hit, err := s.cache.Get(ctx, workflowSummaryCacheKey, &cached)
		if err != nil {
			return nil, false, err
		}
		if hit {
			return &cached, true, nil
		}
	}

	summary, err := s.compose(ctx)
	if err != nil {
		return nil, false, err
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, workflowSummaryCacheKey, summary, s.cacheTTL); err != nil {
			s.logger.Warn("dashboard cache write failed", zap.Error(err))
		}
	}
	return summary, false, nil
}

// Invalidate drops the cached summary. Called after workflow mutations so
// the dashboard never lags more than one cache cycle.
func (s *DashboardService) Invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, workflowSummaryCacheKey); err != nil {
		s.logger.Warn("dashboard cache invalidate failed", zap.Error(err))
	}
}

func (s *DashboardService) compose(ctx context.Context) (*dto.WorkflowSummary, error) {
	now := s.now()
	start := time.Now()
	defer func() {
		s.metrics.ObserveDBQuery("dashboard_workflow", time.Since(start))
	}()
	counts, err := s.assignments.StatusCounts(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count assignments")
	}
	overdue, err := s.assignments.CountOverdue(ctx, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count overdue assignments")
	}
	dueSoon, err := s.assignments.ListDueSoon(ctx, now, s.dueSoonWindow, s.dueSoonLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list due-soon assignments")
	}
	return &dto.WorkflowSummary{
		StatusCounts: counts,
		OverdueCount: overdue,
		DueSoon:      dueSoon,
		GeneratedAt:  now,
	}, nil
}
