package service

import (
	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/pkg/config"
)

// ProgressCalculator derives an assignment's completion percentage when
// automatic progress is active. Completed activities fill a band below
// 100; a live final report lifts progress into the review band; only an
// approved report yields exactly 100.
type ProgressCalculator struct {
	activityBand  int
	reviewPercent int
}

// NewProgressCalculator builds a calculator from workflow config,
// falling back to the 70/90 defaults when unset.
func NewProgressCalculator(cfg config.WorkflowConfig) *ProgressCalculator {
	band := cfg.ActivityBandPercent
	if band <= 0 || band >= 100 {
		band = 70
	}
	review := cfg.ReviewPercent
	if review < band || review >= 100 {
		review = 90
	}
	return &ProgressCalculator{activityBand: band, reviewPercent: review}
}

// Compute returns the automatic progress value for the given activity
// counts and final-report state. The result is monotonically
// non-decreasing in completed for a fixed total, never exceeds 100, and
// is exactly 100 iff the report is approved.
func (p *ProgressCalculator) Compute(total, completed int, report *models.AssignmentFinalReport) int {
	if report != nil && report.Status == models.FinalReportStatusApproved {
		return 100
	}

	base := 0
	if total > 0 {
		if completed > total {
			completed = total
		}
		base = completed * p.activityBand / total
	}

	if report != nil && report.Status == models.FinalReportStatusSubmitted && p.reviewPercent > base {
		return p.reviewPercent
	}
	return base
}
