package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/pkg/config"
)

func TestProgressComputeActivityBand(t *testing.T) {
	calc := NewProgressCalculator(config.WorkflowConfig{})

	assert.Equal(t, 0, calc.Compute(0, 0, nil))
	assert.Equal(t, 0, calc.Compute(4, 0, nil))
	assert.Equal(t, 17, calc.Compute(4, 1, nil))
	assert.Equal(t, 35, calc.Compute(4, 2, nil))
	assert.Equal(t, 70, calc.Compute(4, 4, nil))
	// completed is clamped to total
	assert.Equal(t, 70, calc.Compute(4, 9, nil))
}

func TestProgressComputeMonotonic(t *testing.T) {
	calc := NewProgressCalculator(config.WorkflowConfig{})
	previous := 0
	for completed := 0; completed <= 10; completed++ {
		value := calc.Compute(10, completed, nil)
		assert.GreaterOrEqual(t, value, previous)
		assert.LessOrEqual(t, value, 100)
		previous = value
	}
}

func TestProgressComputeSubmittedReportLifts(t *testing.T) {
	calc := NewProgressCalculator(config.WorkflowConfig{})
	report := &models.AssignmentFinalReport{Status: models.FinalReportStatusSubmitted}

	assert.Equal(t, 90, calc.Compute(4, 2, report))
	// with no activities at all the report alone carries the value
	assert.Equal(t, 90, calc.Compute(0, 0, report))
}

func TestProgressComputeReturnedReportDoesNotLift(t *testing.T) {
	calc := NewProgressCalculator(config.WorkflowConfig{})
	report := &models.AssignmentFinalReport{Status: models.FinalReportStatusReturned}

	assert.Equal(t, 35, calc.Compute(4, 2, report))
}

func TestProgressComputeApprovedIsAlwaysFull(t *testing.T) {
	calc := NewProgressCalculator(config.WorkflowConfig{})
	report := &models.AssignmentFinalReport{Status: models.FinalReportStatusApproved}

	assert.Equal(t, 100, calc.Compute(0, 0, report))
	assert.Equal(t, 100, calc.Compute(10, 3, report))
}

func TestProgressComputeConfiguredBands(t *testing.T) {
	calc := NewProgressCalculator(config.WorkflowConfig{ActivityBandPercent: 50, ReviewPercent: 80})

	assert.Equal(t, 25, calc.Compute(2, 1, nil))
	assert.Equal(t, 80, calc.Compute(2, 1, &models.AssignmentFinalReport{Status: models.FinalReportStatusSubmitted}))
}

func TestProgressComputeRejectsBadConfig(t *testing.T) {
	// out-of-range values fall back to the 70/90 defaults
	calc := NewProgressCalculator(config.WorkflowConfig{ActivityBandPercent: 120, ReviewPercent: 10})

	assert.Equal(t, 70, calc.Compute(1, 1, nil))
	assert.Equal(t, 90, calc.Compute(1, 1, &models.AssignmentFinalReport{Status: models.FinalReportStatusSubmitted}))
}
