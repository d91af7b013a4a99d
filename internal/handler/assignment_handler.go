package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskdesk/taskdesk-api/internal/dto"
	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/internal/service"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
	"github.com/taskdesk/taskdesk-api/pkg/response"
)

// AssignmentHandler exposes the assignment workflow endpoints.
type AssignmentHandler struct {
	assignments *service.AssignmentService
	overdue     *service.OverdueService
	dashboard   *service.DashboardService
	metrics     *service.MetricsService
}

// NewAssignmentHandler constructs AssignmentHandler.
func NewAssignmentHandler(assignments *service.AssignmentService, overdue *service.OverdueService, dashboard *service.DashboardService, metrics *service.MetricsService) *AssignmentHandler {
	return &AssignmentHandler{assignments: assignments, overdue: overdue, dashboard: dashboard, metrics: metrics}
}

// Create godoc
// @Summary Create assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param payload body dto.CreateAssignmentRequest true "Assignment payload"
// @Success 201 {object} response.Envelope
// @Router /assignments [post]
func (h *AssignmentHandler) Create(c *gin.Context) {
	var req dto.CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return
	}
	assignment, err := h.assignments.Create(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.afterMutation(c, models.AuditActionAssignmentCreated)
	response.Created(c, assignment)
}

// List godoc
// @Summary List assignments
// @Tags Assignments
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param priority query string false "Priority"
// @Param assigneeId query string false "Assignee"
// @Param assignerId query string false "Assigner"
// @Param overdue query bool false "Overdue flag"
// @Param search query string false "Title search"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /assignments [get]
func (h *AssignmentHandler) List(c *gin.Context) {
	var query dto.AssignmentQuery
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		for _, status := range strings.Split(raw, ",") {
			query.Status = append(query.Status, models.AssignmentStatus(strings.ToUpper(strings.TrimSpace(status))))
		}
	}
	query.Priority = models.AssignmentPriority(strings.ToUpper(c.Query("priority")))
	query.AssigneeID = c.Query("assigneeId")
	query.AssignerID = c.Query("assignerId")
	if raw := c.Query("overdue"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			query.Overdue = &value
		}
	}
	query.Search = strings.TrimSpace(c.Query("search"))
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		query.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "50")); err == nil {
		query.PageSize = size
	}

	assignments, pagination, err := h.assignments.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, assignments, pagination)
}

// Get godoc
// @Summary Assignment detail
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id} [get]
func (h *AssignmentHandler) Get(c *gin.Context) {
	detail, err := h.assignments.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Update godoc
// @Summary Update assignment
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.UpdateAssignmentRequest true "Fields to update"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id} [put]
func (h *AssignmentHandler) Update(c *gin.Context) {
	var req dto.UpdateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return
	}
	assignment, err := h.assignments.Update(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.afterMutation(c, models.AuditActionAssignmentUpdated)
	response.JSON(c, http.StatusOK, assignment, nil)
}

// UpdateProgress godoc
// @Summary Set manual progress
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.UpdateProgressRequest true "Progress payload"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/progress [patch]
func (h *AssignmentHandler) UpdateProgress(c *gin.Context) {
	var req dto.UpdateProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return
	}
	assignment, err := h.assignments.UpdateProgress(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.afterMutation(c, models.AuditActionProgressManualUpdated)
	response.JSON(c, http.StatusOK, assignment, nil)
}

// SubmitFinalReport godoc
// @Summary Submit final report
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.SubmitFinalReportRequest true "Report payload"
// @Success 201 {object} response.Envelope
// @Router /assignments/{id}/final-report [post]
func (h *AssignmentHandler) SubmitFinalReport(c *gin.Context) {
	var req dto.SubmitFinalReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return
	}
	report, err := h.assignments.SubmitFinalReport(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.afterMutation(c, models.AuditActionFinalReportSubmitted)
	response.Created(c, report)
}

// Approve godoc
// @Summary Approve final report
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/approve [post]
func (h *AssignmentHandler) Approve(c *gin.Context) {
	assignment, err := h.assignments.Approve(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.afterMutation(c, models.AuditActionAssignmentApproved)
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Reject godoc
// @Summary Reject final report
// @Tags Assignments
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.RejectAssignmentRequest true "Review decision"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/reject [post]
func (h *AssignmentHandler) Reject(c *gin.Context) {
	var req dto.RejectAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return
	}
	assignment, err := h.assignments.Reject(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	action := models.AuditActionAssignmentRejected
	if req.ReturnForRework {
		action = models.AuditActionAssignmentReturned
	}
	h.afterMutation(c, action)
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Reopen godoc
// @Summary Reopen closed assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/reopen [post]
func (h *AssignmentHandler) Reopen(c *gin.Context) {
	assignment, err := h.assignments.Reopen(c.Request.Context(), c.Param("id"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.afterMutation(c, models.AuditActionAssignmentReopened)
	response.JSON(c, http.StatusOK, assignment, nil)
}

// Delete godoc
// @Summary Delete assignment
// @Tags Assignments
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 204
// @Router /assignments/{id} [delete]
func (h *AssignmentHandler) Delete(c *gin.Context) {
	if err := h.assignments.Delete(c.Request.Context(), c.Param("id"), claimsFromContext(c)); err != nil {
		response.Error(c, err)
		return
	}
	h.afterMutation(c, models.AuditActionAssignmentDeleted)
	response.NoContent(c)
}

// SweepOverdue godoc
// @Summary Run the overdue sweep now
// @Tags Assignments
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /assignments/sweep-overdue [post]
func (h *AssignmentHandler) SweepOverdue(c *gin.Context) {
	result, err := h.overdue.Sweep(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	if result.Flagged > 0 || result.Cleared > 0 {
		h.afterMutation(c, models.AuditActionAssignmentOverdue)
	}
	response.JSON(c, http.StatusOK, result, nil)
}

func (h *AssignmentHandler) afterMutation(c *gin.Context, action models.AuditAction) {
	if h.metrics != nil {
		h.metrics.RecordTransition(action)
	}
	if h.dashboard != nil {
		h.dashboard.Invalidate(c.Request.Context())
	}
}
