package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/taskdesk/taskdesk-api/internal/dto"
	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/internal/service"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
	"github.com/taskdesk/taskdesk-api/pkg/response"
)

// ActivityHandler exposes checklist endpoints under an assignment.
type ActivityHandler struct {
	activities *service.ActivityService
	evidence   *service.EvidenceService
	dashboard  *service.DashboardService
	metrics    *service.MetricsService
}

// NewActivityHandler constructs ActivityHandler.
func NewActivityHandler(activities *service.ActivityService, evidence *service.EvidenceService, dashboard *service.DashboardService, metrics *service.MetricsService) *ActivityHandler {
	return &ActivityHandler{activities: activities, evidence: evidence, dashboard: dashboard, metrics: metrics}
}

// Create godoc
// @Summary Add checklist activity
// @Tags Activities
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param payload body dto.CreateActivityRequest true "Activity payload"
// @Success 201 {object} response.Envelope
// @Router /assignments/{id}/activities [post]
func (h *ActivityHandler) Create(c *gin.Context) {
	var req dto.CreateActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return
	}
	activity, err := h.activities.Create(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.afterMutation(c, models.AuditActionActivityAdded)
	response.Created(c, activity)
}

// Update godoc
// @Summary Update checklist activity
// @Tags Activities
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param activityId path string true "Activity ID"
// @Param payload body dto.UpdateActivityRequest true "Fields to update"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/activities/{activityId} [put]
func (h *ActivityHandler) Update(c *gin.Context) {
	var req dto.UpdateActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return
	}
	activity, err := h.activities.Update(c.Request.Context(), c.Param("id"), c.Param("activityId"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.afterMutation(c, models.AuditActionActivityUpdated)
	response.JSON(c, http.StatusOK, activity, nil)
}

// SubmitEvidence godoc
// @Summary Submit activity evidence
// @Tags Activities
// @Accept mpfd
// @Produce json
// @Param id path string true "Assignment ID"
// @Param activityId path string true "Activity ID"
// @Param file formData file false "Evidence file"
// @Param report_text formData string false "Evidence report text"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/activities/{activityId}/evidence [post]
func (h *ActivityHandler) SubmitEvidence(c *gin.Context) {
	var req dto.SubmitEvidenceRequest

	contentType := c.ContentType()
	if strings.HasPrefix(contentType, "multipart/form-data") {
		req.ReportText = c.PostForm("report_text")
		if file, err := c.FormFile("file"); err == nil && file != nil {
			src, err := file.Open()
			if err != nil {
				response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unreadable upload"))
				return
			}
			defer src.Close()
			fileRef, err := h.evidence.SaveFile(file.Filename, file.Size, src)
			if err != nil {
				response.Error(c, err)
				return
			}
			req.FileRef = fileRef
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
		return
	}

	activity, err := h.activities.SubmitEvidence(c.Request.Context(), c.Param("id"), c.Param("activityId"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.afterMutation(c, models.AuditActionEvidenceSubmitted)
	response.JSON(c, http.StatusOK, activity, nil)
}

// Complete godoc
// @Summary Complete activity
// @Tags Activities
// @Accept json
// @Produce json
// @Param id path string true "Assignment ID"
// @Param activityId path string true "Activity ID"
// @Param payload body dto.CompleteActivityRequest false "Optional closing note"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/activities/{activityId}/complete [post]
func (h *ActivityHandler) Complete(c *gin.Context) {
	var req dto.CompleteActivityRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request body"))
			return
		}
	}
	activity, err := h.activities.Complete(c.Request.Context(), c.Param("id"), c.Param("activityId"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.afterMutation(c, models.AuditActionActivityCompleted)
	response.JSON(c, http.StatusOK, activity, nil)
}

// Reopen godoc
// @Summary Reopen completed activity
// @Tags Activities
// @Produce json
// @Param id path string true "Assignment ID"
// @Param activityId path string true "Activity ID"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/activities/{activityId}/reopen [post]
func (h *ActivityHandler) Reopen(c *gin.Context) {
	activity, err := h.activities.Reopen(c.Request.Context(), c.Param("id"), c.Param("activityId"), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.afterMutation(c, models.AuditActionActivityReopened)
	response.JSON(c, http.StatusOK, activity, nil)
}

func (h *ActivityHandler) afterMutation(c *gin.Context, action models.AuditAction) {
	if h.metrics != nil {
		h.metrics.RecordTransition(action)
	}
	if h.dashboard != nil {
		h.dashboard.Invalidate(c.Request.Context())
	}
}
