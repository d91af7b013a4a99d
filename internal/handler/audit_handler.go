package handler

import (
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/taskdesk/taskdesk-api/internal/dto"
	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/internal/service"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
	"github.com/taskdesk/taskdesk-api/pkg/response"
)

// AuditHandler exposes the compliance audit trail.
type AuditHandler struct {
	audits *service.AuditService
}

// NewAuditHandler constructs AuditHandler.
func NewAuditHandler(audits *service.AuditService) *AuditHandler {
	return &AuditHandler{audits: audits}
}

// ListByAssignment godoc
// @Summary Audit trail for one assignment
// @Tags Audit
// @Produce json
// @Param id path string true "Assignment ID"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /assignments/{id}/audit [get]
func (h *AuditHandler) ListByAssignment(c *gin.Context) {
	query := h.parseQuery(c)
	query.AssignmentID = c.Param("id")
	logs, pagination, err := h.audits.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// List godoc
// @Summary Audit trail across assignments
// @Tags Audit
// @Produce json
// @Param actorId query string false "Actor"
// @Param action query string false "Action kind"
// @Param from query string false "RFC3339 lower bound"
// @Param to query string false "RFC3339 upper bound"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /audit [get]
func (h *AuditHandler) List(c *gin.Context) {
	logs, pagination, err := h.audits.List(c.Request.Context(), h.parseQuery(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs, pagination)
}

// Export godoc
// @Summary Export audit trail
// @Tags Audit
// @Produce json
// @Param format query string true "csv or pdf"
// @Success 200 {object} response.Envelope
// @Router /audit/export [get]
func (h *AuditHandler) Export(c *gin.Context) {
	result, err := h.audits.Export(c.Request.Context(), h.parseQuery(c), c.Query("format"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Download godoc
// @Summary Download rendered audit export
// @Tags Audit
// @Produce octet-stream
// @Param token query string true "Signed download token"
// @Success 200 {file} binary
// @Router /audit/export/download [get]
func (h *AuditHandler) Download(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token required"))
		return
	}
	path, err := h.audits.OpenExport(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}

func (h *AuditHandler) parseQuery(c *gin.Context) dto.AuditQuery {
	var query dto.AuditQuery
	query.ActorID = c.Query("actorId")
	query.Action = models.AuditAction(strings.ToUpper(strings.TrimSpace(c.Query("action"))))
	if raw := c.Query("from"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			query.From = &ts
		}
	}
	if raw := c.Query("to"); raw != "" {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			query.To = &ts
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		query.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "100")); err == nil {
		query.PageSize = size
	}
	return query
}
