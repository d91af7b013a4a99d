package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/taskdesk/taskdesk-api/internal/service"
	"github.com/taskdesk/taskdesk-api/pkg/response"
)

// DashboardHandler exposes the workflow overview.
type DashboardHandler struct {
	dashboard *service.DashboardService
	metrics   *service.MetricsService
}

// NewDashboardHandler constructs DashboardHandler.
func NewDashboardHandler(dashboard *service.DashboardService, metrics *service.MetricsService) *DashboardHandler {
	return &DashboardHandler{dashboard: dashboard, metrics: metrics}
}

// Workflow godoc
// @Summary Workflow dashboard summary
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard/workflow [get]
func (h *DashboardHandler) Workflow(c *gin.Context) {
	summary, cached, err := h.dashboard.Workflow(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	if h.metrics != nil {
		h.metrics.SetOverdueCount(summary.OverdueCount)
	}
	response.JSON(c, http.StatusOK, summary, nil, map[string]interface{}{"cached": cached})
}
