package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taskdesk/taskdesk-api/internal/service"
)

func TestMetricsSummaryReturnsSnapshot(t *testing.T) {
	gin.SetMode(gin.TestMode)
	metrics := service.NewMetricsService()
	metrics.ObserveDBQuery("dashboard_workflow", 5*time.Millisecond)
	h := NewMetricsHandler(metrics)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics/summary", nil)

	h.Summary(c)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Data struct {
			DBQueryCount uint64 `json:"db_query_count"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, uint64(1), body.Data.DBQueryCount)
}

func TestMetricsSummaryWithoutService(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewMetricsHandler(nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodGet, "/metrics/summary", nil)

	h.Summary(c)
	// Flush the status gin defers when no body is written; the engine
	// normally does this after the handler chain, but the handler is
	// invoked directly here.
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
