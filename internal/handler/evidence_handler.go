package handler

import (
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/taskdesk/taskdesk-api/internal/service"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
	"github.com/taskdesk/taskdesk-api/pkg/response"
)

// EvidenceHandler serves stored evidence files through signed tokens.
type EvidenceHandler struct {
	evidence *service.EvidenceService
}

// NewEvidenceHandler constructs EvidenceHandler.
func NewEvidenceHandler(evidence *service.EvidenceService) *EvidenceHandler {
	return &EvidenceHandler{evidence: evidence}
}

// Download godoc
// @Summary Download evidence file
// @Tags Activities
// @Produce octet-stream
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Router /evidence/{token} [get]
func (h *EvidenceHandler) Download(c *gin.Context) {
	token := c.Param("token")
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token required"))
		return
	}
	path, err := h.evidence.Resolve(token)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.FileAttachment(path, filepath.Base(path))
}
