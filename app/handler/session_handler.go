package handler

import (
	"errors"
	"net/http"

	"devicefarm/internal/model"
	"devicefarm/internal/service"
	"devicefarm/pkg/allocator"
	"devicefarm/pkg/filter"
	"devicefarm/pkg/logger"

	"github.com/gin-gonic/gin"
)

// SessionHandler handles session allocation
type SessionHandler struct {
	sessionService *service.SessionService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessionService *service.SessionService) *SessionHandler {
	return &SessionHandler{sessionService: sessionService}
}

// CreateSessionRequest W3C new session payload
type CreateSessionRequest struct {
	Capabilities *model.CapabilityRequest `json:"capabilities" binding:"required"`
}

// CreateSession allocates a device for the requested capabilities. The request blocks
// until a device is free or the availability timeout elapses.
// @Success 200 {object} model.Session
// @Failure 400 "Missing platform or conflicting capabilities"
// @Failure 503 "No matching device became free in time"
// @Router /device-farm/api/sessions [post]
func (h *SessionHandler) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := h.sessionService.CreateSession(c.Request.Context(), req.Capabilities)
	if err != nil {
		switch {
		case errors.Is(err, filter.ErrMissingPlatform), errors.Is(err, filter.ErrConfigurationConflict):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, allocator.ErrAllocationTimeout):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		default:
			logger.ErrorCtx(c.Request.Context(), "failed to create session: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, session)
}
