package handler

import (
	"net/http"
	"strconv"

	"devicefarm/pkg/events"
	"devicefarm/pkg/registry"

	"github.com/gin-gonic/gin"
)

// StatusHandler answers liveness probes and streams device events
type StatusHandler struct {
	repo registry.Repository
	hub  *events.Hub
	role string
	jobs func() []string
}

// NewStatusHandler creates a new status handler. jobs reports the running duties and may be nil.
func NewStatusHandler(repo registry.Repository, hub *events.Hub, role string, jobs func() []string) *StatusHandler {
	return &StatusHandler{repo: repo, hub: hub, role: role, jobs: jobs}
}

// Status is the liveness endpoint probed by the hub and by nodes
// @Router /device-farm/api/status [get]
func (h *StatusHandler) Status(c *gin.Context) {
	resp := gin.H{
		"status":  "ok",
		"role":    h.role,
		"devices": len(h.repo.Snapshot()),
		"busy":    h.repo.BusyCount(),
	}
	if h.jobs != nil {
		resp["jobs"] = h.jobs()
	}
	c.JSON(http.StatusOK, resp)
}

// StreamEvents upgrades to a websocket that receives every device event
// @Router /device-farm/api/events [get]
func (h *StatusHandler) StreamEvents(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}

// RecentEvents returns the most recent device events, oldest first
// @Param limit query int false "Maximum number of events (default 50)"
// @Router /device-farm/api/events/recent [get]
func (h *StatusHandler) RecentEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	c.JSON(http.StatusOK, h.hub.Recent(limit))
}
