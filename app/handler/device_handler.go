package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"devicefarm/internal/model"
	"devicefarm/internal/service"
	"devicefarm/pkg/constants"
	"devicefarm/pkg/logger"
	"devicefarm/pkg/registry"
	mysqlmodel "devicefarm/pkg/store/mysql/model"

	"github.com/gin-gonic/gin"
)

// SessionHistory lists finished sessions of a device
type SessionHistory interface {
	ListSessions(ctx context.Context, udid string, limit int) ([]*mysqlmodel.DeviceSession, error)
}

// DeviceHandler handles device-related operations
type DeviceHandler struct {
	deviceService *service.DeviceService
	history       SessionHistory // nil unless sessions are persisted
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(deviceService *service.DeviceService, history SessionHistory) *DeviceHandler {
	return &DeviceHandler{
		deviceService: deviceService,
		history:       history,
	}
}

// ListDevices returns the registry, optionally restricted to one platform
// @Router /device-farm/api/devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	devices := h.deviceService.List(c.Request.Context(), c.Query("platform"))
	c.JSON(http.StatusOK, devices)
}

// Register applies a device list pushed by a node
// @Param type query string true "add or remove"
// @Router /device-farm/api/register [post]
func (h *DeviceHandler) Register(c *gin.Context) {
	var devices []model.Device
	if err := c.ShouldBindJSON(&devices); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	intent := constants.RegisterIntent(c.DefaultQuery("type", string(constants.RegisterIntentAdd)))
	if err := h.deviceService.Register(c.Request.Context(), devices, intent); err != nil {
		if errors.Is(err, service.ErrInvalidIntent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		logger.ErrorCtx(c.Request.Context(), "failed to register devices: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "count": len(devices)})
}

// Release frees a busy device
// @Router /device-farm/api/devices/release [post]
func (h *DeviceHandler) Release(c *gin.Context) {
	h.applyToDevice(c, h.deviceService.Release)
}

// Block takes a device out of the pool
// @Router /device-farm/api/devices/block [post]
func (h *DeviceHandler) Block(c *gin.Context) {
	h.applyToDevice(c, h.deviceService.Block)
}

// Unblock returns a blocked device to the pool
// @Router /device-farm/api/devices/unblock [post]
func (h *DeviceHandler) Unblock(c *gin.Context) {
	h.applyToDevice(c, h.deviceService.Unblock)
}

// Heartbeat records client activity on a device
// @Router /device-farm/api/devices/heartbeat [post]
func (h *DeviceHandler) Heartbeat(c *gin.Context) {
	h.applyToDevice(c, h.deviceService.RecordCommand)
}

func (h *DeviceHandler) applyToDevice(c *gin.Context, action func(context.Context, model.DeviceKey) (model.Device, error)) {
	var key model.DeviceKey
	if err := c.ShouldBindJSON(&key); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	device, err := action(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, registry.ErrDeviceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "device not found: " + key.String()})
			return
		}
		if errors.Is(err, service.ErrDeviceNotBusy) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		logger.ErrorCtx(c.Request.Context(), "device action on %s failed: %v", key, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, device)
}

// GetUtilization returns the accumulated busy time of a udid
// @Router /device-farm/api/devices/{udid}/utilization [get]
func (h *DeviceHandler) GetUtilization(c *gin.Context) {
	udid := c.Param("udid")
	c.JSON(http.StatusOK, gin.H{
		"udid":                         udid,
		"totalUtilizationTimeMilliSec": h.deviceService.Utilization(c.Request.Context(), udid),
	})
}

// GetSessions returns finished sessions of a udid, newest first
// @Param limit query int false "Maximum number of sessions (default 50)"
// @Router /device-farm/api/devices/{udid}/sessions [get]
func (h *DeviceHandler) GetSessions(c *gin.Context) {
	if h.history == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "session history requires the mysql storage backend"})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	sessions, err := h.history.ListSessions(c.Request.Context(), c.Param("udid"), limit)
	if err != nil {
		logger.ErrorCtx(c.Request.Context(), "failed to list sessions: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sessions)
}
