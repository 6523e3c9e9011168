package router

import (
	"net/http"

	"devicefarm/app/handler"
	"devicefarm/app/middleware"
	"devicefarm/pkg/topology"

	"github.com/gin-gonic/gin"
)

// Router Router
type Router struct {
	deviceHandler  *handler.DeviceHandler
	sessionHandler *handler.SessionHandler
	statusHandler  *handler.StatusHandler
}

// NewRouter creates a new Router
func NewRouter(deviceHandler *handler.DeviceHandler, sessionHandler *handler.SessionHandler, statusHandler *handler.StatusHandler) *Router {
	return &Router{
		deviceHandler:  deviceHandler,
		sessionHandler: sessionHandler,
		statusHandler:  statusHandler,
	}
}

// Setup sets up routes
func (r *Router) Setup(engine *gin.Engine) {
	engine.Use(middleware.Recovery())
	engine.Use(middleware.Logger())

	api := engine.Group(topology.APIPrefix)
	{
		// Liveness probed by hub and nodes
		api.GET("/status", r.statusHandler.Status)

		// Node -> hub device list push
		api.POST("/register", r.deviceHandler.Register)

		api.POST("/sessions", r.sessionHandler.CreateSession)

		devices := api.Group("/devices")
		{
			devices.GET("", r.deviceHandler.ListDevices)
			devices.POST("/release", r.deviceHandler.Release)
			devices.POST("/block", r.deviceHandler.Block)
			devices.POST("/unblock", r.deviceHandler.Unblock)
			devices.POST("/heartbeat", r.deviceHandler.Heartbeat)
			devices.GET("/:udid/utilization", r.deviceHandler.GetUtilization)
			devices.GET("/:udid/sessions", r.deviceHandler.GetSessions)
		}

		api.GET("/events", r.statusHandler.StreamEvents)
		api.GET("/events/recent", r.statusHandler.RecentEvents)
	}

	// Health check
	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
