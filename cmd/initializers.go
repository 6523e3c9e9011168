package main

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"devicefarm/app/handler"
	"devicefarm/app/router"
	"devicefarm/internal/service"
	"devicefarm/pkg/allocator"
	"devicefarm/pkg/capability"
	"devicefarm/pkg/config"
	"devicefarm/pkg/constants"
	"devicefarm/pkg/discovery"
	"devicefarm/pkg/events"
	"devicefarm/pkg/filter"
	"devicefarm/pkg/logger"
	"devicefarm/pkg/registry"
	"devicefarm/pkg/store/memory"
	mysqlstore "devicefarm/pkg/store/mysql"
	redisstore "devicefarm/pkg/store/redis"
	"devicefarm/pkg/topology"

	"github.com/gin-gonic/gin"
)

// initConfig initializes configuration
func (app *Application) initConfig() error {
	if err := config.Init(); err != nil {
		return err
	}
	app.config = config.GlobalConfig

	app.localHost = app.config.Server.AdvertiseHost
	if app.localHost == "" {
		app.localHost = fmt.Sprintf("http://%s:%d", outboundIP(), app.config.Server.Port)
	}
	return nil
}

// initLogger initializes logging
func (app *Application) initLogger() error {
	if err := logger.Init(); err != nil {
		return err
	}
	app.registerCleanup(func() {
		logger.InfoCtx(app.ctx, "Logging system has been closed")
		logger.Sync()
	})
	return nil
}

// initStorage initializes the utilization store of the configured backend
func (app *Application) initStorage() error {
	switch app.config.Storage.Backend {
	case "redis":
		client, err := redisstore.NewRedisClient(app.ctx, app.config.Redis)
		if err != nil {
			return err
		}
		app.redisClient = client
		app.utilization = redisstore.NewUtilizationRepository(client.GetClient())
		app.registerCleanup(func() {
			client.Close()
			logger.InfoCtx(app.ctx, "Redis connection has been closed")
		})

	case "mysql":
		repo, err := mysqlstore.NewRepository(app.config.MySQL)
		if err != nil {
			return err
		}
		app.mysqlRepo = repo
		app.utilization = repo.Utilization
		app.registerCleanup(func() {
			repo.Close()
			logger.InfoCtx(app.ctx, "MySQL connection has been closed")
		})

	case "memory":
		app.utilization = memory.NewUtilizationStore()

	default:
		return fmt.Errorf("unknown storage backend %q", app.config.Storage.Backend)
	}

	logger.InfoCtx(app.ctx, "utilization store backend: %s", app.config.Storage.Backend)
	return nil
}

// initRegistry initializes the device registry, event hub and local discovery
func (app *Application) initRegistry() error {
	app.repo = registry.NewMemoryRepository()

	app.eventHub = events.NewHub()
	app.registerCleanup(app.eventHub.Close)

	farm := app.config.Farm
	app.inventory = discovery.NewFileInventory(app.config.Discovery.InventoryFile, app.localHost, discovery.Policy{
		Platform:          constants.ParsePlatform(farm.Platform),
		IOSDeviceType:     constants.AllowedDeviceType(farm.IOSDeviceType),
		AndroidDeviceType: constants.AllowedDeviceType(farm.AndroidDeviceType),
	})

	app.nodeClient = topology.NewHTTPNodeClient(
		time.Duration(app.config.Hub.ProbeTimeout)*time.Millisecond,
		time.Duration(app.config.Hub.PushTimeout)*time.Millisecond,
	)
	return nil
}

// initServices initializes service layer
func (app *Application) initServices() error {
	app.deviceService = service.NewDeviceService(app.repo, app.utilization, app.eventHub)
	if app.mysqlRepo != nil {
		app.deviceService.SetSessionRecorder(app.mysqlRepo.Session)
	}

	app.allocator = allocator.New(app.repo, app.config.Farm.MaxSessions, app.eventHub)
	resolver := filter.NewResolver(filter.DefaultsFromConfig(app.config.Farm))
	app.sessionService = service.NewSessionService(resolver, app.allocator, capability.NewDefaultAdapter(), app.deviceService)
	return nil
}

// initHandlers initializes handler layer
func (app *Application) initHandlers() error {
	var history handler.SessionHistory
	if app.mysqlRepo != nil {
		history = app.mysqlRepo.Session
	}
	app.deviceHandler = handler.NewDeviceHandler(app.deviceService, history)
	app.sessionHandler = handler.NewSessionHandler(app.sessionService)
	app.statusHandler = handler.NewStatusHandler(app.repo, app.eventHub, app.role(), app.jobsManager.Running)
	return nil
}

// initHTTPServer initializes HTTP server
func (app *Application) initHTTPServer() error {
	r := router.NewRouter(app.deviceHandler, app.sessionHandler, app.statusHandler)

	// Set Gin mode
	gin.SetMode(app.config.Server.Mode)

	// Create Gin engine
	app.ginEngine = gin.New()

	// Setup routes
	r.Setup(app.ginEngine)

	// Create HTTP server
	app.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: app.ginEngine,
	}

	return nil
}

// outboundIP returns the address of the interface used for outbound traffic
func outboundIP() string {
	// UDP dial sends no packet, it only selects a route
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String()
}
