package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"devicefarm/app/handler"
	"devicefarm/internal/jobs"
	"devicefarm/internal/service"
	"devicefarm/pkg/allocator"
	"devicefarm/pkg/config"
	"devicefarm/pkg/discovery"
	"devicefarm/pkg/events"
	"devicefarm/pkg/logger"
	"devicefarm/pkg/registry"
	mysqlstore "devicefarm/pkg/store/mysql"
	redisstore "devicefarm/pkg/store/redis"
	"devicefarm/pkg/topology"

	"github.com/gin-gonic/gin"
)

// Application wires the device farm process: storage, registry, duties and HTTP API
type Application struct {
	// Storage backends, at most one is set
	config      *config.Config
	mysqlRepo   *mysqlstore.Repository
	redisClient *redisstore.RedisClient
	localHost   string

	// Device state
	repo        registry.Repository
	eventHub    *events.Hub
	utilization service.UtilizationStore
	inventory   *discovery.FileInventory
	nodeClient  topology.NodeClient
	allocator   *allocator.Allocator

	// Services
	deviceService  *service.DeviceService
	sessionService *service.SessionService

	// Handlers
	deviceHandler  *handler.DeviceHandler
	sessionHandler *handler.SessionHandler
	statusHandler  *handler.StatusHandler

	// API
	httpServer *http.Server
	ginEngine  *gin.Engine

	// Recurring duties: idle release, push, prune, simulator refresh
	jobsManager *jobs.Manager

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Run in reverse order on shutdown
	cleanupFuncs []func()
}

// NewApplication creates a new Application instance
func NewApplication() *Application {
	ctx, cancel := context.WithCancel(context.Background())
	return &Application{
		ctx:          ctx,
		cancel:       cancel,
		cleanupFuncs: make([]func(), 0),
	}
}

// Initialize builds every component in dependency order
func (app *Application) Initialize() error {
	steps := []struct {
		name string
		fn   func() error
	}{
		{"Configuration", app.initConfig},
		{"Logging", app.initLogger},
		{"Utilization Store", app.initStorage},
		{"Device Registry", app.initRegistry},
		{"Service Layer", app.initServices},
		{"Background Tasks", app.initJobs},
		{"Handler Layer", app.initHandlers},
		{"HTTP Server", app.initHTTPServer},
	}

	for _, step := range steps {
		logger.InfoCtx(app.ctx, "Initializing %s...", step.name)
		if err := step.fn(); err != nil {
			return fmt.Errorf("failed to initialize %s: %w", step.name, err)
		}
		logger.InfoCtx(app.ctx, "%s initialized successfully", step.name)
	}

	logger.InfoCtx(app.ctx, "Application initialization completed, role: %s, address: %s", app.role(), app.localHost)
	return nil
}

// Start launches the recurring duties and the HTTP API
func (app *Application) Start() error {
	app.jobsManager.Start()
	logger.InfoCtx(app.ctx, "background duties running: %v", app.jobsManager.Running())

	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		logger.InfoCtx(app.ctx, "HTTP server listening on: %s", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.FatalCtx(app.ctx, "HTTP server error: %v", err)
		}
	}()
	return nil
}

// Shutdown stops accepting sessions first, so waiting allocations see their request
// context canceled, then stops the duties and releases infrastructure.
func (app *Application) Shutdown(timeout time.Duration) error {
	logger.InfoCtx(app.ctx, "Starting graceful shutdown (timeout: %v)...", timeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var shutdownErr error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("http server shutdown: %w", err)
	}

	app.cancel()
	app.jobsManager.Stop()

	stopped := make(chan struct{})
	go func() {
		app.jobsManager.Wait()
		app.wg.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		logger.WarnCtx(app.ctx, "Shutdown timeout, some duties may still be running")
	}

	// Reverse registration order: the logger is flushed last
	for i := len(app.cleanupFuncs) - 1; i >= 0; i-- {
		app.cleanupFuncs[i]()
	}
	return shutdownErr
}

// registerCleanup adds a shutdown hook
func (app *Application) registerCleanup(cleanup func()) {
	app.cleanupFuncs = append(app.cleanupFuncs, cleanup)
}

func (app *Application) role() string {
	if app.config.IsHub() {
		return "hub"
	}
	return "node"
}
