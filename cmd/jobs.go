package main

import (
	"time"

	"devicefarm/internal/jobs"
	"devicefarm/pkg/logger"
	"devicefarm/pkg/release"
	"devicefarm/pkg/topology"
)

func (app *Application) initJobs() error {
	manager := jobs.NewManager(app.ctx)
	cfg := app.config

	// Idle release of every busy device known locally
	manager.Register(release.NewIdleReleaser(app.repo, app.deviceService, app.eventHub, &release.IdleReleaserConfig{
		NewCommandTimeout: time.Duration(cfg.Farm.NewCommandTimeout) * time.Second,
		CheckInterval:     time.Duration(cfg.Farm.ReleaseCheckInterval) * time.Millisecond,
	}))

	// Local discovery, pushed to the hub when this process is a node
	manager.Register(topology.NewPusher(
		app.inventory,
		app.repo,
		app.nodeClient,
		app.localHost,
		cfg.Hub.Address,
		time.Duration(cfg.Hub.PushInterval)*time.Millisecond,
	))

	manager.Register(topology.NewSimulatorRefresher(
		app.inventory,
		app.repo,
		time.Duration(cfg.Simulators.RefreshInterval)*time.Millisecond,
	))

	if cfg.IsHub() && cfg.Pruning.Enabled {
		manager.Register(topology.NewPruner(app.repo, app.nodeClient, app.eventHub, app.localHost, topology.PrunerConfig{
			Interval:         time.Duration(cfg.Pruning.Interval) * time.Millisecond,
			FailureThreshold: cfg.Pruning.FailureThreshold,
			RecheckInterval:  time.Duration(cfg.Pruning.RecheckInterval) * time.Second,
			MaxParallel:      cfg.Pruning.MaxParallel,
		}))
	} else if cfg.IsHub() {
		logger.InfoCtx(app.ctx, "stale device pruning disabled")
	}

	app.jobsManager = manager
	return nil
}
