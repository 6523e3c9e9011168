package topology

import (
	"context"
	"fmt"
	"time"

	"devicefarm/pkg/discovery"
	"devicefarm/pkg/logger"
	"devicefarm/pkg/registry"
)

// SimulatorRefresher copies the current simulator state (Booted, Shutdown) onto registry records
type SimulatorRefresher struct {
	lister   discovery.SimulatorLister
	repo     registry.Repository
	interval time.Duration
}

// NewSimulatorRefresher creates a simulator state refresher
func NewSimulatorRefresher(lister discovery.SimulatorLister, repo registry.Repository, interval time.Duration) *SimulatorRefresher {
	return &SimulatorRefresher{lister: lister, repo: repo, interval: interval}
}

// Name implements jobs.Job
func (s *SimulatorRefresher) Name() string {
	return "simulator-state-refresh"
}

// Interval implements jobs.Job
func (s *SimulatorRefresher) Interval() time.Duration {
	return s.interval
}

// Run implements jobs.Job
func (s *SimulatorRefresher) Run(ctx context.Context) error {
	sims, err := s.lister.ListSimulators(ctx)
	if err != nil {
		return fmt.Errorf("failed to list simulators: %w", err)
	}
	if updated := s.repo.SetSimulatorState(sims); updated > 0 {
		logger.DebugCtx(ctx, "updated state of %d simulators", updated)
	}
	return nil
}
