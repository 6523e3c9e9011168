package topology

import (
	"context"
	"sort"
	"sync"
	"time"

	"devicefarm/internal/model"
	"devicefarm/pkg/events"
	"devicefarm/pkg/logger"
	"devicefarm/pkg/registry"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// PrunerConfig contains configuration for the Pruner.
type PrunerConfig struct {
	// Interval between pruning passes
	Interval time.Duration
	// FailureThreshold consecutive failed probes before a host's devices are removed
	FailureThreshold int
	// RecheckInterval re-probes a confirmed host after this long. Zero keeps a host
	// confirmed until a failure is observed.
	RecheckInterval time.Duration
	// MaxParallel concurrent probes per pass
	MaxParallel int
}

// Pruner removes devices of remote hosts that stop answering their liveness probe.
type Pruner struct {
	repo      registry.Repository
	client    NodeClient
	publisher events.Publisher
	localHost string
	config    PrunerConfig
	now       func() time.Time

	mu       sync.Mutex
	checked  map[string]time.Time
	failures map[string]int
}

// NewPruner creates a pruner for the hub at localHost
func NewPruner(repo registry.Repository, client NodeClient, publisher events.Publisher, localHost string, config PrunerConfig) *Pruner {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.MaxParallel <= 0 {
		config.MaxParallel = 16
	}
	return &Pruner{
		repo:      repo,
		client:    client,
		publisher: publisher,
		localHost: localHost,
		config:    config,
		now:       time.Now,
		checked:   make(map[string]time.Time),
		failures:  make(map[string]int),
	}
}

// Name implements jobs.Job
func (p *Pruner) Name() string {
	return "stale-device-prune"
}

// Interval implements jobs.Job
func (p *Pruner) Interval() time.Duration {
	return p.config.Interval
}

// Run implements jobs.Job
func (p *Pruner) Run(ctx context.Context) error {
	p.Prune(ctx)
	return nil
}

type probeResult struct {
	host string
	err  error
}

// Prune probes every remote host that is not currently confirmed, once per host and in
// parallel, and removes the devices of hosts that reached the failure threshold.
// Returns the pruned hosts.
func (p *Pruner) Prune(ctx context.Context) []string {
	hosts := p.hostsToProbe()
	if len(hosts) == 0 {
		return nil
	}

	results := make([]probeResult, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.config.MaxParallel)
	for i, host := range hosts {
		i, host := i, host
		g.Go(func() error {
			// Every probe returns nil so one failure never cancels the others.
			results[i] = probeResult{host: host, err: p.client.Probe(gctx, host)}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		return nil
	}

	var pruned []string
	for _, r := range results {
		if r.err == nil {
			p.markHealthy(r.host)
			continue
		}
		if p.markFailed(r.host) {
			p.removeHost(ctx, r.host, r.err)
			pruned = append(pruned, r.host)
		} else {
			logger.WarnCtx(ctx, "node %s failed liveness probe: %v", r.host, r.err)
		}
	}
	return pruned
}

// hostsToProbe groups remote devices by owning host, skipping confirmed hosts
func (p *Pruner) hostsToProbe() []string {
	devices := p.repo.Find(func(d *model.Device) bool {
		return d.Host != "" && !d.Cloud && !d.IsOwnedBy(p.localHost)
	})

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	unique := make(map[string]struct{})
	for i := range devices {
		host := devices[i].Host
		if confirmedAt, ok := p.checked[host]; ok {
			if p.config.RecheckInterval <= 0 || now.Sub(confirmedAt) < p.config.RecheckInterval {
				continue
			}
		}
		unique[host] = struct{}{}
	}

	hosts := make([]string, 0, len(unique))
	for host := range unique {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}

func (p *Pruner) markHealthy(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failures, host)
	p.checked[host] = p.now()
}

// markFailed records a failed probe and reports whether the threshold is reached
func (p *Pruner) markFailed(host string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.checked, host)
	p.failures[host]++
	if p.failures[host] >= p.config.FailureThreshold {
		delete(p.failures, host)
		return true
	}
	return false
}

func (p *Pruner) removeHost(ctx context.Context, host string, cause error) {
	removed := p.repo.RemoveWhere(func(d *model.Device) bool {
		return d.Host == host
	})
	for _, d := range removed {
		logger.Info("removing device because its node is not available",
			zap.String("udid", d.UDID),
			zap.String("host", host),
		)
	}
	if p.publisher != nil {
		p.publisher.Publish(ctx, model.DeviceEvent{
			Type:    model.EventNodePruned,
			Host:    host,
			Message: cause.Error(),
		})
	}
}

// Checked returns the hosts currently confirmed reachable, sorted
func (p *Pruner) Checked() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	hosts := make([]string, 0, len(p.checked))
	for host := range p.checked {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
