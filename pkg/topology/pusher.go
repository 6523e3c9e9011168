package topology

import (
	"context"
	"fmt"
	"time"

	"devicefarm/internal/model"
	"devicefarm/pkg/constants"
	"devicefarm/pkg/discovery"
	"devicefarm/pkg/logger"
	"devicefarm/pkg/registry"

	"go.uber.org/zap"
)

// Pusher refreshes the node's own devices in the local registry and reports them to the hub.
// Local devices that disappear from discovery are kept but marked offline.
type Pusher struct {
	discoverer discovery.Discoverer
	repo       registry.Repository
	client     NodeClient
	localHost  string
	hubURL     string
	interval   time.Duration
}

// NewPusher creates a pusher. hubURL may be empty, in which case only the local registry is refreshed.
func NewPusher(discoverer discovery.Discoverer, repo registry.Repository, client NodeClient, localHost, hubURL string, interval time.Duration) *Pusher {
	return &Pusher{
		discoverer: discoverer,
		repo:       repo,
		client:     client,
		localHost:  localHost,
		hubURL:     hubURL,
		interval:   interval,
	}
}

// Name implements jobs.Job
func (p *Pusher) Name() string {
	return "device-list-push"
}

// Interval implements jobs.Job
func (p *Pusher) Interval() time.Duration {
	return p.interval
}

// Run implements jobs.Job. Hub failures are logged and never fail the local refresh.
func (p *Pusher) Run(ctx context.Context) error {
	devices, err := p.Refresh(ctx)
	if err != nil {
		return err
	}
	if p.hubURL == "" {
		return nil
	}

	if err := p.client.Probe(ctx, p.hubURL); err != nil {
		logger.WarnCtx(ctx, "hub %s is not reachable, skipping device push: %v", p.hubURL, err)
		return nil
	}
	if err := p.client.PushDevices(ctx, p.hubURL, devices, constants.RegisterIntentAdd); err != nil {
		logger.ErrorCtx(ctx, "failed to push %d devices to hub %s: %v", len(devices), p.hubURL, err)
		return nil
	}
	logger.Debug("pushed devices to hub", zap.String("hub", p.hubURL), zap.Int("count", len(devices)))
	return nil
}

// Refresh discovers attached devices, upserts them and returns every record owned by this node
func (p *Pusher) Refresh(ctx context.Context) ([]model.Device, error) {
	discovered, err := p.discoverer.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to discover devices: %w", err)
	}

	seen := make(map[model.DeviceKey]struct{}, len(discovered))
	for i := range discovered {
		seen[discovered[i].Key()] = struct{}{}
	}
	p.repo.BulkUpsert(discovered)

	gone := p.repo.Find(func(d *model.Device) bool {
		_, ok := seen[d.Key()]
		return !ok && !d.Offline && d.Host == p.localHost
	})
	for _, d := range gone {
		p.repo.Update(d.Key(), func(cur *model.Device) { cur.Offline = true })
		logger.InfoCtx(ctx, "device %s is no longer attached, marking offline", d.UDID)
	}

	return p.repo.Find(func(d *model.Device) bool {
		return d.Host == p.localHost
	}), nil
}
