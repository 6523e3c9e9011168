// Package release provides the idle device releaser. It frees busy devices whose
// session stopped sending commands for longer than the new-command timeout.
package release

import (
	"context"
	"time"

	"devicefarm/internal/model"
	"devicefarm/pkg/events"
	"devicefarm/pkg/logger"
	"devicefarm/pkg/registry"

	"go.uber.org/zap"
)

// IdleReleaserConfig contains configuration for the IdleReleaser.
type IdleReleaserConfig struct {
	// NewCommandTimeout is the idle time after which a busy device is released,
	// unless the device carries its own per-session override.
	// Default: 60 seconds
	NewCommandTimeout time.Duration `yaml:"newCommandTimeout"`

	// CheckInterval is the interval between release passes.
	// Default: 30 seconds
	CheckInterval time.Duration `yaml:"checkInterval"`
}

// DefaultIdleReleaserConfig returns the default configuration for IdleReleaser.
func DefaultIdleReleaserConfig() *IdleReleaserConfig {
	return &IdleReleaserConfig{
		NewCommandTimeout: 60 * time.Second,
		CheckInterval:     30 * time.Second,
	}
}

// Releaser frees a device. guard is evaluated under the registry lock right before
// the release, so a device that received a command meanwhile is left alone.
type Releaser interface {
	ReleaseIf(ctx context.Context, key model.DeviceKey, guard registry.Predicate) (model.Device, bool, error)
}

// IdleReleaser scans the registry for idle sessions.
//
// Every busy device in the local registry is considered, whichever host owns it.
// A hub therefore also frees idle devices of its nodes.
type IdleReleaser struct {
	repo      registry.Repository
	releaser  Releaser
	publisher events.Publisher
	config    *IdleReleaserConfig
	now       func() time.Time
}

// NewIdleReleaser creates a new IdleReleaser.
//
// Parameters:
//   - repo: Registry scanned for busy devices
//   - releaser: Frees a selected device and accounts its utilization
//   - publisher: Receives one event per released device (may be nil)
//   - config: Configuration for the releaser (uses defaults if nil)
func NewIdleReleaser(repo registry.Repository, releaser Releaser, publisher events.Publisher, config *IdleReleaserConfig) *IdleReleaser {
	if config == nil {
		config = DefaultIdleReleaserConfig()
	}
	return &IdleReleaser{
		repo:      repo,
		releaser:  releaser,
		publisher: publisher,
		config:    config,
		now:       time.Now,
	}
}

// Name implements jobs.Job
func (r *IdleReleaser) Name() string {
	return "idle-device-release"
}

// Interval implements jobs.Job
func (r *IdleReleaser) Interval() time.Duration {
	return r.config.CheckInterval
}

// Run implements jobs.Job
func (r *IdleReleaser) Run(ctx context.Context) error {
	r.ReleaseIdleDevices(ctx, r.config.NewCommandTimeout)
	return nil
}

// ReleaseIdleDevices releases every busy, not user-blocked device whose last command is
// older than its effective timeout. Devices that never received a command are skipped.
// Returns the released devices.
func (r *IdleReleaser) ReleaseIdleDevices(ctx context.Context, defaultTimeout time.Duration) []model.Device {
	now := r.now()
	candidates := r.repo.Find(func(d *model.Device) bool {
		return r.isIdle(d, now, defaultTimeout)
	})
	if len(candidates) == 0 {
		return nil
	}

	logger.Debug("found idle device candidates", zap.Int("count", len(candidates)))

	released := make([]model.Device, 0, len(candidates))
	for i := range candidates {
		d := &candidates[i]
		idle := IdleDuration(d, now)

		device, ok, err := r.releaser.ReleaseIf(ctx, d.Key(), func(cur *model.Device) bool {
			return r.isIdle(cur, now, defaultTimeout)
		})
		if !ok {
			if err != nil {
				logger.Error("failed to release idle device",
					zap.String("udid", d.UDID),
					zap.String("host", d.Host),
					zap.Error(err),
				)
			}
			continue
		}
		// The device is free even when bookkeeping after the release failed.
		if err != nil {
			logger.Warn("idle device released with errors",
				zap.String("udid", device.UDID),
				zap.String("host", device.Host),
				zap.Error(err),
			)
		}

		logger.Info("released idle device",
			zap.String("udid", device.UDID),
			zap.String("host", device.Host),
			zap.Float64("idleSeconds", idle.Seconds()),
		)
		if r.publisher != nil {
			r.publisher.Publish(ctx, model.DeviceEvent{
				Type:        model.EventDeviceIdle,
				UDID:        device.UDID,
				Host:        device.Host,
				IdleSeconds: idle.Seconds(),
				Message:     "device released after new command timeout",
			})
		}
		released = append(released, device)
	}
	return released
}

func (r *IdleReleaser) isIdle(d *model.Device, now time.Time, defaultTimeout time.Duration) bool {
	if !d.Busy || d.UserBlocked || d.LastCmdExecutedAt == nil {
		return false
	}
	return IdleDuration(d, now) > EffectiveTimeout(d, defaultTimeout)
}

// IdleDuration time since the last command executed on d
func IdleDuration(d *model.Device, now time.Time) time.Duration {
	if d.LastCmdExecutedAt == nil {
		return 0
	}
	return now.Sub(time.UnixMilli(*d.LastCmdExecutedAt))
}

// EffectiveTimeout returns the device override when set, otherwise defaultTimeout
func EffectiveTimeout(d *model.Device, defaultTimeout time.Duration) time.Duration {
	if d.NewCommandTimeout != nil {
		return time.Duration(*d.NewCommandTimeout * float64(time.Second))
	}
	return defaultTimeout
}
