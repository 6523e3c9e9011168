package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"devicefarm/internal/model"
	"devicefarm/pkg/constants"
	"devicefarm/pkg/events"
	"devicefarm/pkg/logger"
	"devicefarm/pkg/registry"
	mysqlmodel "devicefarm/pkg/store/mysql/model"

	"go.uber.org/zap"
)

// ErrInvalidIntent is returned for a register request that is neither add nor remove
var ErrInvalidIntent = errors.New("invalid register intent")

// ErrDeviceNotBusy is returned when a heartbeat targets a device no session holds
var ErrDeviceNotBusy = errors.New("device is not busy")

// Release reasons recorded with finished sessions
const (
	ReleaseReasonClient = "client"
	ReleaseReasonIdle   = "idle"
)

// DeviceService Device service
type DeviceService struct {
	repo        registry.Repository
	utilization UtilizationStore
	sessions    SessionRecorder // optional
	publisher   events.Publisher
	now         func() time.Time
}

// NewDeviceService creates a new Device service
func NewDeviceService(repo registry.Repository, utilization UtilizationStore, publisher events.Publisher) *DeviceService {
	return &DeviceService{
		repo:        repo,
		utilization: utilization,
		publisher:   publisher,
		now:         time.Now,
	}
}

// SetSessionRecorder enables persistence of finished sessions
func (s *DeviceService) SetSessionRecorder(recorder SessionRecorder) {
	s.sessions = recorder
}

// Release frees a busy device on client request. Releasing a free device is a no-op.
func (s *DeviceService) Release(ctx context.Context, key model.DeviceKey) (model.Device, error) {
	device, ok, err := s.release(ctx, key, nil, ReleaseReasonClient)
	if err != nil {
		return device, err
	}
	if !ok {
		current, found := s.repo.Get(key)
		if !found {
			return model.Device{}, registry.ErrDeviceNotFound
		}
		return current, nil
	}
	return device, nil
}

// ReleaseIf implements release.Releaser for the idle release job
func (s *DeviceService) ReleaseIf(ctx context.Context, key model.DeviceKey, guard registry.Predicate) (model.Device, bool, error) {
	return s.release(ctx, key, guard, ReleaseReasonIdle)
}

func (s *DeviceService) release(ctx context.Context, key model.DeviceKey, guard registry.Predicate, reason string) (model.Device, bool, error) {
	now := s.now()
	var startedAt, elapsed int64

	device, ok := s.repo.UpdateIf(key,
		func(d *model.Device) bool {
			if !d.Busy {
				return false
			}
			return guard == nil || guard(d)
		},
		func(d *model.Device) {
			startedAt = d.SessionStartTime
			if startedAt > 0 && now.UnixMilli() > startedAt {
				elapsed = now.UnixMilli() - startedAt
			}
			d.Busy = false
			d.LastCmdExecutedAt = nil
			d.NewCommandTimeout = nil
			d.SessionStartTime = 0
			d.TotalUtilizationTimeMs += elapsed
		})
	if !ok {
		return model.Device{}, false, nil
	}

	logger.Info("device released",
		zap.String("udid", device.UDID),
		zap.String("host", device.Host),
		zap.String("reason", reason),
		zap.Int64("sessionMs", elapsed),
	)
	if s.publisher != nil && reason == ReleaseReasonClient {
		s.publisher.Publish(ctx, model.DeviceEvent{
			Type: model.EventDeviceReleased,
			UDID: device.UDID,
			Host: device.Host,
		})
	}

	if s.sessions != nil && startedAt > 0 {
		record := &mysqlmodel.DeviceSession{
			UDID:       device.UDID,
			Host:       device.Host,
			StartedAt:  time.UnixMilli(startedAt),
			EndedAt:    now,
			DurationMs: elapsed,
			Reason:     reason,
		}
		if err := s.sessions.RecordSession(ctx, record); err != nil {
			logger.WarnCtx(ctx, "failed to record session of %s: %v", key, err)
		}
	}

	if elapsed == 0 {
		return device, true, nil
	}
	total := s.utilization.Get(ctx, device.UDID) + elapsed
	if err := s.utilization.Set(ctx, device.UDID, total); err != nil {
		return device, true, fmt.Errorf("failed to store utilization of %s: %w", device.UDID, err)
	}
	return device, true, nil
}

// Block takes a device out of allocation on operator request
func (s *DeviceService) Block(ctx context.Context, key model.DeviceKey) (model.Device, error) {
	device, ok := s.repo.Update(key, func(d *model.Device) {
		d.UserBlocked = true
	})
	if !ok {
		return model.Device{}, registry.ErrDeviceNotFound
	}
	logger.InfoCtx(ctx, "device %s blocked by user", key)
	return device, nil
}

// Unblock returns a user-blocked device to the pool
func (s *DeviceService) Unblock(ctx context.Context, key model.DeviceKey) (model.Device, error) {
	device, ok := s.repo.Update(key, func(d *model.Device) {
		d.UserBlocked = false
	})
	if !ok {
		return model.Device{}, registry.ErrDeviceNotFound
	}
	logger.InfoCtx(ctx, "device %s unblocked by user", key)
	return device, nil
}

// RecordCommand marks a client command on a busy device, restarting its idle timer.
// Free devices are left untouched so a later claim never inherits an old timestamp.
func (s *DeviceService) RecordCommand(ctx context.Context, key model.DeviceKey) (model.Device, error) {
	at := s.now().UnixMilli()
	device, ok := s.repo.UpdateIf(key,
		func(d *model.Device) bool { return d.Busy },
		func(d *model.Device) { d.LastCmdExecutedAt = &at },
	)
	if !ok {
		if _, exists := s.repo.Get(key); !exists {
			return model.Device{}, registry.ErrDeviceNotFound
		}
		return model.Device{}, ErrDeviceNotBusy
	}
	logger.DebugCtx(ctx, "command recorded for %s", key)
	return device, nil
}

// Utilization returns the accumulated busy time of a udid in milliseconds
func (s *DeviceService) Utilization(ctx context.Context, udid string) int64 {
	return s.utilization.Get(ctx, udid)
}

// List returns the devices of a platform, all devices for "" or "both"
func (s *DeviceService) List(_ context.Context, platform string) []model.Device {
	p := constants.ParsePlatform(platform)
	if p == "" || p == constants.PlatformBoth {
		return s.repo.Snapshot()
	}
	return s.repo.Find(func(d *model.Device) bool {
		return constants.ParsePlatform(string(d.Platform)) == p
	})
}

// Register applies a device list pushed by a node
func (s *DeviceService) Register(ctx context.Context, devices []model.Device, intent constants.RegisterIntent) error {
	switch intent {
	case constants.RegisterIntentAdd:
		s.repo.BulkUpsert(devices)
		logger.InfoCtx(ctx, "registered %d devices", len(devices))
	case constants.RegisterIntentRemove:
		removed := 0
		for i := range devices {
			if s.repo.Remove(devices[i].Key()) {
				removed++
			}
		}
		logger.InfoCtx(ctx, "removed %d of %d devices", removed, len(devices))
	default:
		return fmt.Errorf("%w: %q", ErrInvalidIntent, intent)
	}
	return nil
}

// UnblockCandidates returns busy devices that already received a command and can
// therefore be picked up by the idle release job
func (s *DeviceService) UnblockCandidates() []model.Device {
	return s.repo.Find(func(d *model.Device) bool {
		return d.Busy && !d.UserBlocked && d.LastCmdExecutedAt != nil
	})
}
