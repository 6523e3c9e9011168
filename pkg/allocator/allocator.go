// Package allocator claims a free device matching a filter, waiting up to a bounded
// timeout for one to become available.
package allocator

import (
	"context"
	"errors"
	"time"

	"devicefarm/internal/model"
	"devicefarm/pkg/events"
	"devicefarm/pkg/filter"
	"devicefarm/pkg/logger"
	"devicefarm/pkg/registry"

	"go.uber.org/zap"
)

// ErrAllocationTimeout no matching device became free within the allocation timeout
var ErrAllocationTimeout = errors.New("allocation timeout")

// TimeoutError carries the filter that found no device
type TimeoutError struct {
	Filter model.Filter
}

func (e *TimeoutError) Error() string {
	return "No device found for filters: " + e.Filter.String()
}

// Is reports ErrAllocationTimeout equivalence
func (e *TimeoutError) Is(target error) bool {
	return target == ErrAllocationTimeout
}

// Allocator claims devices from the registry
type Allocator struct {
	repo        registry.Repository
	maxSessions int
	publisher   events.Publisher
	now         func() time.Time
}

// New creates an allocator. maxSessions <= 0 disables the concurrent session limit.
func New(repo registry.Repository, maxSessions int, publisher events.Publisher) *Allocator {
	return &Allocator{
		repo:        repo,
		maxSessions: maxSessions,
		publisher:   publisher,
		now:         time.Now,
	}
}

// Allocate claims the first free device matching req.Filter. The registry is checked
// immediately and then once per poll interval until req.Timeout elapses.
func (a *Allocator) Allocate(ctx context.Context, req *filter.Request) (model.Device, error) {
	timeout := req.Timeout
	poll := req.PollInterval
	if poll <= 0 || (timeout > 0 && poll > timeout) {
		poll = timeout
	}
	if poll <= 0 {
		poll = time.Second
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	logger.InfoCtx(ctx, "waiting for free device, filters: %s", req.Filter.String())

	for {
		if d, ok := a.tryClaim(ctx, req); ok {
			return d, nil
		}

		select {
		case <-ctx.Done():
			return model.Device{}, ctx.Err()
		case <-deadline.C:
			return model.Device{}, &TimeoutError{Filter: req.Filter}
		case <-ticker.C:
		}
	}
}

func (a *Allocator) tryClaim(ctx context.Context, req *filter.Request) (model.Device, bool) {
	if a.maxSessions > 0 && a.repo.BusyCount() >= a.maxSessions {
		logger.InfoCtx(ctx, "waiting for session available, already at max session count of: %d", a.maxSessions)
		return model.Device{}, false
	}

	f := req.Filter
	startedAt := a.now().UnixMilli()
	device, ok := a.repo.ClaimFirstWithin(a.maxSessions,
		func(d *model.Device) bool {
			return f.Matches(d)
		},
		func(d *model.Device) {
			d.Busy = true
			d.SessionStartTime = startedAt
			d.LastCmdExecutedAt = nil
			if req.NewCommandTimeout != nil {
				v := *req.NewCommandTimeout
				d.NewCommandTimeout = &v
			}
		})
	if !ok {
		return model.Device{}, false
	}

	logger.Info("device allocated",
		zap.String("udid", device.UDID),
		zap.String("host", device.Host),
		zap.String("name", device.Name),
	)
	if a.publisher != nil {
		a.publisher.Publish(ctx, model.DeviceEvent{
			Type: model.EventDeviceAllocated,
			UDID: device.UDID,
			Host: device.Host,
		})
	}
	return device, true
}
