package service

import (
	"context"

	"devicefarm/internal/model"
	"devicefarm/pkg/filter"
	mysqlmodel "devicefarm/pkg/store/mysql/model"
)

// UtilizationStore persists the accumulated busy time of a device, keyed by udid.
// Get never fails: missing or corrupt values read as 0.
type UtilizationStore interface {
	Get(ctx context.Context, udid string) int64
	Set(ctx context.Context, udid string, ms int64) error
}

// SessionRecorder stores finished sessions for later reporting
type SessionRecorder interface {
	RecordSession(ctx context.Context, session *mysqlmodel.DeviceSession) error
}

// DeviceAllocator claims a device for a resolved request
type DeviceAllocator interface {
	Allocate(ctx context.Context, req *filter.Request) (model.Device, error)
}

// FilterResolver turns session capabilities into an allocation request
type FilterResolver interface {
	Resolve(caps *model.CapabilityRequest) (*filter.Request, error)
}
