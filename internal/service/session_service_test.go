package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"devicefarm/internal/model"
	"devicefarm/pkg/allocator"
	"devicefarm/pkg/capability"
	"devicefarm/pkg/constants"
	"devicefarm/pkg/filter"
	"devicefarm/pkg/registry"
	"devicefarm/pkg/release"
	"devicefarm/pkg/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingAdapter struct{}

func (failingAdapter) Adapt(context.Context, *model.CapabilityRequest, model.Device) error {
	return errors.New("simulator failed to boot")
}

func newTestSessionService(repo registry.Repository, adapter capability.Adapter) *SessionService {
	resolver := filter.NewResolver(filter.Defaults{
		DeviceAvailabilityTimeout: 50 * time.Millisecond,
		DeviceRetryInterval:       10 * time.Millisecond,
		IOSDeviceType:             constants.AllowedBoth,
	}).WithEnvUDIDs(func() string { return "" })
	devices := NewDeviceService(repo, memory.NewUtilizationStore(), nil)
	return NewSessionService(resolver, allocator.New(repo, 0, nil), adapter, devices)
}

func androidCaps() *model.CapabilityRequest {
	return &model.CapabilityRequest{
		AlwaysMatch: map[string]interface{}{constants.CapPlatformName: "Android"},
	}
}

func TestSessionService_CreateSession(t *testing.T) {
	repo := registry.NewMemoryRepository()
	repo.Upsert(model.Device{UDID: "emulator-5554", Host: testHost, Platform: constants.PlatformAndroid, Name: "Pixel"})
	s := newTestSessionService(repo, capability.NewDefaultAdapter())

	session, err := s.CreateSession(context.Background(), androidCaps())
	require.NoError(t, err)

	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "emulator-5554", session.Device.UDID)
	assert.True(t, session.Device.Busy)
	assert.Equal(t, "emulator-5554", session.Capabilities.AlwaysMatch[constants.CapUDID])
}

func TestSessionService_AdapterFailureReleasesDevice(t *testing.T) {
	repo := registry.NewMemoryRepository()
	device := model.Device{UDID: "emulator-5554", Host: testHost, Platform: constants.PlatformAndroid}
	repo.Upsert(device)
	s := newTestSessionService(repo, failingAdapter{})

	_, err := s.CreateSession(context.Background(), androidCaps())
	require.Error(t, err)

	got, _ := repo.Get(device.Key())
	assert.False(t, got.Busy)
}

func TestSessionService_MissingPlatform(t *testing.T) {
	s := newTestSessionService(registry.NewMemoryRepository(), capability.NewDefaultAdapter())
	_, err := s.CreateSession(context.Background(), &model.CapabilityRequest{})
	assert.ErrorIs(t, err, filter.ErrMissingPlatform)
}

func TestSessionService_TimeoutWhenNothingMatches(t *testing.T) {
	repo := registry.NewMemoryRepository()
	repo.Upsert(model.Device{UDID: "i1", Host: testHost, Platform: constants.PlatformIOS})
	s := newTestSessionService(repo, capability.NewDefaultAdapter())

	_, err := s.CreateSession(context.Background(), androidCaps())
	assert.ErrorIs(t, err, allocator.ErrAllocationTimeout)
	assert.EqualError(t, err, `No device found for filters: {"platform":"android","name":"","busy":false,"userBlocked":false}`)
}

func TestSessionService_HeartbeatBeforeClaimDoesNotReleaseNewSession(t *testing.T) {
	repo := registry.NewMemoryRepository()
	device := model.Device{UDID: "emulator-5554", Host: testHost, Platform: constants.PlatformAndroid}
	repo.Upsert(device)
	key := device.Key()

	devices := NewDeviceService(repo, memory.NewUtilizationStore(), nil)
	_, err := devices.RecordCommand(context.Background(), key)
	assert.ErrorIs(t, err, ErrDeviceNotBusy)
	got, _ := repo.Get(key)
	assert.Nil(t, got.LastCmdExecutedAt)

	// a timestamp left over from an earlier session
	stale := time.Now().Add(-10 * time.Minute).UnixMilli()
	repo.Update(key, func(d *model.Device) { d.LastCmdExecutedAt = &stale })

	s := newTestSessionService(repo, capability.NewDefaultAdapter())
	session, err := s.CreateSession(context.Background(), androidCaps())
	require.NoError(t, err)
	assert.Nil(t, session.Device.LastCmdExecutedAt)

	released := release.NewIdleReleaser(repo, devices, nil, nil).ReleaseIdleDevices(context.Background(), 60*time.Second)
	assert.Empty(t, released)
	got, _ = repo.Get(key)
	assert.True(t, got.Busy)
}
