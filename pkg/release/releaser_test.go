package release

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"devicefarm/internal/model"
	"devicefarm/pkg/constants"
	"devicefarm/pkg/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// registryReleaser frees devices directly in the registry.
type registryReleaser struct {
	repo registry.Repository
	err  error

	// postErr is returned alongside a completed release
	postErr error
}

func (r *registryReleaser) ReleaseIf(_ context.Context, key model.DeviceKey, guard registry.Predicate) (model.Device, bool, error) {
	if r.err != nil {
		return model.Device{}, false, r.err
	}
	d, ok := r.repo.UpdateIf(key, guard, func(d *model.Device) {
		d.Busy = false
		d.LastCmdExecutedAt = nil
		d.NewCommandTimeout = nil
	})
	if ok && r.postErr != nil {
		return d, true, r.postErr
	}
	return d, ok, nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []model.DeviceEvent
}

func (p *mockPublisher) Publish(_ context.Context, e model.DeviceEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

var testNow = time.UnixMilli(1700000000000)

func busyDevice(udid, host string, idle time.Duration) model.Device {
	d := model.Device{
		UDID:       udid,
		Host:       host,
		Platform:   constants.PlatformAndroid,
		DeviceType: constants.DeviceTypeReal,
		Busy:       true,
	}
	if idle >= 0 {
		ts := testNow.Add(-idle).UnixMilli()
		d.LastCmdExecutedAt = &ts
	}
	return d
}

func seed(repo *registry.MemoryRepository, devices ...model.Device) {
	for _, d := range devices {
		repo.Upsert(d)
		d := d
		repo.Update(d.Key(), func(cur *model.Device) {
			cur.Busy = d.Busy
			cur.UserBlocked = d.UserBlocked
			cur.LastCmdExecutedAt = d.LastCmdExecutedAt
			cur.NewCommandTimeout = d.NewCommandTimeout
		})
	}
}

func newTestReleaser(repo registry.Repository, pub *mockPublisher) *IdleReleaser {
	r := NewIdleReleaser(repo, &registryReleaser{repo: repo}, nil, nil)
	if pub != nil {
		r.publisher = pub
	}
	r.now = func() time.Time { return testNow }
	return r
}

func TestReleaseIdleDevices_ReleasesPastDefaultTimeout(t *testing.T) {
	repo := registry.NewMemoryRepository()
	seed(repo,
		busyDevice("idle", "h", 2*time.Minute),
		busyDevice("active", "h", 10*time.Second),
	)
	pub := &mockPublisher{}

	released := newTestReleaser(repo, pub).ReleaseIdleDevices(context.Background(), 60*time.Second)

	require.Len(t, released, 1)
	assert.Equal(t, "idle", released[0].UDID)
	assert.Equal(t, 1, repo.BusyCount())

	require.Len(t, pub.events, 1)
	assert.Equal(t, model.EventDeviceIdle, pub.events[0].Type)
	assert.Equal(t, "idle", pub.events[0].UDID)
	assert.InDelta(t, 120, pub.events[0].IdleSeconds, 0.001)
}

func TestReleaseIdleDevices_MissingTimestampNeverReleased(t *testing.T) {
	repo := registry.NewMemoryRepository()
	seed(repo, busyDevice("fresh", "h", -1))

	released := newTestReleaser(repo, nil).ReleaseIdleDevices(context.Background(), 0)

	assert.Empty(t, released)
	got, _ := repo.Get(model.DeviceKey{UDID: "fresh", Host: "h"})
	assert.True(t, got.Busy)
}

func TestReleaseIdleDevices_OverridePrecedence(t *testing.T) {
	repo := registry.NewMemoryRepository()

	short := busyDevice("short-override", "h", 30*time.Second)
	shortTimeout := 10.0
	short.NewCommandTimeout = &shortTimeout

	long := busyDevice("long-override", "h", 5*time.Minute)
	longTimeout := 600.0
	long.NewCommandTimeout = &longTimeout

	seed(repo, short, long)

	released := newTestReleaser(repo, nil).ReleaseIdleDevices(context.Background(), 60*time.Second)

	require.Len(t, released, 1)
	assert.Equal(t, "short-override", released[0].UDID)
	assert.Nil(t, released[0].NewCommandTimeout)
}

func TestReleaseIdleDevices_UserBlockedImmune(t *testing.T) {
	repo := registry.NewMemoryRepository()
	d := busyDevice("held", "h", 24*time.Hour)
	d.UserBlocked = true
	seed(repo, d)

	released := newTestReleaser(repo, nil).ReleaseIdleDevices(context.Background(), time.Second)

	assert.Empty(t, released)
	assert.Equal(t, 1, repo.BusyCount())
}

func TestReleaseIdleDevices_ReleasesDevicesOfEveryHost(t *testing.T) {
	repo := registry.NewMemoryRepository()
	seed(repo,
		busyDevice("emulator-5555", "http://192.168.0.225:4723", 5*time.Minute),
		busyDevice("emulator-5555", "http://192.168.0.226:4723", 5*time.Minute),
	)

	released := newTestReleaser(repo, nil).ReleaseIdleDevices(context.Background(), 60*time.Second)

	assert.Len(t, released, 2)
	assert.Equal(t, 0, repo.BusyCount())
}

func TestReleaseIdleDevices_IsIdempotent(t *testing.T) {
	repo := registry.NewMemoryRepository()
	seed(repo, busyDevice("idle", "h", 5*time.Minute))
	r := newTestReleaser(repo, nil)

	assert.Len(t, r.ReleaseIdleDevices(context.Background(), time.Minute), 1)
	assert.Empty(t, r.ReleaseIdleDevices(context.Background(), time.Minute))
}

func TestReleaseIdleDevices_ReleaserErrorContinues(t *testing.T) {
	repo := registry.NewMemoryRepository()
	seed(repo, busyDevice("a", "h", 5*time.Minute), busyDevice("b", "h", 5*time.Minute))

	r := NewIdleReleaser(repo, &registryReleaser{repo: repo, err: errors.New("store down")}, nil, nil)
	r.now = func() time.Time { return testNow }

	assert.Empty(t, r.ReleaseIdleDevices(context.Background(), time.Minute))
	assert.Equal(t, 2, repo.BusyCount())
}

func TestReleaseIdleDevices_ReleasedDespiteBookkeepingError(t *testing.T) {
	repo := registry.NewMemoryRepository()
	seed(repo, busyDevice("idle", "h", 5*time.Minute))
	pub := &mockPublisher{}

	r := NewIdleReleaser(repo, &registryReleaser{repo: repo, postErr: errors.New("utilization store down")}, pub, nil)
	r.now = func() time.Time { return testNow }

	released := r.ReleaseIdleDevices(context.Background(), time.Minute)

	require.Len(t, released, 1)
	assert.Equal(t, "idle", released[0].UDID)
	assert.Equal(t, 0, repo.BusyCount())
	require.Len(t, pub.events, 1)
	assert.Equal(t, model.EventDeviceIdle, pub.events[0].Type)
}

func TestIdleReleaser_JobContract(t *testing.T) {
	repo := registry.NewMemoryRepository()
	seed(repo, busyDevice("idle", "h", 5*time.Minute))
	r := newTestReleaser(repo, nil)

	assert.Equal(t, "idle-device-release", r.Name())
	assert.Equal(t, 30*time.Second, r.Interval())
	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 0, repo.BusyCount())
}
