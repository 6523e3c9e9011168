package registry

import (
	"sync"
	"testing"

	"devicefarm/internal/model"
	"devicefarm/pkg/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDevice(udid, host string) model.Device {
	return model.Device{
		UDID:       udid,
		Host:       host,
		Platform:   constants.PlatformAndroid,
		DeviceType: constants.DeviceTypeReal,
		Name:       udid,
	}
}

func TestMemoryRepository_SameUDIDOnTwoHostsAreDistinct(t *testing.T) {
	repo := NewMemoryRepository()
	repo.BulkUpsert([]model.Device{
		newDevice("emulator-5555", "http://192.168.0.225:4723"),
		newDevice("emulator-5555", "http://192.168.0.226:4723"),
	})

	assert.Len(t, repo.Snapshot(), 2)
}

func TestMemoryRepository_UpsertIsIdempotent(t *testing.T) {
	repo := NewMemoryRepository()
	d := newDevice("a", "h1")
	repo.Upsert(d)
	repo.Upsert(d)

	assert.Len(t, repo.Snapshot(), 1)
}

func TestMemoryRepository_UpsertPreservesAllocationState(t *testing.T) {
	repo := NewMemoryRepository()
	d := newDevice("a", "h1")
	repo.Upsert(d)

	ts := int64(1234)
	_, ok := repo.Update(d.Key(), func(dev *model.Device) {
		dev.Busy = true
		dev.UserBlocked = true
		dev.LastCmdExecutedAt = &ts
	})
	require.True(t, ok)

	refreshed := newDevice("a", "h1")
	refreshed.Name = "Pixel 8"
	refreshed.State = "device"
	repo.Upsert(refreshed)

	got, ok := repo.Get(d.Key())
	require.True(t, ok)
	assert.Equal(t, "Pixel 8", got.Name)
	assert.Equal(t, "device", got.State)
	assert.True(t, got.Busy)
	assert.True(t, got.UserBlocked)
	require.NotNil(t, got.LastCmdExecutedAt)
	assert.Equal(t, ts, *got.LastCmdExecutedAt)
}

func TestMemoryRepository_SnapshotIsOrderedCopy(t *testing.T) {
	repo := NewMemoryRepository()
	repo.Upsert(newDevice("b", "h"))
	repo.Upsert(newDevice("a", "h"))
	repo.Upsert(newDevice("c", "h"))

	snap := repo.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{snap[0].UDID, snap[1].UDID, snap[2].UDID})

	snap[0].Busy = true
	assert.Equal(t, 0, repo.BusyCount())
}

func TestMemoryRepository_RemoveAndRemoveWhere(t *testing.T) {
	repo := NewMemoryRepository()
	repo.BulkUpsert([]model.Device{
		newDevice("a", "h1"),
		newDevice("b", "h1"),
		newDevice("c", "h2"),
	})

	assert.True(t, repo.Remove(model.DeviceKey{UDID: "a", Host: "h1"}))
	assert.False(t, repo.Remove(model.DeviceKey{UDID: "a", Host: "h1"}))

	removed := repo.RemoveWhere(func(d *model.Device) bool { return d.Host == "h1" })
	require.Len(t, removed, 1)
	assert.Equal(t, "b", removed[0].UDID)

	snap := repo.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "c", snap[0].UDID)
}

func TestMemoryRepository_BusyCount(t *testing.T) {
	repo := NewMemoryRepository()
	repo.BulkUpsert([]model.Device{newDevice("a", "h"), newDevice("b", "h")})
	repo.Update(model.DeviceKey{UDID: "a", Host: "h"}, func(d *model.Device) { d.Busy = true })

	assert.Equal(t, 1, repo.BusyCount())
}

func TestMemoryRepository_ClaimFirstNeverDoubleClaims(t *testing.T) {
	repo := NewMemoryRepository()
	const devices = 20
	for i := 0; i < devices; i++ {
		repo.Upsert(newDevice("emulator-5555", string(rune('a'+i))))
	}

	free := func(d *model.Device) bool { return !d.Busy }
	claim := func(d *model.Device) { d.Busy = true }

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[model.DeviceKey]int)
	)
	for i := 0; i < devices*3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, ok := repo.ClaimFirst(free, claim)
			if !ok {
				return
			}
			mu.Lock()
			claimed[d.Key()]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, claimed, devices)
	for key, n := range claimed {
		assert.Equal(t, 1, n, "device %s claimed more than once", key)
	}
	assert.Equal(t, devices, repo.BusyCount())
}

func TestMemoryRepository_SetSimulatorState(t *testing.T) {
	repo := NewMemoryRepository()
	sim := newDevice("SIM-1", "h")
	sim.Platform = constants.PlatformIOS
	sim.DeviceType = constants.DeviceTypeSimulator
	sim.State = "Shutdown"
	repo.Upsert(sim)
	repo.Upsert(newDevice("real-1", "h"))

	updated := repo.SetSimulatorState([]model.Device{
		{UDID: "SIM-1", State: "Booted"},
		{UDID: "real-1", State: "Booted"},
	})
	assert.Equal(t, 1, updated)

	got, _ := repo.Get(sim.Key())
	assert.Equal(t, "Booted", got.State)
}

func TestMemoryRepository_ClaimFirstWithinRespectsLimit(t *testing.T) {
	repo := NewMemoryRepository()
	repo.BulkUpsert([]model.Device{newDevice("a", "h"), newDevice("b", "h"), newDevice("c", "h")})

	free := func(d *model.Device) bool { return !d.Busy }
	claim := func(d *model.Device) { d.Busy = true }

	_, ok := repo.ClaimFirstWithin(2, free, claim)
	require.True(t, ok)
	_, ok = repo.ClaimFirstWithin(2, free, claim)
	require.True(t, ok)
	_, ok = repo.ClaimFirstWithin(2, free, claim)
	assert.False(t, ok)
	assert.Equal(t, 2, repo.BusyCount())

	_, ok = repo.ClaimFirstWithin(0, free, claim)
	assert.True(t, ok)
}

func TestMemoryRepository_UpdateIf(t *testing.T) {
	repo := NewMemoryRepository()
	d := newDevice("a", "h")
	repo.Upsert(d)

	_, ok := repo.UpdateIf(d.Key(), func(dev *model.Device) bool { return dev.Busy }, func(dev *model.Device) { dev.Name = "x" })
	assert.False(t, ok)

	got, ok := repo.UpdateIf(d.Key(), nil, func(dev *model.Device) { dev.Name = "x" })
	require.True(t, ok)
	assert.Equal(t, "x", got.Name)

	_, ok = repo.UpdateIf(model.DeviceKey{UDID: "missing", Host: "h"}, nil, func(dev *model.Device) {})
	assert.False(t, ok)
}
