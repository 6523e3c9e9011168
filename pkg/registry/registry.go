// Package registry holds the in-memory device records shared by the allocator,
// the release scheduler and the topology synchronizer.
//
// Every mutation runs under the repository lock one at a time. ClaimFirst is the
// only compound read-modify-write and is the single place a device becomes busy.
package registry

import (
	"errors"
	"sync"

	"devicefarm/internal/model"
	"devicefarm/pkg/constants"
)

// ErrDeviceNotFound is returned when no record exists for a (udid, host) key.
var ErrDeviceNotFound = errors.New("registry: device not found")

// Predicate selects device records. It runs under the repository lock and must not call back into it.
type Predicate func(d *model.Device) bool

// Mutation modifies a device record in place under the repository lock.
type Mutation func(d *model.Device)

// Repository is the device store used by every component. A persistent backing store
// can replace MemoryRepository as long as ClaimFirst stays a single guarded operation.
type Repository interface {
	Upsert(d model.Device)
	BulkUpsert(devices []model.Device)
	Remove(key model.DeviceKey) bool
	RemoveWhere(pred Predicate) []model.Device
	Get(key model.DeviceKey) (model.Device, bool)
	Find(pred Predicate) []model.Device
	Snapshot() []model.Device
	BusyCount() int
	Update(key model.DeviceKey, mutate Mutation) (model.Device, bool)
	UpdateIf(key model.DeviceKey, guard Predicate, mutate Mutation) (model.Device, bool)
	ClaimFirst(pred Predicate, mutate Mutation) (model.Device, bool)
	ClaimFirstWithin(maxBusy int, pred Predicate, mutate Mutation) (model.Device, bool)
	SetSimulatorState(simulators []model.Device) int
}

// MemoryRepository keeps device records in insertion order
type MemoryRepository struct {
	mu      sync.RWMutex
	devices map[model.DeviceKey]*model.Device
	order   []model.DeviceKey
}

// NewMemoryRepository creates an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		devices: make(map[model.DeviceKey]*model.Device),
	}
}

// Upsert inserts a device or refreshes the discovery attributes of an existing record.
// Allocation state of an existing record is never overwritten.
func (r *MemoryRepository) Upsert(d model.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertLocked(&d)
}

// BulkUpsert upserts all devices
func (r *MemoryRepository) BulkUpsert(devices []model.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range devices {
		r.upsertLocked(&devices[i])
	}
}

func (r *MemoryRepository) upsertLocked(d *model.Device) {
	key := d.Key()
	if existing, ok := r.devices[key]; ok {
		existing.MergeDiscovered(d)
		return
	}
	r.devices[key] = d.Clone()
	r.order = append(r.order, key)
}

// Remove deletes the record with the given key
func (r *MemoryRepository) Remove(key model.DeviceKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.devices[key]; !ok {
		return false
	}
	r.removeLocked(key)
	return true
}

// RemoveWhere deletes every record matching pred and returns the removed records
func (r *MemoryRepository) RemoveWhere(pred Predicate) []model.Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []model.Device
	for _, key := range append([]model.DeviceKey(nil), r.order...) {
		d := r.devices[key]
		if pred(d) {
			removed = append(removed, *d.Clone())
			r.removeLocked(key)
		}
	}
	return removed
}

func (r *MemoryRepository) removeLocked(key model.DeviceKey) {
	delete(r.devices, key)
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of the record with the given key
func (r *MemoryRepository) Get(key model.DeviceKey) (model.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[key]
	if !ok {
		return model.Device{}, false
	}
	return *d.Clone(), true
}

// Find returns copies of all records matching pred, in insertion order
func (r *MemoryRepository) Find(pred Predicate) []model.Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]model.Device, 0)
	for _, key := range r.order {
		d := r.devices[key]
		if pred == nil || pred(d) {
			result = append(result, *d.Clone())
		}
	}
	return result
}

// Snapshot returns copies of all records in insertion order
func (r *MemoryRepository) Snapshot() []model.Device {
	return r.Find(nil)
}

// BusyCount returns the number of busy records
func (r *MemoryRepository) BusyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.busyCountLocked()
}

func (r *MemoryRepository) busyCountLocked() int {
	count := 0
	for _, d := range r.devices {
		if d.Busy {
			count++
		}
	}
	return count
}

// Update applies mutate to the record with the given key and returns the updated copy
func (r *MemoryRepository) Update(key model.DeviceKey, mutate Mutation) (model.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[key]
	if !ok {
		return model.Device{}, false
	}
	mutate(d)
	return *d.Clone(), true
}

// UpdateIf applies mutate only when guard holds for the current record. A nil guard always holds.
func (r *MemoryRepository) UpdateIf(key model.DeviceKey, guard Predicate, mutate Mutation) (model.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[key]
	if !ok || (guard != nil && !guard(d)) {
		return model.Device{}, false
	}
	mutate(d)
	return *d.Clone(), true
}

// ClaimFirst finds the first record matching pred and applies mutate to it
// without releasing the lock in between. No two callers can claim the same record.
func (r *MemoryRepository) ClaimFirst(pred Predicate, mutate Mutation) (model.Device, bool) {
	return r.ClaimFirstWithin(0, pred, mutate)
}

// ClaimFirstWithin behaves like ClaimFirst but claims nothing while maxBusy or more
// records are already busy. maxBusy <= 0 means no limit.
func (r *MemoryRepository) ClaimFirstWithin(maxBusy int, pred Predicate, mutate Mutation) (model.Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if maxBusy > 0 && r.busyCountLocked() >= maxBusy {
		return model.Device{}, false
	}
	for _, key := range r.order {
		d := r.devices[key]
		if pred(d) {
			mutate(d)
			return *d.Clone(), true
		}
	}
	return model.Device{}, false
}

// SetSimulatorState copies the state of each listed simulator onto the matching
// simulator record. Returns the number of records updated.
func (r *MemoryRepository) SetSimulatorState(simulators []model.Device) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	updated := 0
	for i := range simulators {
		sim := &simulators[i]
		for _, d := range r.devices {
			if d.UDID == sim.UDID && d.DeviceType == constants.DeviceTypeSimulator && d.State != sim.State {
				d.State = sim.State
				updated++
			}
		}
	}
	return updated
}

var _ Repository = (*MemoryRepository)(nil)
