// Package discovery enumerates the devices attached to this node.
package discovery

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"devicefarm/internal/model"
	"devicefarm/pkg/constants"
	"devicefarm/pkg/logger"
)

// Discoverer returns the devices currently attached to this node
type Discoverer interface {
	Discover(ctx context.Context) ([]model.Device, error)
}

// SimulatorLister returns the simulators known to this node with their current state
type SimulatorLister interface {
	ListSimulators(ctx context.Context) ([]model.Device, error)
}

// Policy selects which attached devices this node serves
type Policy struct {
	Platform          constants.Platform
	IOSDeviceType     constants.AllowedDeviceType
	AndroidDeviceType constants.AllowedDeviceType
}

// Allows reports whether d is served under the policy
func (p Policy) Allows(d *model.Device) bool {
	if p.Platform != "" && p.Platform != constants.PlatformBoth && p.Platform != d.Platform {
		return false
	}
	allowed := p.AndroidDeviceType
	if d.Platform == constants.PlatformIOS {
		allowed = p.IOSDeviceType
	}
	switch {
	case allowed.RealOnly():
		return d.DeviceType == constants.DeviceTypeReal
	case allowed.SimulatorOnly():
		return d.DeviceType == constants.DeviceTypeSimulator
	}
	return true
}

// InventoryEntry one device of the inventory file
type InventoryEntry struct {
	UDID            string `yaml:"udid"`
	Platform        string `yaml:"platform"`
	DeviceType      string `yaml:"deviceType"`
	Name            string `yaml:"name"`
	PlatformVersion string `yaml:"platformVersion"`
	SDK             string `yaml:"sdk"`
	State           string `yaml:"state"`
	Offline         bool   `yaml:"offline"`
}

// InventoryFile represents the structure of the inventory file
type InventoryFile struct {
	Devices []InventoryEntry `yaml:"devices"`
}

// FileInventory discovers devices listed in a YAML file. The file is re-read on every
// call so an external agent (adb or simctl wrapper) can keep it current.
type FileInventory struct {
	path   string
	host   string
	policy Policy
}

// NewFileInventory creates a file-backed discoverer stamping every device with host
func NewFileInventory(path, host string, policy Policy) *FileInventory {
	return &FileInventory{path: path, host: host, policy: policy}
}

// Discover implements Discoverer
func (f *FileInventory) Discover(ctx context.Context) ([]model.Device, error) {
	entries, err := f.load()
	if err != nil {
		return nil, err
	}

	devices := make([]model.Device, 0, len(entries))
	for _, e := range entries {
		if e.UDID == "" {
			logger.WarnCtx(ctx, "skipping inventory entry without udid in %s", f.path)
			continue
		}
		d := f.toDevice(e)
		if !f.policy.Allows(&d) {
			continue
		}
		devices = append(devices, d)
	}
	return devices, nil
}

// ListSimulators implements SimulatorLister
func (f *FileInventory) ListSimulators(ctx context.Context) ([]model.Device, error) {
	devices, err := f.Discover(ctx)
	if err != nil {
		return nil, err
	}
	sims := devices[:0]
	for _, d := range devices {
		if d.DeviceType == constants.DeviceTypeSimulator {
			sims = append(sims, d)
		}
	}
	return sims, nil
}

func (f *FileInventory) load() ([]InventoryEntry, error) {
	if f.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}

	var inventory InventoryFile
	if err := yaml.Unmarshal(data, &inventory); err != nil {
		return nil, fmt.Errorf("failed to parse inventory file: %w", err)
	}
	return inventory.Devices, nil
}

func (f *FileInventory) toDevice(e InventoryEntry) model.Device {
	deviceType := constants.DeviceType(e.DeviceType)
	if deviceType == "" {
		deviceType = constants.DeviceTypeReal
	}
	return model.Device{
		UDID:            e.UDID,
		Platform:        constants.ParsePlatform(e.Platform),
		DeviceType:      deviceType,
		Name:            e.Name,
		PlatformVersion: e.PlatformVersion,
		SDK:             e.SDK,
		Host:            f.host,
		State:           e.State,
		Offline:         e.Offline,
	}
}

var (
	_ Discoverer      = (*FileInventory)(nil)
	_ SimulatorLister = (*FileInventory)(nil)
)
