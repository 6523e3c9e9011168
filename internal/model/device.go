package model

import (
	"fmt"
	"strings"

	"devicefarm/pkg/constants"
)

// DeviceKey identity of a device record. The same udid may exist on several hosts.
type DeviceKey struct {
	UDID string `json:"udid" binding:"required"`
	Host string `json:"host" binding:"required"`
}

func (k DeviceKey) String() string {
	return fmt.Sprintf("%s@%s", k.UDID, k.Host)
}

// Device device record shared between nodes and the hub
type Device struct {
	UDID            string               `json:"udid"`
	Platform        constants.Platform   `json:"platform"`
	DeviceType      constants.DeviceType `json:"deviceType"`
	Name            string               `json:"name"`
	PlatformVersion string               `json:"platformVersion,omitempty"`
	SDK             string               `json:"sdk,omitempty"`
	Host            string               `json:"host"`            // Owning node base address
	State           string               `json:"state,omitempty"` // Simulator state (Booted, Shutdown) or adb state

	Busy              bool     `json:"busy"`
	UserBlocked       bool     `json:"userBlocked"`
	LastCmdExecutedAt *int64   `json:"lastCmdExecutedAt,omitempty"` // epoch ms, nil = no command since claim
	NewCommandTimeout *float64 `json:"newCommandTimeout,omitempty"` // seconds, per-session override

	TotalUtilizationTimeMs int64 `json:"totalUtilizationTimeMilliSec"`
	SessionStartTime       int64 `json:"sessionStartTime"` // epoch ms
	Offline                bool  `json:"offline"`
	Cloud                  bool  `json:"cloud,omitempty"`
}

// Key returns the identity key of the device
func (d *Device) Key() DeviceKey {
	return DeviceKey{UDID: d.UDID, Host: d.Host}
}

// IsOwnedBy reports whether the device belongs to the node at address
func (d *Device) IsOwnedBy(address string) bool {
	return address != "" && strings.Contains(d.Host, address)
}

// Clone returns a deep copy of the device
func (d *Device) Clone() *Device {
	c := *d
	if d.LastCmdExecutedAt != nil {
		v := *d.LastCmdExecutedAt
		c.LastCmdExecutedAt = &v
	}
	if d.NewCommandTimeout != nil {
		v := *d.NewCommandTimeout
		c.NewCommandTimeout = &v
	}
	return &c
}

// MergeDiscovered copies discovery-owned attributes from src, keeping allocation state untouched
func (d *Device) MergeDiscovered(src *Device) {
	d.Platform = src.Platform
	d.DeviceType = src.DeviceType
	d.Name = src.Name
	d.PlatformVersion = src.PlatformVersion
	d.SDK = src.SDK
	d.State = src.State
	d.Offline = src.Offline
	d.Cloud = src.Cloud
}

// Session an allocated device bound to an enriched capability request
type Session struct {
	ID           string             `json:"id"`
	Device       Device             `json:"device"`
	Capabilities *CapabilityRequest `json:"capabilities"`
}
