// Package capability enriches a session request with the details of the device
// allocated to it.
package capability

import (
	"context"
	"errors"
	"fmt"

	"devicefarm/internal/model"
	"devicefarm/pkg/constants"
)

var (
	// ErrUnsupportedPlatform is returned for devices of a platform the adapter does not know
	ErrUnsupportedPlatform = errors.New("capability: unsupported platform")
	// ErrCloudDevice is returned for cloud devices, which need a provider-specific adapter
	ErrCloudDevice = errors.New("capability: cloud devices need a provider adapter")
)

// Capability names written by the default adapter
const (
	CapAutomationName = "appium:automationName"
	CapDeviceHost     = "df:deviceHost"
)

// Adapter turns an allocated device into session capabilities.
type Adapter interface {
	Adapt(ctx context.Context, caps *model.CapabilityRequest, device model.Device) error
}

// DefaultAdapter pins the session to the allocated device
type DefaultAdapter struct{}

// NewDefaultAdapter creates the default adapter
func NewDefaultAdapter() *DefaultAdapter {
	return &DefaultAdapter{}
}

// Adapt implements Adapter
func (a *DefaultAdapter) Adapt(_ context.Context, caps *model.CapabilityRequest, device model.Device) error {
	if device.Cloud {
		return fmt.Errorf("%w: %s", ErrCloudDevice, device.Host)
	}

	var automation string
	switch constants.ParsePlatform(string(device.Platform)) {
	case constants.PlatformAndroid:
		automation = "UiAutomator2"
	case constants.PlatformIOS:
		automation = "XCUITest"
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedPlatform, device.Platform)
	}

	caps.SetAlwaysMatch(constants.CapUDID, device.UDID)
	if device.Name != "" {
		caps.SetAlwaysMatch(constants.CapDeviceName, device.Name)
	}
	if device.PlatformVersion != "" {
		caps.SetAlwaysMatch(constants.CapPlatformVersion, device.PlatformVersion)
	}
	if _, ok := caps.Merged()[CapAutomationName]; !ok {
		caps.SetAlwaysMatch(CapAutomationName, automation)
	}
	caps.SetAlwaysMatch(CapDeviceHost, device.Host)

	// A udid list from the request must not leak into the session of a single device
	delete(caps.AlwaysMatch, constants.CapUDIDs)
	for _, fm := range caps.FirstMatch {
		delete(fm, constants.CapUDIDs)
		delete(fm, constants.CapUDID)
	}
	return nil
}
