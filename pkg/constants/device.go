package constants

import "strings"

// Platform device operating system
type Platform string

const (
	PlatformAndroid Platform = "android"
	PlatformIOS     Platform = "ios"
	PlatformBoth    Platform = "both" // Server-level setting only, never stored on a device
)

func (p Platform) String() string {
	return string(p)
}

// ParsePlatform normalizes a capability platformName value
func ParsePlatform(s string) Platform {
	return Platform(strings.ToLower(strings.TrimSpace(s)))
}

// DeviceType real hardware or simulator/emulator
type DeviceType string

const (
	DeviceTypeReal      DeviceType = "real"
	DeviceTypeSimulator DeviceType = "simulator"
)

func (t DeviceType) String() string {
	return string(t)
}

// AllowedDeviceType server policy for which device types a platform may serve
type AllowedDeviceType string

const (
	AllowedReal      AllowedDeviceType = "real"
	AllowedSimulated AllowedDeviceType = "simulated"
	AllowedBoth      AllowedDeviceType = "both"
)

// RealOnly reports whether the policy restricts sessions to real devices
func (a AllowedDeviceType) RealOnly() bool {
	return strings.HasPrefix(string(a), "real")
}

// SimulatorOnly reports whether the policy restricts sessions to simulators
func (a AllowedDeviceType) SimulatorOnly() bool {
	return strings.HasPrefix(string(a), "sim")
}

// RegisterIntent tags a node->hub device list push
type RegisterIntent string

const (
	RegisterIntentAdd    RegisterIntent = "add"
	RegisterIntentRemove RegisterIntent = "remove"
)

// Custom capability names understood by the filter resolver
const (
	CapPlatformName      = "platformName"
	CapApp               = "appium:app"
	CapUDID              = "appium:udid"
	CapPlatformVersion   = "appium:platformVersion"
	CapNewCommandTimeout = "appium:newCommandTimeout"
	CapDeviceTimeout     = "appium:deviceAvailabilityTimeout"
	CapDeviceRetry       = "appium:deviceRetryInterval"
	CapIPhoneOnly        = "appium:iPhoneOnly"
	CapIPadOnly          = "appium:iPadOnly"
	CapUDIDs             = "appium:udids"
	CapMinSDK            = "appium:minSDK"
	CapMaxSDK            = "appium:maxSDK"
	CapDeviceName        = "appium:deviceName"
)

// EnvUDIDs process-wide udid fallback list (comma separated)
const EnvUDIDs = "UDIDS"
