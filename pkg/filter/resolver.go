// Package filter turns a session capability request into a normalized device filter.
// It never reads the device registry.
package filter

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"devicefarm/internal/model"
	"devicefarm/pkg/config"
	"devicefarm/pkg/constants"
)

var (
	// ErrMissingPlatform is returned when the capability request carries no platformName
	ErrMissingPlatform = errors.New("filter: platformName capability is required")

	// ErrConfigurationConflict is returned when the requested device type contradicts server policy
	ErrConfigurationConflict = errors.New("filter: configuration conflict")
)

// ConflictError explains which policy the request violated
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// Is reports ErrConfigurationConflict equivalence
func (e *ConflictError) Is(target error) bool {
	return target == ErrConfigurationConflict
}

// Defaults server-level values used when a capability does not override them
type Defaults struct {
	DeviceAvailabilityTimeout time.Duration
	DeviceRetryInterval       time.Duration
	IOSDeviceType             constants.AllowedDeviceType
}

// DefaultsFromConfig builds resolver defaults from the farm configuration
func DefaultsFromConfig(cfg config.FarmConfig) Defaults {
	return Defaults{
		DeviceAvailabilityTimeout: time.Duration(cfg.DeviceAvailabilityTimeout) * time.Millisecond,
		DeviceRetryInterval:       time.Duration(cfg.DeviceRetryInterval) * time.Millisecond,
		IOSDeviceType:             constants.AllowedDeviceType(cfg.IOSDeviceType),
	}
}

// Request a resolved allocation request
type Request struct {
	Filter       model.Filter
	Timeout      time.Duration
	PollInterval time.Duration
	// NewCommandTimeout per-session idle override in seconds, nil when the capability does not set one
	NewCommandTimeout *float64
}

// Resolver resolves capability requests against server defaults
type Resolver struct {
	defaults Defaults
	envUDIDs func() string
}

// NewResolver creates a resolver reading the udid fallback list from the UDIDS environment variable
func NewResolver(defaults Defaults) *Resolver {
	return &Resolver{
		defaults: defaults,
		envUDIDs: func() string { return os.Getenv(constants.EnvUDIDs) },
	}
}

// WithEnvUDIDs replaces the udid fallback source
func (r *Resolver) WithEnvUDIDs(source func() string) *Resolver {
	r.envUDIDs = source
	return r
}

// Resolve builds the allocation request for caps.
// Configuration conflicts are reported here, before any allocation wait begins.
func (r *Resolver) Resolve(caps *model.CapabilityRequest) (*Request, error) {
	if caps == nil {
		return nil, ErrMissingPlatform
	}
	merged := caps.Merged()

	platformName := stringCap(merged, constants.CapPlatformName)
	if platformName == "" {
		return nil, ErrMissingPlatform
	}
	platform := constants.ParsePlatform(platformName)

	var deviceType constants.DeviceType
	if platform == constants.PlatformIOS {
		deviceType = DeviceTypeFromApp(stringCap(merged, constants.CapApp))
		if err := checkAllowed(deviceType, r.defaults.IOSDeviceType); err != nil {
			return nil, err
		}
	}

	f := model.Filter{
		Platform:        platform,
		PlatformVersion: stringCap(merged, constants.CapPlatformVersion),
		Name:            resolveName(merged),
		DeviceType:      deviceType,
		UDID:            r.resolveUDIDs(merged),
		Busy:            false,
		UserBlocked:     false,
		MinSDK:          stringCap(merged, constants.CapMinSDK),
		MaxSDK:          stringCap(merged, constants.CapMaxSDK),
	}

	req := &Request{
		Filter:       f,
		Timeout:      r.defaults.DeviceAvailabilityTimeout,
		PollInterval: r.defaults.DeviceRetryInterval,
	}
	if ms, ok := numberCap(merged, constants.CapDeviceTimeout); ok && ms > 0 {
		req.Timeout = time.Duration(ms * float64(time.Millisecond))
	}
	if ms, ok := numberCap(merged, constants.CapDeviceRetry); ok && ms > 0 {
		req.PollInterval = time.Duration(ms * float64(time.Millisecond))
	}
	if sec, ok := numberCap(merged, constants.CapNewCommandTimeout); ok && sec > 0 {
		req.NewCommandTimeout = &sec
	}
	return req, nil
}

// DeviceTypeFromApp infers the iOS device type from the app artifact.
// Bundles and zip archives run on simulators, anything else on real hardware.
// An empty artifact (browser sessions) yields no constraint.
func DeviceTypeFromApp(app string) constants.DeviceType {
	if app == "" {
		return ""
	}
	if strings.HasSuffix(app, "app") || strings.HasSuffix(app, "zip") {
		return constants.DeviceTypeSimulator
	}
	return constants.DeviceTypeReal
}

func checkAllowed(inferred constants.DeviceType, allowed constants.AllowedDeviceType) error {
	switch {
	case inferred == constants.DeviceTypeSimulator && allowed.RealOnly():
		return &ConflictError{Message: `iosDeviceType value is set to "real" but app provided is not suitable for real device.`}
	case inferred == constants.DeviceTypeReal && allowed.SimulatorOnly():
		return &ConflictError{Message: `iosDeviceType value is set to "simulated" but app provided is not suitable for simulator device.`}
	}
	return nil
}

func resolveName(caps map[string]interface{}) string {
	if boolCap(caps, constants.CapIPadOnly) {
		return "iPad"
	}
	if boolCap(caps, constants.CapIPhoneOnly) {
		return "iPhone"
	}
	return ""
}

func (r *Resolver) resolveUDIDs(caps map[string]interface{}) model.UDIDs {
	if list := splitList(stringCap(caps, constants.CapUDIDs)); len(list) > 0 {
		return list
	}
	if r.envUDIDs != nil {
		if list := splitList(r.envUDIDs()); len(list) > 0 {
			return list
		}
	}
	if udid := stringCap(caps, constants.CapUDID); udid != "" {
		return model.UDIDs{udid}
	}
	return nil
}

func splitList(s string) model.UDIDs {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out model.UDIDs
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func stringCap(caps map[string]interface{}, key string) string {
	v, ok := caps[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	default:
		return fmt.Sprint(t)
	}
}

func boolCap(caps map[string]interface{}, key string) bool {
	switch t := caps[key].(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(t)
		return b
	}
	return false
}

func numberCap(caps map[string]interface{}, key string) (float64, bool) {
	switch t := caps[key].(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}
