package model

import (
	"encoding/json"
	"strings"

	"devicefarm/pkg/constants"

	"golang.org/x/mod/semver"
)

// UDIDs udid filter. A single value serializes as a JSON string, several as an array.
type UDIDs []string

// MarshalJSON implements json.Marshaler
func (u UDIDs) MarshalJSON() ([]byte, error) {
	if len(u) == 1 {
		return json.Marshal(u[0])
	}
	return json.Marshal([]string(u))
}

// UnmarshalJSON implements json.Unmarshaler
func (u *UDIDs) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*u = UDIDs{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*u = many
	return nil
}

// Contains reports whether udid is part of the set
func (u UDIDs) Contains(udid string) bool {
	for _, v := range u {
		if v == udid {
			return true
		}
	}
	return false
}

// Filter normalized device query built once per allocation attempt.
// Field order is part of the externally visible error message.
type Filter struct {
	Platform        constants.Platform   `json:"platform"`
	PlatformVersion string               `json:"platformVersion,omitempty"`
	Name            string               `json:"name"`
	DeviceType      constants.DeviceType `json:"deviceType,omitempty"`
	UDID            UDIDs                `json:"udid,omitempty"`
	Busy            bool                 `json:"busy"`
	UserBlocked     bool                 `json:"userBlocked"`
	MinSDK          string               `json:"minSDK,omitempty"`
	MaxSDK          string               `json:"maxSDK,omitempty"`
}

// String returns the JSON form used in diagnostics
func (f *Filter) String() string {
	data, err := json.Marshal(f)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Matches reports whether d satisfies every constraint of the filter.
// Offline devices never match.
func (f *Filter) Matches(d *Device) bool {
	if d.Offline {
		return false
	}
	if d.Busy != f.Busy || d.UserBlocked != f.UserBlocked {
		return false
	}
	if f.Platform != "" && constants.ParsePlatform(string(d.Platform)) != f.Platform {
		return false
	}
	if f.PlatformVersion != "" && d.SDK != f.PlatformVersion && d.PlatformVersion != f.PlatformVersion {
		return false
	}
	if f.Name != "" && !strings.Contains(d.Name, f.Name) {
		return false
	}
	if f.DeviceType != "" && d.DeviceType != f.DeviceType {
		return false
	}
	if len(f.UDID) > 0 && !f.UDID.Contains(d.UDID) {
		return false
	}
	if f.MinSDK != "" || f.MaxSDK != "" {
		version := d.SDK
		if version == "" {
			version = d.PlatformVersion
		}
		if !withinSDKBounds(version, f.MinSDK, f.MaxSDK) {
			return false
		}
	}
	return true
}

func withinSDKBounds(version, minSDK, maxSDK string) bool {
	v := canonicalVersion(version)
	if v == "" {
		return false
	}
	if minSDK != "" {
		lo := canonicalVersion(minSDK)
		if lo == "" || semver.Compare(v, lo) < 0 {
			return false
		}
	}
	if maxSDK != "" {
		hi := canonicalVersion(maxSDK)
		if hi == "" || semver.Compare(v, hi) > 0 {
			return false
		}
	}
	return true
}

// canonicalVersion turns "10", "16.4" or "v13.0.1" into a semver string, "" when unparsable
func canonicalVersion(s string) string {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if s == "" {
		return ""
	}
	parts := strings.Split(s, ".")
	if len(parts) > 3 {
		parts = parts[:3]
	}
	v := "v" + strings.Join(parts, ".")
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Canonical(v)
}
