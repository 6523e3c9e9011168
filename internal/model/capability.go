package model

// CapabilityRequest W3C session capabilities as sent by the test client
type CapabilityRequest struct {
	AlwaysMatch map[string]interface{}   `json:"alwaysMatch"`
	FirstMatch  []map[string]interface{} `json:"firstMatch"`
}

// Merged returns firstMatch[0] overlaid by alwaysMatch
func (c *CapabilityRequest) Merged() map[string]interface{} {
	merged := make(map[string]interface{})
	if len(c.FirstMatch) > 0 {
		for k, v := range c.FirstMatch[0] {
			merged[k] = v
		}
	}
	for k, v := range c.AlwaysMatch {
		merged[k] = v
	}
	return merged
}

// SetAlwaysMatch sets a capability on alwaysMatch, creating the map if needed
func (c *CapabilityRequest) SetAlwaysMatch(key string, value interface{}) {
	if c.AlwaysMatch == nil {
		c.AlwaysMatch = make(map[string]interface{})
	}
	c.AlwaysMatch[key] = value
}

// RegisterRequest node->hub device list push
type RegisterRequest struct {
	Devices []Device `json:"devices"`
}

// DeviceEvent observability event emitted on allocation, release and pruning
type DeviceEvent struct {
	Type        string  `json:"type"`
	UDID        string  `json:"udid,omitempty"`
	Host        string  `json:"host,omitempty"`
	IdleSeconds float64 `json:"idleSeconds,omitempty"`
	Message     string  `json:"message,omitempty"`
	Timestamp   int64   `json:"timestamp"`
}

const (
	EventDeviceAllocated = "device.allocated"
	EventDeviceReleased  = "device.released"
	EventDeviceIdle      = "device.idle_released"
	EventNodePruned      = "node.pruned"
)
