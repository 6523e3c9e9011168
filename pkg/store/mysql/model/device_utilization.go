package model

import "time"

// DeviceUtilization accumulated busy time of a device across sessions
type DeviceUtilization struct {
	UDID      string    `gorm:"column:udid;primaryKey;size:191" json:"udid"`
	TotalMs   int64     `gorm:"column:total_ms;not null;default:0" json:"total_ms"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for DeviceUtilization
func (DeviceUtilization) TableName() string {
	return "device_utilizations"
}
