package model

import "time"

// DeviceSession a finished device session, recorded when the device is released
type DeviceSession struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	UDID       string    `gorm:"column:udid;not null;index;size:191" json:"udid"`
	Host       string    `gorm:"column:host;not null;size:255" json:"host"`
	StartedAt  time.Time `gorm:"column:started_at;not null;index" json:"started_at"`
	EndedAt    time.Time `gorm:"column:ended_at;not null" json:"ended_at"`
	DurationMs int64     `gorm:"column:duration_ms;not null" json:"duration_ms"`
	Reason     string    `gorm:"column:reason;not null;size:32" json:"reason"` // released, idle
}

// TableName returns the table name for DeviceSession
func (DeviceSession) TableName() string {
	return "device_sessions"
}
