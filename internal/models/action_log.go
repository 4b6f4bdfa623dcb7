package models

import (
	"time"

	"gorm.io/datatypes"
)

// ActionLogEntry is an immutable audit row for every command sent to a device
type ActionLogEntry struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	AccountID uint           `gorm:"index" json:"account_id"`
	DeviceID  uint           `gorm:"index" json:"device_id"`
	DongleID  string         `gorm:"index" json:"dongle_id"`
	Action    string         `gorm:"not null" json:"action"` // method name
	UserIP    string         `json:"user_ip,omitempty"`
	DeviceIP  string         `json:"device_ip,omitempty"`
	Meta      datatypes.JSON `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName specifies the table name for ActionLogEntry model
func (ActionLogEntry) TableName() string {
	return "device_action_log"
}

// ReturnedData stores the payload a device sent back for a completed command
type ReturnedData struct {
	ID            uint           `gorm:"primaryKey" json:"id"`
	DeviceID      uint           `gorm:"index;not null" json:"device_id"`
	CorrelationID string         `gorm:"uniqueIndex;not null" json:"uuid"`
	Type          string         `json:"type"` // method name
	Data          datatypes.JSON `json:"data"`
	CreatedAt     time.Time      `json:"created_at"`
	ResolvedAt    time.Time      `json:"resolved_at"`
}

// TableName specifies the table name for ReturnedData model
func (ReturnedData) TableName() string {
	return "device_returned_data"
}
