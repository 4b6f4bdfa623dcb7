package models

import (
	"time"
)

// UnownedAccountID is the account_id of a device that is not paired to anyone
const UnownedAccountID uint = 0

// Device represents a dongle that has registered with the service.
// Connectivity is not stored here; it lives in the realtime connection registry.
// Convention: Go PascalCase -> DB snake_case (GORM auto) -> JSON snake_case (device API)
type Device struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	DongleID    string    `gorm:"uniqueIndex;not null" json:"dongle_id"`
	AccountID   uint      `gorm:"index;not null;default:0" json:"account_id"`
	IMEI        string    `json:"imei"`
	Serial      string    `gorm:"index" json:"serial"`
	DeviceType  string    `gorm:"default:'freon'" json:"device_type"`
	PublicKey   string    `gorm:"not null" json:"public_key"`
	Nickname    string    `json:"nickname,omitempty"`
	StorageUsed int64     `gorm:"default:0" json:"storage_used"`
	LastPing    time.Time `json:"last_ping"`
	CreatedAt   time.Time `json:"created"`
	UpdatedAt   time.Time `json:"-"`
}

// TableName specifies the table name for Device
func (Device) TableName() string {
	return "devices"
}

// IsOwned reports whether the device is paired to an account
func (d Device) IsOwned() bool {
	return d.AccountID != UnownedAccountID
}
