// Package store holds the gorm-backed repositories for accounts, devices and
// the device audit tables.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/xelth-com/dongled/internal/models"
)

// ErrNotFound is returned when a lookup matches no row
var ErrNotFound = errors.New("not found")

// Devices is the device repository
type Devices struct {
	db *gorm.DB
}

// NewDevices creates a device repository
func NewDevices(db *gorm.DB) *Devices {
	return &Devices{db: db}
}

func (s *Devices) first(ctx context.Context, query string, args ...interface{}) (*models.Device, error) {
	var device models.Device
	err := s.db.WithContext(ctx).Where(query, args...).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// GetByDongleID looks up a device by its dongle id
func (s *Devices) GetByDongleID(ctx context.Context, dongleID string) (*models.Device, error) {
	if dongleID == "" {
		return nil, ErrNotFound
	}
	return s.first(ctx, "dongle_id = ?", dongleID)
}

// GetBySerial looks up a device by its hardware serial
func (s *Devices) GetBySerial(ctx context.Context, serial string) (*models.Device, error) {
	if serial == "" {
		return nil, ErrNotFound
	}
	return s.first(ctx, "serial = ?", serial)
}

// ListByAccount returns every device owned by the account
func (s *Devices) ListByAccount(ctx context.Context, accountID uint) ([]models.Device, error) {
	var devices []models.Device
	err := s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Find(&devices).Error
	return devices, err
}

// Create inserts a new device
func (s *Devices) Create(ctx context.Context, device *models.Device) error {
	return s.db.WithContext(ctx).Create(device).Error
}

// SetOwnerIfUnowned assigns the device to accountID only while it has no owner.
// Returns false when the device is missing or already owned.
func (s *Devices) SetOwnerIfUnowned(ctx context.Context, dongleID string, accountID uint) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("dongle_id = ? AND account_id = ?", dongleID, models.UnownedAccountID).
		Update("account_id", accountID)
	return res.RowsAffected > 0, res.Error
}

// ClearOwner releases the device only if accountID currently owns it
func (s *Devices) ClearOwner(ctx context.Context, dongleID string, accountID uint) (bool, error) {
	if accountID == models.UnownedAccountID {
		return false, nil
	}
	res := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("dongle_id = ? AND account_id = ?", dongleID, accountID).
		Update("account_id", models.UnownedAccountID)
	return res.RowsAffected > 0, res.Error
}

// SetNickname renames a device owned by accountID
func (s *Devices) SetNickname(ctx context.Context, dongleID string, accountID uint, nickname string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Device{}).
		Where("dongle_id = ? AND account_id = ?", dongleID, accountID).
		Update("nickname", nickname)
	return res.RowsAffected > 0, res.Error
}

// TouchLastPing records that the device was seen at t
func (s *Devices) TouchLastPing(ctx context.Context, dongleID string, t time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Device{}).
		Where("dongle_id = ?", dongleID).
		Update("last_ping", t).Error
}
