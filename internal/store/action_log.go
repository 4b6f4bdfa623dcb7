package store

import (
	"context"

	"gorm.io/gorm"

	"github.com/xelth-com/dongled/internal/models"
)

// ActionLog persists audit rows and the payloads devices return
type ActionLog struct {
	db *gorm.DB
}

// NewActionLog creates the audit repository
func NewActionLog(db *gorm.DB) *ActionLog {
	return &ActionLog{db: db}
}

// Append inserts an audit row. Rows are never updated.
func (s *ActionLog) Append(ctx context.Context, entry *models.ActionLogEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// SaveReturnedData stores a device reply
func (s *ActionLog) SaveReturnedData(ctx context.Context, data *models.ReturnedData) error {
	return s.db.WithContext(ctx).Create(data).Error
}

// ListReturnedData returns stored replies for a device, newest first
func (s *ActionLog) ListReturnedData(ctx context.Context, deviceID uint, limit int) ([]models.ReturnedData, error) {
	var rows []models.ReturnedData
	q := s.db.WithContext(ctx).Where("device_id = ?", deviceID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&rows).Error
	return rows, err
}

// ListForDevice returns audit rows for a device, newest first
func (s *ActionLog) ListForDevice(ctx context.Context, dongleID string) ([]models.ActionLogEntry, error) {
	var rows []models.ActionLogEntry
	err := s.db.WithContext(ctx).
		Where("dongle_id = ?", dongleID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	return rows, err
}
