package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/xelth-com/dongled/internal/models"
)

// Accounts is the account repository
type Accounts struct {
	db *gorm.DB
}

// NewAccounts creates an account repository
func NewAccounts(db *gorm.DB) *Accounts {
	return &Accounts{db: db}
}

// GetByID looks up an account by id
func (s *Accounts) GetByID(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	err := s.db.WithContext(ctx).First(&account, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByEmail looks up an account by email
func (s *Accounts) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	if email == "" {
		return nil, ErrNotFound
	}
	var account models.Account
	err := s.db.WithContext(ctx).Where("email = ?", email).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Create inserts a new account
func (s *Accounts) Create(ctx context.Context, account *models.Account) error {
	return s.db.WithContext(ctx).Create(account).Error
}

// TouchLastLogin records a successful login
func (s *Accounts) TouchLastLogin(ctx context.Context, id uint, t time.Time) error {
	return s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", id).
		Update("last_login", t).Error
}
