package models

import (
	"time"
)

// Account represents a user that can own devices.
// Account CRUD lives outside this service; only the fields pairing, login and
// the authorization guard touch are modelled.
type Account struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	Email     string     `gorm:"uniqueIndex;not null" json:"email"`
	Password  string     `gorm:"not null" json:"-"`
	Verified  bool       `gorm:"default:false" json:"verified"`
	Admin     bool       `gorm:"default:false" json:"admin"`
	Banned    bool       `gorm:"default:false" json:"banned"`
	LastLogin *time.Time `json:"last_login,omitempty"`

	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"-"`
}

// TableName specifies the table name for Account model
func (Account) TableName() string {
	return "accounts"
}
