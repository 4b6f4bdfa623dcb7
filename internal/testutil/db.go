// Package testutil holds helpers shared by package tests.
package testutil

import (
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/xelth-com/dongled/internal/models"
)

// OpenDB opens a migrated in-memory SQLite database unique to the test.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	// A unique shared-cache name per test keeps tests isolated while letting
	// every pooled connection see the same database.
	dsn := "file:" + strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()) + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		// SQLite serialises writers anyway; one connection avoids "table is locked".
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&models.Account{}, &models.Device{}, &models.ActionLogEntry{}, &models.ReturnedData{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
