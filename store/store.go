// Package store opens the relational store backing the two durable
// entities the pairing and sync-configuration components own:
// PairedDevice and SyncConfiguration. It is CGO-free (glebarez/sqlite)
// so the whole service cross-compiles as a single static binary for the
// device.
package store

import (
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/mneves75/ai-health-sync-ios-sub001/model"
)

// DB wraps the opened gorm handle with the migrations this service needs.
type DB struct {
	gorm *gorm.DB
}

// Open creates or migrates the SQLite database at path.
func Open(path string) (*DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	if err := gdb.AutoMigrate(&model.PairedDevice{}, &model.SyncConfiguration{}); err != nil {
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return &DB{gorm: gdb}, nil
}

// Close releases the underlying database connection.
func (d *DB) Close() error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// CreateDevice persists a newly paired device.
func (d *DB) CreateDevice(device *model.PairedDevice) error {
	return d.gorm.Create(device).Error
}

// FindActiveByTokenHash looks up a device by its bearer token hash. It
// returns (nil, nil) when no device matches, distinguishing "not found"
// from a storage error.
func (d *DB) FindActiveByTokenHash(tokenHash string) (*model.PairedDevice, error) {
	var device model.PairedDevice
	err := d.gorm.Where("token_hash = ?", tokenHash).First(&device).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &device, nil
}

// TouchLastSeen updates a device's last-seen timestamp.
func (d *DB) TouchLastSeen(id string, at time.Time) error {
	return d.gorm.Model(&model.PairedDevice{}).Where("id = ?", id).Update("last_seen_at", at).Error
}

// RevokeAll deactivates every paired device.
func (d *DB) RevokeAll() error {
	return d.gorm.Model(&model.PairedDevice{}).Where("1 = 1").Update("is_active", false).Error
}

// LoadConfiguration reads the singleton SyncConfiguration row, creating it
// with no enabled types on first access.
func (d *DB) LoadConfiguration() (*model.SyncConfiguration, error) {
	var cfg model.SyncConfiguration
	err := d.gorm.FirstOrCreate(&cfg, model.SyncConfiguration{ID: 1}).Error
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SaveConfiguration persists mutations to the singleton row.
func (d *DB) SaveConfiguration(cfg *model.SyncConfiguration) error {
	cfg.ID = 1
	return d.gorm.Save(cfg).Error
}
