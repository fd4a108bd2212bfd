package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"sunforge-server/internal/platform/storage/migrations"
)

// Open opens the SQLite database at dsn and applies pending migrations.
// DSNs containing ":memory:" are pinned to a single connection so every
// query sees the same in-memory database.
func Open(dsn string) (*gorm.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("storage dsn is empty")
	}

	inMemory := strings.Contains(dsn, ":memory:")
	if !inMemory {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if inMemory {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to access database handle: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	migrator := NewMigrator(db)
	if err := migrator.Register(&migrations.Migration001Telemetry{}); err != nil {
		_ = Close(db)
		return nil, err
	}
	if _, err := migrator.Apply(context.Background()); err != nil {
		_ = Close(db)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return db, nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Device is the devices table row.
type Device struct {
	ID        uint   `gorm:"primaryKey"`
	DeviceID  string `gorm:"type:varchar(255);uniqueIndex;not null"`
	Name      string `gorm:"not null"`
	Location  string
	Status    string `gorm:"type:varchar(16);not null"`
	LastSeen  *time.Time
	CreatedAt time.Time `gorm:"index"`
	Metadata  datatypes.JSON
}

// Reading is the readings table row.
type Reading struct {
	ID               uint64 `gorm:"primaryKey"`
	DeviceID         string `gorm:"type:varchar(255);index:idx_readings_device_time,priority:1;not null"`
	Voltage          float64
	CurrentEstimated float64
	PowerWatts       float64
	Efficiency       float64
	ShuntVoltage     float64
	RecordedAt       time.Time `gorm:"index:idx_readings_device_time,priority:2;not null"`
}
