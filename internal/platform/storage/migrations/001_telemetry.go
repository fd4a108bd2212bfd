package migrations

import (
	"gorm.io/gorm"
)

// Migration001Telemetry creates the device and reading tables.
type Migration001Telemetry struct{}

func (m *Migration001Telemetry) Version() string {
	return "001_telemetry"
}

func (m *Migration001Telemetry) Description() string {
	return "Create devices and readings tables"
}

func (m *Migration001Telemetry) Up(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS devices (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id VARCHAR(255) NOT NULL UNIQUE,
			name VARCHAR(255) NOT NULL,
			location VARCHAR(255),
			status VARCHAR(16) NOT NULL DEFAULT 'offline',
			last_seen DATETIME,
			created_at DATETIME NOT NULL,
			metadata JSON
		)
	`).Error; err != nil {
		return err
	}

	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS readings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id VARCHAR(255) NOT NULL,
			voltage REAL NOT NULL DEFAULT 0,
			current_estimated REAL NOT NULL DEFAULT 0,
			power_watts REAL NOT NULL DEFAULT 0,
			efficiency REAL NOT NULL DEFAULT 0,
			shunt_voltage REAL NOT NULL DEFAULT 0,
			recorded_at DATETIME NOT NULL
		)
	`).Error; err != nil {
		return err
	}

	if err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_devices_created_at ON devices(created_at)`).Error; err != nil {
		return err
	}
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_readings_device_time ON readings(device_id, recorded_at)`).Error
}

func (m *Migration001Telemetry) Down(db *gorm.DB) error {
	if err := db.Exec(`DROP TABLE IF EXISTS readings`).Error; err != nil {
		return err
	}
	return db.Exec(`DROP TABLE IF EXISTS devices`).Error
}
