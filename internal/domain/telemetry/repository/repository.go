package repository

import (
	"context"

	"sunforge-server/internal/domain/telemetry/aggregate"
)

// DeviceRepository persists devices.
type DeviceRepository interface {
	// Save inserts a new device.
	Save(ctx context.Context, device *aggregate.Device) error

	// Update writes every field of an existing device.
	Update(ctx context.Context, device *aggregate.Device) error

	// Touch inserts device when its DeviceID is unknown, otherwise it only
	// overwrites status and last_seen on the stored row. It is atomic per
	// DeviceID and reports whether a row was created.
	Touch(ctx context.Context, device *aggregate.Device) (created bool, err error)

	// FindByDeviceID returns nil, nil when the device is unknown.
	FindByDeviceID(ctx context.Context, deviceID string) (*aggregate.Device, error)

	// List returns all devices, newest first.
	List(ctx context.Context) ([]*aggregate.Device, error)
}

// ReadingRepository persists readings. There is no update or delete.
type ReadingRepository interface {
	Insert(ctx context.Context, reading *aggregate.Reading) error

	// Latest returns nil, nil when the device has no readings.
	Latest(ctx context.Context, deviceID string) (*aggregate.Reading, error)

	// Recent returns up to limit readings, newest first.
	Recent(ctx context.Context, deviceID string, limit int) ([]*aggregate.Reading, error)
}
