package aggregate

import (
	"strings"
	"time"

	"sunforge-server/internal/platform/errors"
)

// DeviceStatus reporting state of a field device.
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
)

// Device is a panel-side sensor node. Devices are upserted by DeviceID.
type Device struct {
	ID        uint           `json:"id"`
	DeviceID  string         `json:"device_id"`
	Name      string         `json:"name"`
	Location  string         `json:"location"`
	Status    DeviceStatus   `json:"status"`
	LastSeen  *time.Time     `json:"last_seen"`
	CreatedAt time.Time      `json:"created_at"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewDevice registers a device the first time it reports.
func NewDevice(deviceID string, now time.Time) (*Device, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, errors.New(errors.KindTelemetry, "device.new", "device ID cannot be empty")
	}
	return &Device{
		DeviceID:  deviceID,
		Name:      deviceID,
		Status:    DeviceStatusOffline,
		CreatedAt: now,
	}, nil
}

// MarkSeen records a report from the device.
func (d *Device) MarkSeen(at time.Time) {
	d.Status = DeviceStatusOnline
	d.LastSeen = &at
}

// IsStale reports whether the device has been silent for longer than after.
func (d *Device) IsStale(now time.Time, after time.Duration) bool {
	if d.LastSeen == nil {
		return true
	}
	return now.Sub(*d.LastSeen) > after
}
