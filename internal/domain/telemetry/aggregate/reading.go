package aggregate

import (
	"math"
	"strings"
	"time"

	"sunforge-server/internal/platform/errors"
)

// Reading is one sample from a device. Readings are append-only.
type Reading struct {
	ID           uint64    `json:"id"`
	DeviceID     string    `json:"device_id"`
	Voltage      float64   `json:"voltage"`
	Current      float64   `json:"current_estimated"`
	Power        float64   `json:"power_watts"`
	Efficiency   float64   `json:"efficiency"`
	ShuntVoltage float64   `json:"shunt_voltage"`
	RecordedAt   time.Time `json:"recorded_at"`
}

// ReadingInput is the body a device posts. Missing numbers are zero.
type ReadingInput struct {
	DeviceID     string  `json:"device_id"`
	Voltage      float64 `json:"voltage"`
	Current      float64 `json:"current"`
	Power        float64 `json:"power"`
	Efficiency   float64 `json:"efficiency"`
	ShuntVoltage float64 `json:"shunt_voltage"`
}

var (
	// ErrDeviceIDRequired is returned for readings without a device.
	ErrDeviceIDRequired = errors.New(errors.KindTelemetry, "reading.new", "device_id is required")
	ErrNonFiniteValue   = errors.New(errors.KindTelemetry, "reading.new", "reading values must be finite numbers")
)

// NewReading validates input and stamps it with at.
func NewReading(in ReadingInput, at time.Time) (*Reading, error) {
	deviceID := strings.TrimSpace(in.DeviceID)
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	for _, v := range []float64{in.Voltage, in.Current, in.Power, in.Efficiency, in.ShuntVoltage} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, ErrNonFiniteValue
		}
	}
	return &Reading{
		DeviceID:     deviceID,
		Voltage:      in.Voltage,
		Current:      in.Current,
		Power:        in.Power,
		Efficiency:   in.Efficiency,
		ShuntVoltage: in.ShuntVoltage,
		RecordedAt:   at,
	}, nil
}
