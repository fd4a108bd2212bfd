package eventbus

import "time"

// Topics
const (
	EventInspectionCompleted = "inspection:completed"
	EventInspectionFailed    = "inspection:failed"
	EventTelemetryReading    = "telemetry:reading"
	EventDeviceOnline        = "telemetry:device-online"
)

type InspectionCompletedData struct {
	RequestID   string        `json:"request_id"`
	Provider    string        `json:"provider"`
	Condition   string        `json:"condition"`
	Priority    string        `json:"priority"`
	DefectCount int           `json:"defect_count"`
	Duration    time.Duration `json:"duration"`
}

type InspectionFailedData struct {
	RequestID string        `json:"request_id"`
	Provider  string        `json:"provider"`
	Kind      string        `json:"kind"`
	Message   string        `json:"message"`
	Duration  time.Duration `json:"duration"`
}

type TelemetryReadingData struct {
	DeviceID   string    `json:"device_id"`
	Voltage    float64   `json:"voltage"`
	Current    float64   `json:"current"`
	Power      float64   `json:"power"`
	Efficiency float64   `json:"efficiency"`
	RecordedAt time.Time `json:"recorded_at"`
}

type DeviceOnlineData struct {
	DeviceID string    `json:"device_id"`
	LastSeen time.Time `json:"last_seen"`
	// FirstSeen is true when the device registered itself with this reading.
	FirstSeen bool `json:"first_seen"`
}
