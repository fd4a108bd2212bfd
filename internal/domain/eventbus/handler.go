package eventbus

import (
	"sunforge-server/internal/platform/logging"
	"sunforge-server/internal/platform/observability"
)

// LogHandler writes every domain event to the log and counts it.
type LogHandler struct {
	logger  *logging.Logger
	metrics *observability.Metrics
}

func NewLogHandler(logger *logging.Logger, metrics *observability.Metrics) *LogHandler {
	if metrics == nil {
		metrics = observability.Default()
	}
	return &LogHandler{logger: logger, metrics: metrics}
}

func (h *LogHandler) onInspectionCompleted(e InspectionCompletedData) {
	h.metrics.RecordEvent(EventInspectionCompleted)
	h.logger.InfoTag("Events", "inspection %s completed: condition=%s priority=%s defects=%d took=%s",
		e.RequestID, e.Condition, e.Priority, e.DefectCount, e.Duration)
}

func (h *LogHandler) onInspectionFailed(e InspectionFailedData) {
	h.metrics.RecordEvent(EventInspectionFailed)
	h.logger.WarnTag("Events", "inspection %s failed: kind=%s message=%s", e.RequestID, e.Kind, e.Message)
}

func (h *LogHandler) onTelemetryReading(e TelemetryReadingData) {
	h.metrics.RecordEvent(EventTelemetryReading)
	h.logger.DebugTag("Events", "reading from %s: %.2fV %.3fA %.2fW", e.DeviceID, e.Voltage, e.Current, e.Power)
}

func (h *LogHandler) onDeviceOnline(e DeviceOnlineData) {
	h.metrics.RecordEvent(EventDeviceOnline)
	if e.FirstSeen {
		h.logger.InfoTag("Events", "new device %s registered", e.DeviceID)
	}
}

// Register subscribes the handler to every topic on bus.
func (h *LogHandler) Register(bus *AsyncEventBus) error {
	subs := []struct {
		topic string
		fn    any
	}{
		{EventInspectionCompleted, h.onInspectionCompleted},
		{EventInspectionFailed, h.onInspectionFailed},
		{EventTelemetryReading, h.onTelemetryReading},
		{EventDeviceOnline, h.onDeviceOnline},
	}
	for _, s := range subs {
		if err := bus.Subscribe(s.topic, s.fn); err != nil {
			return err
		}
	}
	return nil
}
