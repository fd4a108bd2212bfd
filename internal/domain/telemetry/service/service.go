package service

import (
	"context"
	"time"

	"sunforge-server/internal/domain/eventbus"
	"sunforge-server/internal/domain/telemetry/aggregate"
	"sunforge-server/internal/domain/telemetry/cache"
	"sunforge-server/internal/domain/telemetry/repository"
	"sunforge-server/internal/platform/errors"
	"sunforge-server/internal/platform/logging"
	"sunforge-server/internal/platform/observability"
)

const (
	DefaultReadingsLimit = 50
	MaxReadingsLimit     = 500
)

// DeviceView is a device with its newest reading, as listed to the dashboard.
type DeviceView struct {
	*aggregate.Device
	LatestReading *aggregate.Reading `json:"latest_reading"`
}

type Options struct {
	Devices   repository.DeviceRepository
	Readings  repository.ReadingRepository
	Latest    cache.LatestReadings
	Publisher eventbus.Publisher
	Logger    *logging.Logger
	Metrics   *observability.Metrics
	Now       func() time.Time
}

// TelemetryService records device readings and serves device listings.
type TelemetryService struct {
	devices   repository.DeviceRepository
	readings  repository.ReadingRepository
	latest    cache.LatestReadings
	publisher eventbus.Publisher
	logger    *logging.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

func NewTelemetryService(opts Options) *TelemetryService {
	s := &TelemetryService{
		devices:   opts.Devices,
		readings:  opts.Readings,
		latest:    opts.Latest,
		publisher: opts.Publisher,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
	if s.publisher == nil {
		s.publisher = eventbus.Discard{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

func (s *TelemetryService) metricsSet() *observability.Metrics {
	if s.metrics != nil {
		return s.metrics
	}
	return observability.Default()
}

// InsertReading appends a reading and marks its device online, registering
// the device if it has never reported before.
func (s *TelemetryService) InsertReading(ctx context.Context, in aggregate.ReadingInput) (*aggregate.Reading, error) {
	now := s.now().UTC()
	reading, err := aggregate.NewReading(in, now)
	if err != nil {
		return nil, err
	}

	if err := s.readings.Insert(ctx, reading); err != nil {
		return nil, errors.Wrap(errors.KindTelemetry, "telemetry.insert_reading", "failed to store reading", err)
	}

	firstSeen, err := s.touchDevice(ctx, reading.DeviceID, now)
	if err != nil {
		return nil, err
	}

	if s.latest != nil {
		if err := s.latest.Set(ctx, reading); err != nil {
			// The store already has the reading; listings fall back to it.
			s.logger.WarnTag("Cache", "latest reading for %s not cached: %v", reading.DeviceID, err)
		}
	}

	s.metricsSet().RecordTelemetryReading(reading.DeviceID)
	s.publisher.PublishAsync(eventbus.EventTelemetryReading, eventbus.TelemetryReadingData{
		DeviceID:   reading.DeviceID,
		Voltage:    reading.Voltage,
		Current:    reading.Current,
		Power:      reading.Power,
		Efficiency: reading.Efficiency,
		RecordedAt: reading.RecordedAt,
	})
	s.publisher.PublishAsync(eventbus.EventDeviceOnline, eventbus.DeviceOnlineData{
		DeviceID:  reading.DeviceID,
		LastSeen:  now,
		FirstSeen: firstSeen,
	})
	return reading, nil
}

func (s *TelemetryService) touchDevice(ctx context.Context, deviceID string, now time.Time) (bool, error) {
	device, err := aggregate.NewDevice(deviceID, now)
	if err != nil {
		return false, err
	}
	device.MarkSeen(now)
	created, err := s.devices.Touch(ctx, device)
	if err != nil {
		return false, errors.Wrap(errors.KindTelemetry, "telemetry.touch_device", "failed to mark device seen", err)
	}
	if created {
		s.logger.InfoTag("Telemetry", "registered device %s", deviceID)
	}
	return created, nil
}

// LatestReading returns the newest reading for deviceID, or nil when the
// device has never reported.
func (s *TelemetryService) LatestReading(ctx context.Context, deviceID string) (*aggregate.Reading, error) {
	if s.latest != nil {
		r, ok, err := s.latest.Get(ctx, deviceID)
		if err != nil {
			s.logger.WarnTag("Cache", "latest reading lookup for %s failed: %v", deviceID, err)
		} else if ok {
			return r, nil
		}
	}

	r, err := s.readings.Latest(ctx, deviceID)
	if err != nil {
		return nil, errors.Wrap(errors.KindTelemetry, "telemetry.latest_reading", "failed to load latest reading", err)
	}
	if r != nil && s.latest != nil {
		_ = s.latest.Set(ctx, r)
	}
	return r, nil
}

// ListDevices returns every device, newest first, with its latest reading.
func (s *TelemetryService) ListDevices(ctx context.Context) ([]DeviceView, error) {
	devices, err := s.devices.List(ctx)
	if err != nil {
		return nil, errors.Wrap(errors.KindTelemetry, "telemetry.list_devices", "failed to list devices", err)
	}

	views := make([]DeviceView, 0, len(devices))
	for _, d := range devices {
		r, err := s.LatestReading(ctx, d.DeviceID)
		if err != nil {
			return nil, err
		}
		views = append(views, DeviceView{Device: d, LatestReading: r})
	}
	return views, nil
}

// Readings returns the newest readings for deviceID. limit defaults to 50
// and is capped at 500.
func (s *TelemetryService) Readings(ctx context.Context, deviceID string, limit int) ([]*aggregate.Reading, error) {
	if deviceID == "" {
		return nil, aggregate.ErrDeviceIDRequired
	}
	if limit <= 0 {
		limit = DefaultReadingsLimit
	}
	limit = min(limit, MaxReadingsLimit)

	readings, err := s.readings.Recent(ctx, deviceID, limit)
	if err != nil {
		return nil, errors.Wrap(errors.KindTelemetry, "telemetry.readings", "failed to load readings", err)
	}
	return readings, nil
}
