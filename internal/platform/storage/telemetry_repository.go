package storage

import (
	"context"
	stderrors "errors"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"sunforge-server/internal/domain/telemetry/aggregate"
	"sunforge-server/internal/domain/telemetry/repository"
	"sunforge-server/internal/platform/errors"
)

type deviceRepository struct {
	db *gorm.DB
}

func NewDeviceRepository(db *gorm.DB) repository.DeviceRepository {
	return &deviceRepository{db: db}
}

func (r *deviceRepository) Save(ctx context.Context, device *aggregate.Device) error {
	model, err := r.toModel(device)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "device.save", "failed to save device", err)
	}
	device.ID = model.ID
	return nil
}

func (r *deviceRepository) Update(ctx context.Context, device *aggregate.Device) error {
	model, err := r.toModel(device)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "device.update", "failed to update device", err)
	}
	return nil
}

func (r *deviceRepository) Touch(ctx context.Context, device *aggregate.Device) (bool, error) {
	model, err := r.toModel(device)
	if err != nil {
		return false, err
	}
	db := r.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "device_id"}},
		DoNothing: true,
	}).Create(model)
	if res.Error != nil {
		return false, errors.Wrap(errors.KindStorage, "device.touch", "failed to register device", res.Error)
	}
	if res.RowsAffected == 1 {
		device.ID = model.ID
		return true, nil
	}

	err = db.Model(&Device{}).
		Where("device_id = ?", model.DeviceID).
		Updates(map[string]any{"status": model.Status, "last_seen": model.LastSeen}).Error
	if err != nil {
		return false, errors.Wrap(errors.KindStorage, "device.touch", "failed to mark device seen", err)
	}
	return false, nil
}

func (r *deviceRepository) FindByDeviceID(ctx context.Context, deviceID string) (*aggregate.Device, error) {
	var model Device
	if err := r.db.WithContext(ctx).Where("device_id = ?", deviceID).First(&model).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.KindStorage, "device.find_by_device_id", "failed to find device", err)
	}
	return r.fromModel(&model)
}

func (r *deviceRepository) List(ctx context.Context) ([]*aggregate.Device, error) {
	var models []Device
	if err := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&models).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "device.list", "failed to list devices", err)
	}

	devices := make([]*aggregate.Device, 0, len(models))
	for i := range models {
		d, err := r.fromModel(&models[i])
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func (r *deviceRepository) toModel(device *aggregate.Device) (*Device, error) {
	model := &Device{
		ID:        device.ID,
		DeviceID:  device.DeviceID,
		Name:      device.Name,
		Location:  device.Location,
		Status:    string(device.Status),
		LastSeen:  device.LastSeen,
		CreatedAt: device.CreatedAt,
	}
	if len(device.Metadata) > 0 {
		raw, err := sonic.Marshal(device.Metadata)
		if err != nil {
			return nil, errors.Wrap(errors.KindStorage, "device.encode_metadata", "failed to encode device metadata", err)
		}
		model.Metadata = datatypes.JSON(raw)
	}
	return model, nil
}

func (r *deviceRepository) fromModel(model *Device) (*aggregate.Device, error) {
	device := &aggregate.Device{
		ID:        model.ID,
		DeviceID:  model.DeviceID,
		Name:      model.Name,
		Location:  model.Location,
		Status:    aggregate.DeviceStatus(model.Status),
		LastSeen:  model.LastSeen,
		CreatedAt: model.CreatedAt,
	}
	if len(model.Metadata) > 0 {
		if err := sonic.Unmarshal(model.Metadata, &device.Metadata); err != nil {
			return nil, errors.Wrap(errors.KindStorage, "device.decode_metadata", "failed to decode device metadata", err)
		}
	}
	return device, nil
}

type readingRepository struct {
	db *gorm.DB
}

func NewReadingRepository(db *gorm.DB) repository.ReadingRepository {
	return &readingRepository{db: db}
}

func (r *readingRepository) Insert(ctx context.Context, reading *aggregate.Reading) error {
	model := toReadingModel(reading)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrap(errors.KindStorage, "reading.insert", "failed to insert reading", err)
	}
	reading.ID = model.ID
	return nil
}

func (r *readingRepository) Latest(ctx context.Context, deviceID string) (*aggregate.Reading, error) {
	var model Reading
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("recorded_at DESC").
		Order("id DESC").
		Take(&model).Error
	if err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.KindStorage, "reading.latest", "failed to load latest reading", err)
	}
	return fromReadingModel(&model), nil
}

func (r *readingRepository) Recent(ctx context.Context, deviceID string, limit int) ([]*aggregate.Reading, error) {
	var models []Reading
	err := r.db.WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("recorded_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "reading.recent", "failed to load readings", err)
	}

	readings := make([]*aggregate.Reading, len(models))
	for i := range models {
		readings[i] = fromReadingModel(&models[i])
	}
	return readings, nil
}

func toReadingModel(r *aggregate.Reading) *Reading {
	return &Reading{
		ID:               r.ID,
		DeviceID:         r.DeviceID,
		Voltage:          r.Voltage,
		CurrentEstimated: r.Current,
		PowerWatts:       r.Power,
		Efficiency:       r.Efficiency,
		ShuntVoltage:     r.ShuntVoltage,
		RecordedAt:       r.RecordedAt,
	}
}

func fromReadingModel(m *Reading) *aggregate.Reading {
	return &aggregate.Reading{
		ID:           m.ID,
		DeviceID:     m.DeviceID,
		Voltage:      m.Voltage,
		Current:      m.CurrentEstimated,
		Power:        m.PowerWatts,
		Efficiency:   m.Efficiency,
		ShuntVoltage: m.ShuntVoltage,
		RecordedAt:   m.RecordedAt,
	}
}
