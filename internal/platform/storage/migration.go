package storage

import (
	"context"
	stderrors "errors"
	"sort"
	"time"

	"gorm.io/gorm"

	"sunforge-server/internal/platform/errors"
)

// Migration is one versioned schema change. Versions sort lexically, so they
// carry a zero-padded numeric prefix ("001_telemetry").
type Migration interface {
	Version() string
	Description() string
	Up(db *gorm.DB) error
	Down(db *gorm.DB) error
}

// SchemaVersion marks an applied migration.
type SchemaVersion struct {
	ID        uint      `gorm:"primaryKey"`
	Version   string    `gorm:"uniqueIndex;not null"`
	Name      string    `gorm:"not null"`
	AppliedAt time.Time `gorm:"not null"`
}

func (SchemaVersion) TableName() string { return "schema_versions" }

// Migrator applies registered migrations in version order.
type Migrator struct {
	db    *gorm.DB
	steps map[string]Migration
}

func NewMigrator(db *gorm.DB) *Migrator {
	return &Migrator{db: db, steps: make(map[string]Migration)}
}

// Register adds migrations. A version registered twice is a programming error.
func (m *Migrator) Register(list ...Migration) error {
	for _, mig := range list {
		v := mig.Version()
		if _, dup := m.steps[v]; dup {
			return errors.Newf(errors.KindStorage, "migration.register", "duplicate migration version %s", v)
		}
		m.steps[v] = mig
	}
	return nil
}

func (m *Migrator) ordered() []Migration {
	out := make([]Migration, 0, len(m.steps))
	for _, mig := range m.steps {
		out = append(out, mig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version() < out[j].Version() })
	return out
}

func (m *Migrator) applied(ctx context.Context) (map[string]bool, error) {
	db := m.db.WithContext(ctx)
	if err := db.AutoMigrate(&SchemaVersion{}); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.bootstrap", "create schema_versions", err)
	}
	var versions []string
	if err := db.Model(&SchemaVersion{}).Pluck("version", &versions).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.applied", "list applied versions", err)
	}
	seen := make(map[string]bool, len(versions))
	for _, v := range versions {
		seen[v] = true
	}
	return seen, nil
}

// Pending lists registered versions that have not been applied yet.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	seen, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, mig := range m.ordered() {
		if !seen[mig.Version()] {
			pending = append(pending, mig.Version())
		}
	}
	return pending, nil
}

// Apply runs every pending migration, one transaction each, and returns the
// versions it applied. It stops at the first failure; earlier steps stay.
func (m *Migrator) Apply(ctx context.Context) ([]string, error) {
	seen, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	var done []string
	for _, mig := range m.ordered() {
		if seen[mig.Version()] {
			continue
		}
		err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := mig.Up(tx); err != nil {
				return errors.Wrap(errors.KindStorage, "migration.up", "apply "+mig.Version(), err)
			}
			row := &SchemaVersion{Version: mig.Version(), Name: mig.Description(), AppliedAt: time.Now().UTC()}
			if err := tx.Create(row).Error; err != nil {
				return errors.Wrap(errors.KindStorage, "migration.record", "record "+mig.Version(), err)
			}
			return nil
		})
		if err != nil {
			return done, err
		}
		done = append(done, mig.Version())
	}
	return done, nil
}

// Rollback reverts one applied migration and forgets its record.
func (m *Migrator) Rollback(ctx context.Context, version string) error {
	mig, ok := m.steps[version]
	if !ok {
		return errors.Newf(errors.KindStorage, "migration.rollback", "migration %s not registered", version)
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row SchemaVersion
		if err := tx.Where("version = ?", version).First(&row).Error; err != nil {
			if stderrors.Is(err, gorm.ErrRecordNotFound) {
				return errors.Newf(errors.KindStorage, "migration.rollback", "migration %s not applied", version)
			}
			return errors.Wrap(errors.KindStorage, "migration.rollback", "load "+version, err)
		}
		if err := mig.Down(tx); err != nil {
			return errors.Wrap(errors.KindStorage, "migration.down", "revert "+version, err)
		}
		return tx.Delete(&row).Error
	})
}

// History lists applied migrations in the order they were applied.
func (m *Migrator) History(ctx context.Context) ([]SchemaVersion, error) {
	var rows []SchemaVersion
	if err := m.db.WithContext(ctx).Order("version ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "migration.history", "list schema versions", err)
	}
	return rows, nil
}
