package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"

	"chartlens-server-go/internal/platform/errors"
	"chartlens-server-go/internal/platform/storage/migrations"
)

// SchemaVersion is a row of the applied-migrations table.
type SchemaVersion struct {
	Version     string    `gorm:"primaryKey;type:varchar(32)"`
	Description string    `gorm:"type:varchar(255);not null"`
	Dialect     string    `gorm:"type:varchar(16);not null"`
	AppliedAt   time.Time `gorm:"not null"`
}

func (SchemaVersion) TableName() string {
	return "chartlens_schema_versions"
}

// Migrator applies chart_verdicts schema steps for one dialect.
type Migrator struct {
	db      *gorm.DB
	dialect Dialect
	steps   []migrations.Step
}

// NewMigrator sorts steps by version and refuses duplicates.
func NewMigrator(db *gorm.DB, dialect Dialect, steps ...migrations.Step) (*Migrator, error) {
	sorted := append([]migrations.Step(nil), steps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Version == sorted[i-1].Version {
			return nil, errors.New(errors.KindConfig, "storage.migrator", fmt.Sprintf("duplicate migration version %s", sorted[i].Version))
		}
	}
	if dialect == "" {
		dialect = DialectSQLite
	}
	return &Migrator{db: db, dialect: dialect, steps: sorted}, nil
}

// Apply runs every pending step in its own transaction and returns the
// versions it applied.
func (m *Migrator) Apply(ctx context.Context) ([]string, error) {
	db := m.db.WithContext(ctx)
	if err := db.AutoMigrate(&SchemaVersion{}); err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.migrator.apply", "failed to create schema version table", err)
	}

	done, err := m.appliedSet(db)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, step := range m.steps {
		if done[step.Version] {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := step.Up(tx, string(m.dialect)); err != nil {
				return err
			}
			return tx.Create(&SchemaVersion{
				Version:     step.Version,
				Description: step.Description,
				Dialect:     string(m.dialect),
				AppliedAt:   time.Now().UTC(),
			}).Error
		})
		if err != nil {
			return applied, errors.Wrap(errors.KindStorage, "storage.migrator.apply", fmt.Sprintf("migration %s failed", step.Version), err)
		}
		applied = append(applied, step.Version)
	}
	return applied, nil
}

// Revert undoes one applied step.
func (m *Migrator) Revert(ctx context.Context, version string) error {
	var step *migrations.Step
	for i := range m.steps {
		if m.steps[i].Version == version {
			step = &m.steps[i]
			break
		}
	}
	if step == nil {
		return errors.New(errors.KindStorage, "storage.migrator.revert", fmt.Sprintf("migration %s not registered", version))
	}

	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("version = ?", version).Delete(&SchemaVersion{})
		if res.Error != nil {
			return errors.Wrap(errors.KindStorage, "storage.migrator.revert", "failed to delete schema version", res.Error)
		}
		if res.RowsAffected == 0 {
			return errors.New(errors.KindStorage, "storage.migrator.revert", fmt.Sprintf("migration %s not applied", version))
		}
		if err := step.Down(tx, string(m.dialect)); err != nil {
			return errors.Wrap(errors.KindStorage, "storage.migrator.revert", fmt.Sprintf("failed to revert %s", version), err)
		}
		return nil
	})
}

// Applied lists applied versions in apply order.
func (m *Migrator) Applied(ctx context.Context) ([]SchemaVersion, error) {
	var rows []SchemaVersion
	if err := m.db.WithContext(ctx).Order("version").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.migrator.applied", "failed to read schema versions", err)
	}
	return rows, nil
}

func (m *Migrator) appliedSet(db *gorm.DB) (map[string]bool, error) {
	var versions []string
	if err := db.Model(&SchemaVersion{}).Pluck("version", &versions).Error; err != nil {
		return nil, errors.Wrap(errors.KindStorage, "storage.migrator.apply", "failed to read schema versions", err)
	}
	done := make(map[string]bool, len(versions))
	for _, v := range versions {
		done[v] = true
	}
	return done, nil
}
