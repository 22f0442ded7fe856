package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chartlens-server-go/internal/platform/errors"
	"chartlens-server-go/internal/platform/storage/migrations"
)

// Dialect names the SQL backends the verdict store can run on.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// InMemorySQLite is the DSN for a private in-memory sqlite database.
const InMemorySQLite = ":memory:"

// DatabaseConfig selects a SQL backend.
type DatabaseConfig struct {
	Dialect Dialect
	// DSN is a file path for sqlite and a connection string for postgres.
	DSN string
}

// Open connects to the configured database and applies all pending migrations.
func Open(cfg DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	dialect := Dialect(strings.ToLower(string(cfg.Dialect)))
	switch dialect {
	case DialectSQLite, "":
		dialect = DialectSQLite
		dsn := cfg.DSN
		if dsn == "" {
			dsn = filepath.Join("data", "chartlens.db")
		}
		if dsn != InMemorySQLite && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
				return nil, errors.Wrap(errors.KindStorage, "database.mkdir", "failed to create data directory", err)
			}
		}
		dialector = sqlite.Open(dsn)
	case DialectPostgres:
		if cfg.DSN == "" {
			return nil, errors.New(errors.KindConfig, "database.open", "postgres dsn is required")
		}
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, errors.New(errors.KindConfig, "database.open", fmt.Sprintf("unsupported dialect %q", cfg.Dialect))
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "database.open", "failed to open database", err)
	}

	if cfg.DSN == InMemorySQLite {
		// every pooled connection would otherwise get its own empty database
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}

	if err := Migrate(context.Background(), db, dialect); err != nil {
		_ = Close(db)
		return nil, err
	}
	return db, nil
}

// Migrate applies the full chart_verdicts schema history.
func Migrate(ctx context.Context, db *gorm.DB, dialect Dialect) error {
	m, err := NewMigrator(db, dialect, migrations.All()...)
	if err != nil {
		return err
	}
	_, err = m.Apply(ctx)
	return err
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return errors.Wrap(errors.KindStorage, "database.close", "failed to access connection pool", err)
	}
	return sqlDB.Close()
}
