package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"chartlens-server-go/internal/platform/errors"
	"chartlens-server-go/internal/platform/storage/migrations"
)

var memoryDB = DatabaseConfig{Dialect: DialectSQLite, DSN: InMemorySQLite}

func TestOpenRunsMigrations(t *testing.T) {
	db, err := Open(memoryDB)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	assert.True(t, db.Migrator().HasTable(&VerdictRecord{}))

	m, err := NewMigrator(db, DialectSQLite, migrations.All()...)
	require.NoError(t, err)
	history, err := m.Applied(context.Background())
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "0001", history[0].Version)
	assert.Equal(t, "0002", history[1].Version)
	assert.Equal(t, "sqlite", history[0].Dialect)
}

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := Open(memoryDB)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	require.NoError(t, Migrate(context.Background(), db, DialectSQLite))

	var count int64
	require.NoError(t, db.Model(&SchemaVersion{}).Count(&count).Error)
	assert.EqualValues(t, 2, count)

	m, err := NewMigrator(db, DialectSQLite, migrations.All()...)
	require.NoError(t, err)
	applied, err := m.Apply(context.Background())
	require.NoError(t, err)
	assert.Empty(t, applied)
}

func TestVerdictRecordRoundTrip(t *testing.T) {
	db, err := Open(memoryDB)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })

	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	rec := VerdictRecord{
		ID:        "v-1",
		Digest:    "abc",
		Format:    "png",
		Width:     1920,
		Height:    1080,
		Accepted:  true,
		Score:     100,
		Outcome:   "accepted",
		Metrics:   datatypes.JSON(`{"candle_pct":5}`),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
		ExpiresAt: &expires,
	}
	require.NoError(t, db.Create(&rec).Error)

	var got VerdictRecord
	require.NoError(t, db.First(&got, "id = ?", "v-1").Error)
	assert.Equal(t, rec.Digest, got.Digest)
	assert.True(t, got.Accepted)
	assert.Equal(t, 100, got.Score)
	assert.JSONEq(t, `{"candle_pct":5}`, string(got.Metrics))
	require.NotNil(t, got.ExpiresAt)
	assert.True(t, expires.Equal(got.ExpiresAt.UTC()))
}

func TestRevertMigration(t *testing.T) {
	db, err := Open(memoryDB)
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(db) })
	ctx := context.Background()

	empty, err := NewMigrator(db, DialectSQLite)
	require.NoError(t, err)
	require.Error(t, empty.Revert(ctx, "0002"))

	m, err := NewMigrator(db, DialectSQLite, migrations.All()...)
	require.NoError(t, err)
	require.NoError(t, m.Revert(ctx, "0002"))

	err = m.Revert(ctx, "0002")
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindStorage))

	applied, err := m.Apply(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"0002"}, applied)
}

func TestMigratorOrdersAndRejectsDuplicates(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(InMemorySQLite), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = Close(db) })

	var order []string
	step := func(version string) migrations.Step {
		return migrations.Step{
			Version:     version,
			Description: "step " + version,
			Up: func(_ *gorm.DB, dialect string) error {
				order = append(order, version+":"+dialect)
				return nil
			},
			Down: func(*gorm.DB, string) error { return nil },
		}
	}

	_, err = NewMigrator(db, DialectSQLite, step("0001"), step("0001"))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))

	m, err := NewMigrator(db, DialectPostgres, step("0002"), step("0001"))
	require.NoError(t, err)
	applied, err := m.Apply(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"0001", "0002"}, applied)
	assert.Equal(t, []string{"0001:postgres", "0002:postgres"}, order)
}

func TestOpenFileCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "verdicts.db")
	db, err := Open(DatabaseConfig{Dialect: DialectSQLite, DSN: path})
	require.NoError(t, err)
	require.NoError(t, Close(db))
	assert.FileExists(t, path)
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	_, err := Open(DatabaseConfig{Dialect: "oracle"})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))

	_, err = Open(DatabaseConfig{Dialect: DialectPostgres})
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfig))
}
