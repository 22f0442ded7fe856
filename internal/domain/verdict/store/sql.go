package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"chartlens-server-go/internal/domain/chart"
	"chartlens-server-go/internal/domain/verdict"
	"chartlens-server-go/internal/platform/storage"
)

var cacheableOutcomes = []string{
	string(verdict.OutcomeAccepted),
	string(verdict.OutcomeBelowThreshold),
}

// sqlStore backs both the sqlite and postgres drivers; the schema is created
// by the storage migrations.
type sqlStore struct {
	db     *gorm.DB
	ttl    time.Duration
	driver string
}

// NewSQLite builds a SQLite-backed verdict store.
func NewSQLite(db *gorm.DB, cfg Config) (Store, error) {
	return newSQLStore(db, cfg, DriverSQLite)
}

// NewPostgres builds a Postgres-backed verdict store.
func NewPostgres(db *gorm.DB, cfg Config) (Store, error) {
	return newSQLStore(db, cfg, DriverPostgres)
}

func newSQLStore(db *gorm.DB, cfg Config, driver string) (Store, error) {
	if db == nil {
		return nil, fmt.Errorf("%s store requires database handle", driver)
	}
	return &sqlStore{
		db:     db,
		ttl:    ttlOrDefault(cfg.TTL),
		driver: driver,
	}, nil
}

func (s *sqlStore) Save(ctx context.Context, v verdict.Verdict) error {
	if v.ID == "" {
		return fmt.Errorf("verdict id required")
	}
	stamp(&v, s.ttl)

	record, err := toRecord(v)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(record).Error
}

func (s *sqlStore) Get(ctx context.Context, id string) (verdict.Verdict, error) {
	var record storage.VerdictRecord
	err := s.live(ctx).Where("id = ?", id).First(&record).Error
	if errorsIsNotFound(err) {
		return verdict.Verdict{}, fmt.Errorf("%w: %s", verdict.ErrNotFound, id)
	}
	if err != nil {
		return verdict.Verdict{}, err
	}
	return fromRecord(record)
}

func (s *sqlStore) FindByDigest(ctx context.Context, digest string) (verdict.Verdict, bool, error) {
	var record storage.VerdictRecord
	err := s.live(ctx).
		Where("digest = ? AND outcome IN ?", digest, cacheableOutcomes).
		Order("created_at DESC").
		First(&record).Error
	if errorsIsNotFound(err) {
		return verdict.Verdict{}, false, nil
	}
	if err != nil {
		return verdict.Verdict{}, false, err
	}
	v, err := fromRecord(record)
	if err != nil {
		return verdict.Verdict{}, false, err
	}
	return v, true, nil
}

func (s *sqlStore) List(ctx context.Context, limit int) ([]verdict.Verdict, error) {
	var records []storage.VerdictRecord
	if err := s.live(ctx).Order("created_at DESC").Order("id DESC").Limit(clampLimit(limit)).Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]verdict.Verdict, 0, len(records))
	for _, r := range records {
		v, err := fromRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (s *sqlStore) CleanupExpired(ctx context.Context) error {
	return s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", time.Now().UTC()).
		Delete(&storage.VerdictRecord{}).
		Error
}

func (s *sqlStore) Stats(ctx context.Context) (map[string]any, error) {
	var total, active, accepted int64
	if err := s.db.WithContext(ctx).Model(&storage.VerdictRecord{}).Count(&total).Error; err != nil {
		return nil, err
	}
	if err := s.live(ctx).Model(&storage.VerdictRecord{}).Count(&active).Error; err != nil {
		return nil, err
	}
	if err := s.live(ctx).Model(&storage.VerdictRecord{}).Where("accepted = ?", true).Count(&accepted).Error; err != nil {
		return nil, err
	}
	return map[string]any{
		"type":        s.driver,
		"total":       total,
		"active":      active,
		"accepted":    accepted,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

// Close is a no-op; the database handle belongs to the caller.
func (s *sqlStore) Close(context.Context) error {
	return nil
}

func (s *sqlStore) live(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Where("(expires_at IS NULL OR expires_at >= ?)", time.Now().UTC())
}

func toRecord(v verdict.Verdict) (*storage.VerdictRecord, error) {
	record := &storage.VerdictRecord{
		ID:        v.ID,
		Digest:    v.Digest,
		Source:    v.Source,
		Format:    v.Format,
		Width:     v.Width,
		Height:    v.Height,
		Accepted:  v.Accepted,
		Score:     v.Score,
		Reason:    v.Reason,
		Outcome:   string(v.Outcome),
		CreatedAt: v.CreatedAt.UTC(),
	}
	if v.ExpiresAt != nil {
		exp := v.ExpiresAt.UTC()
		record.ExpiresAt = &exp
	}
	if v.Metrics != nil {
		raw, err := sonic.Marshal(v.Metrics)
		if err != nil {
			return nil, fmt.Errorf("encode metrics: %w", err)
		}
		record.Metrics = datatypes.JSON(raw)
	}
	if v.Checks != nil {
		raw, err := sonic.Marshal(v.Checks)
		if err != nil {
			return nil, fmt.Errorf("encode checks: %w", err)
		}
		record.Checks = datatypes.JSON(raw)
	}
	return record, nil
}

func fromRecord(r storage.VerdictRecord) (verdict.Verdict, error) {
	v := verdict.Verdict{
		ID:        r.ID,
		Digest:    r.Digest,
		Source:    r.Source,
		Format:    r.Format,
		Width:     r.Width,
		Height:    r.Height,
		Accepted:  r.Accepted,
		Score:     r.Score,
		Reason:    r.Reason,
		Outcome:   verdict.Outcome(r.Outcome),
		CreatedAt: r.CreatedAt,
		ExpiresAt: r.ExpiresAt,
	}
	if len(r.Metrics) > 0 {
		var m chart.Metrics
		if err := sonic.Unmarshal(r.Metrics, &m); err != nil {
			return verdict.Verdict{}, fmt.Errorf("decode metrics: %w", err)
		}
		v.Metrics = &m
	}
	if len(r.Checks) > 0 {
		var c chart.Checks
		if err := sonic.Unmarshal(r.Checks, &c); err != nil {
			return verdict.Verdict{}, fmt.Errorf("decode checks: %w", err)
		}
		v.Checks = &c
	}
	return v, nil
}

func errorsIsNotFound(err error) bool {
	return err != nil && stderrors.Is(err, gorm.ErrRecordNotFound)
}
