package store

import (
	"context"
	"time"

	"chartlens-server-go/internal/domain/verdict"
)

// Store persists verdicts. Implementations hide expired entries from every
// read and assign CreatedAt/ExpiresAt on Save when they are unset.
type Store interface {
	Save(ctx context.Context, v verdict.Verdict) error
	// Get returns verdict.ErrNotFound for unknown or expired ids.
	Get(ctx context.Context, id string) (verdict.Verdict, error)
	// FindByDigest returns the newest live cacheable verdict for digest.
	FindByDigest(ctx context.Context, digest string) (verdict.Verdict, bool, error)
	// List returns up to limit live verdicts, newest first.
	List(ctx context.Context, limit int) ([]verdict.Verdict, error)
	CleanupExpired(ctx context.Context) error
	Stats(ctx context.Context) (map[string]any, error)
	Close(ctx context.Context) error
}

// Config describes the high level store selection parameters.
type Config struct {
	Driver string
	TTL    time.Duration
	Redis  *RedisConfig
	Memory *MemoryConfig
}

// MemoryConfig holds in-memory tuning knobs.
type MemoryConfig struct {
	GCInterval time.Duration
}

// RedisConfig captures connection options.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string
}

const (
	defaultTTL   = 24 * time.Hour
	defaultLimit = 50
	maxLimit     = 500
)

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// stamp fills the timestamps the store owns.
func stamp(v *verdict.Verdict, ttl time.Duration) {
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}
	if v.ExpiresAt == nil && ttl > 0 {
		exp := v.CreatedAt.Add(ttl)
		v.ExpiresAt = &exp
	}
}
