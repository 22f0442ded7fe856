package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"chartlens-server-go/internal/domain/verdict"
)

// redisStore keeps each verdict as a JSON string with a TTL, a digest pointer
// for cacheable verdicts and a sorted set of ids scored by creation time.
type redisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis constructs a redis-backed verdict store.
func NewRedis(cfg Config) (Store, error) {
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis configuration missing")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Username: cfg.Redis.Username,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Redis.Prefix
	if prefix == "" {
		prefix = "chartlens:verdict:"
	}

	return &redisStore{
		client: client,
		ttl:    ttlOrDefault(cfg.TTL),
		prefix: prefix,
	}, nil
}

func (s *redisStore) key(id string) string {
	return s.prefix + "id:" + id
}

func (s *redisStore) digestKey(digest string) string {
	return s.prefix + "digest:" + digest
}

func (s *redisStore) recentKey() string {
	return s.prefix + "recent"
}

func (s *redisStore) Save(ctx context.Context, v verdict.Verdict) error {
	if v.ID == "" {
		return fmt.Errorf("verdict id required")
	}
	stamp(&v, s.ttl)

	data, err := sonic.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode verdict: %w", err)
	}

	expiry := s.ttl
	if v.ExpiresAt != nil {
		expiry = time.Until(*v.ExpiresAt)
		if expiry <= 0 {
			return nil
		}
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.key(v.ID), data, expiry)
	if v.Cacheable() {
		pipe.Set(ctx, s.digestKey(v.Digest), v.ID, expiry)
	}
	pipe.ZAdd(ctx, s.recentKey(), redis.Z{
		Score:  float64(v.CreatedAt.UnixNano()),
		Member: v.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *redisStore) Get(ctx context.Context, id string) (verdict.Verdict, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return verdict.Verdict{}, fmt.Errorf("%w: %s", verdict.ErrNotFound, id)
		}
		return verdict.Verdict{}, err
	}
	v, err := decodeVerdict(raw)
	if err != nil {
		return verdict.Verdict{}, err
	}
	if v.Expired(time.Now()) {
		return verdict.Verdict{}, fmt.Errorf("%w: %s", verdict.ErrNotFound, id)
	}
	return v, nil
}

func (s *redisStore) FindByDigest(ctx context.Context, digest string) (verdict.Verdict, bool, error) {
	id, err := s.client.Get(ctx, s.digestKey(digest)).Result()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return verdict.Verdict{}, false, nil
		}
		return verdict.Verdict{}, false, err
	}
	v, err := s.Get(ctx, id)
	if err != nil {
		if stderrors.Is(err, verdict.ErrNotFound) {
			return verdict.Verdict{}, false, nil
		}
		return verdict.Verdict{}, false, err
	}
	return v, true, nil
}

func (s *redisStore) List(ctx context.Context, limit int) ([]verdict.Verdict, error) {
	limit = clampLimit(limit)
	// over-fetch so ids whose payload already expired do not shrink the page
	ids, err := s.client.ZRevRange(ctx, s.recentKey(), 0, int64(limit*2-1)).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []verdict.Verdict{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.key(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	now := time.Now()
	out := make([]verdict.Verdict, 0, limit)
	for _, val := range values {
		str, ok := val.(string)
		if !ok {
			continue
		}
		v, err := decodeVerdict([]byte(str))
		if err != nil {
			return nil, err
		}
		if v.Expired(now) {
			continue
		}
		out = append(out, v)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// CleanupExpired trims the recency index; payload keys expire on their own.
func (s *redisStore) CleanupExpired(ctx context.Context) error {
	cutoff := time.Now().Add(-s.ttl).UnixNano()
	return s.client.ZRemRangeByScore(ctx, s.recentKey(), "-inf", strconv.FormatInt(cutoff, 10)).Err()
}

func (s *redisStore) Stats(ctx context.Context) (map[string]any, error) {
	indexed, err := s.client.ZCard(ctx, s.recentKey()).Result()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type":        DriverRedis,
		"total":       indexed,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *redisStore) Close(context.Context) error {
	return s.client.Close()
}

func decodeVerdict(raw []byte) (verdict.Verdict, error) {
	var v verdict.Verdict
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return verdict.Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	return v, nil
}
