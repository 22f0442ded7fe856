package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"chartlens-server-go/internal/domain/verdict"
)

type memoryStore struct {
	items       map[string]verdict.Verdict
	byDigest    map[string]string
	mutex       sync.RWMutex
	ttl         time.Duration
	cleanupFreq time.Duration
	stop        chan struct{}
	stopOnce    sync.Once
}

// NewMemory builds an in-memory verdict store with a background sweeper.
func NewMemory(cfg Config) Store {
	cleanup := 5 * time.Minute
	if cfg.Memory != nil && cfg.Memory.GCInterval > 0 {
		cleanup = cfg.Memory.GCInterval
	}
	s := &memoryStore{
		items:       make(map[string]verdict.Verdict),
		byDigest:    make(map[string]string),
		ttl:         ttlOrDefault(cfg.TTL),
		cleanupFreq: cleanup,
		stop:        make(chan struct{}),
	}
	go s.gcLoop()
	return s
}

func (s *memoryStore) gcLoop() {
	ticker := time.NewTicker(s.cleanupFreq)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = s.CleanupExpired(context.Background())
		case <-s.stop:
			return
		}
	}
}

func (s *memoryStore) Save(_ context.Context, v verdict.Verdict) error {
	if v.ID == "" {
		return fmt.Errorf("verdict id required")
	}
	stamp(&v, s.ttl)

	s.mutex.Lock()
	s.items[v.ID] = v
	if v.Cacheable() {
		s.byDigest[v.Digest] = v.ID
	}
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (verdict.Verdict, error) {
	s.mutex.RLock()
	v, ok := s.items[id]
	s.mutex.RUnlock()
	if !ok || v.Expired(time.Now()) {
		return verdict.Verdict{}, fmt.Errorf("%w: %s", verdict.ErrNotFound, id)
	}
	return v, nil
}

func (s *memoryStore) FindByDigest(_ context.Context, digest string) (verdict.Verdict, bool, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	id, ok := s.byDigest[digest]
	if !ok {
		return verdict.Verdict{}, false, nil
	}
	v, ok := s.items[id]
	if !ok || v.Expired(time.Now()) {
		return verdict.Verdict{}, false, nil
	}
	return v, true, nil
}

func (s *memoryStore) List(_ context.Context, limit int) ([]verdict.Verdict, error) {
	limit = clampLimit(limit)
	now := time.Now()

	s.mutex.RLock()
	out := make([]verdict.Verdict, 0, len(s.items))
	for _, v := range s.items {
		if !v.Expired(now) {
			out = append(out, v)
		}
	}
	s.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memoryStore) CleanupExpired(_ context.Context) error {
	now := time.Now()
	s.mutex.Lock()
	for id, v := range s.items {
		if v.Expired(now) {
			delete(s.items, id)
			if s.byDigest[v.Digest] == id {
				delete(s.byDigest, v.Digest)
			}
		}
	}
	s.mutex.Unlock()
	return nil
}

func (s *memoryStore) Stats(_ context.Context) (map[string]any, error) {
	now := time.Now()
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	active, accepted := 0, 0
	for _, v := range s.items {
		if v.Expired(now) {
			continue
		}
		active++
		if v.Accepted {
			accepted++
		}
	}
	return map[string]any{
		"type":        DriverMemory,
		"total":       len(s.items),
		"active":      active,
		"accepted":    accepted,
		"ttl_seconds": int(s.ttl.Seconds()),
	}, nil
}

func (s *memoryStore) Close(_ context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stop)
	})
	return nil
}
