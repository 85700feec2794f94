package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-health/heron/internal/domain"
)

// Store is the raw key/value layer under a Cache.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}

// Cache adds report helpers on top of a Store and implements domain.Cache.
type Cache struct {
	Store
}

// reportPrefix namespaces report entries.
const reportPrefix = "report:"

// New creates a new cache based on configuration.
// "memory" returns an LRU cache. "redis" returns Redis, or a two-phase
// LRU + Redis cache when EnableTwoPhase is set. "none" caches nothing.
func New(cfg domain.CacheConfig) (*Cache, error) {
	switch cfg.Type {
	case "memory":
		return Wrap(NewLRUCache(cfg.LocalMaxSize, cfg.LocalTTL)), nil

	case "redis":
		if cfg.EnableTwoPhase {
			tp, err := NewTwoPhaseCache(cfg)
			if err != nil {
				return nil, err
			}
			return Wrap(tp), nil
		}
		rc, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return Wrap(rc), nil

	case "none", "":
		return Wrap(noopStore{}), nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

// Wrap turns a Store into a Cache.
func Wrap(s Store) *Cache {
	return &Cache{Store: s}
}

// GetReport retrieves a cached report by request fingerprint.
// Returns nil, nil on a miss.
func (c *Cache) GetReport(ctx context.Context, fingerprint string) ([]domain.RiskAssessment, error) {
	data, err := c.Get(ctx, reportPrefix+fingerprint)
	if err != nil || data == nil {
		return nil, err
	}

	var report []domain.RiskAssessment
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("decode cached report: %w", err)
	}
	return report, nil
}

// SetReport caches a report under its request fingerprint.
func (c *Cache) SetReport(ctx context.Context, fingerprint string, report []domain.RiskAssessment, ttl time.Duration) error {
	data, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return c.Set(ctx, reportPrefix+fingerprint, data, ttl)
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching and persistence
type TwoPhaseCache struct {
	local  *LRUCache
	remote Store
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return NewTwoPhase(NewLRUCache(cfg.LocalMaxSize, cfg.LocalTTL), remote, cfg.LocalTTL), nil
}

// NewTwoPhase layers a local LRU over any remote store.
func NewTwoPhase(local *LRUCache, remote Store, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL == 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	// L1 never outlives L2
	l1TTL := c.l1TTL
	if ttl < l1TTL {
		l1TTL = ttl
	}
	if err := c.local.Set(ctx, key, value, l1TTL); err != nil {
		return err
	}
	return c.remote.Set(ctx, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, key string) error {
	if err := c.local.Delete(ctx, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, key)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// Stats returns L1 cache statistics.
func (c *TwoPhaseCache) Stats() (size int, capacity int) {
	return c.local.Stats()
}

// noopStore never stores anything.
type noopStore struct{}

func (noopStore) Get(context.Context, string) ([]byte, error)              { return nil, nil }
func (noopStore) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (noopStore) Delete(context.Context, string) error                     { return nil }
func (noopStore) Ping(context.Context) error                               { return nil }
func (noopStore) Close() error                                             { return nil }

var _ domain.Cache = (*Cache)(nil)
