package geocoding

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/karlseguin/ccache/v3"
	"github.com/redis/go-redis/v9"

	"github.com/intelliaflow/IAIMMOBOT/internal/models"
)

const sharedKeyPrefix = "geocode:"

// DefaultCacheTTL applies when NewCache is given a non-positive ttl.
const DefaultCacheTTL = 720 * time.Hour

// CoordinateStore is a shared, persistent second cache level.
type CoordinateStore interface {
	Get(ctx context.Context, key string) (*models.Coordinates, bool, error)
	Set(ctx context.Context, key string, coords *models.Coordinates, ttl time.Duration) error
}

// CacheKey normalizes an address for cache lookups: trimmed, lower-cased, inner whitespace collapsed.
func CacheKey(address string) string {
	return strings.Join(strings.Fields(strings.ToLower(address)), " ")
}

// Cache is a bounded in-process LRU in front of an optional CoordinateStore.
// Only positive results are cached.
type Cache struct {
	local  *ccache.Cache[models.Coordinates]
	shared CoordinateStore
	ttl    time.Duration
}

// NewCache creates a cache holding at most size entries locally. shared may be nil.
// Both levels expire entries after the same ttl.
func NewCache(size int, ttl time.Duration, shared CoordinateStore) *Cache {
	if size <= 0 {
		size = 1000
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		local:  ccache.New(ccache.Configure[models.Coordinates]().MaxSize(int64(size))),
		shared: shared,
		ttl:    ttl,
	}
}

// Get looks the address up locally, then in the shared store. Shared hits are promoted.
func (c *Cache) Get(ctx context.Context, address string) (*models.Coordinates, bool) {
	key := CacheKey(address)
	if item := c.local.Get(key); item != nil && !item.Expired() {
		coords := item.Value()
		return &coords, true
	}
	if c.shared == nil {
		return nil, false
	}
	coords, ok, err := c.shared.Get(ctx, key)
	if err != nil {
		log.Printf("WARN: shared geocode cache read failed for %q: %v", key, err)
		return nil, false
	}
	if !ok || coords == nil {
		return nil, false
	}
	c.local.Set(key, *coords, c.ttl)
	return coords, true
}

// Set stores coords under the address in both levels. Shared-store errors are logged only.
func (c *Cache) Set(ctx context.Context, address string, coords *models.Coordinates) {
	if coords == nil {
		return
	}
	key := CacheKey(address)
	c.local.Set(key, *coords, c.ttl)
	if c.shared == nil {
		return
	}
	if err := c.shared.Set(ctx, key, coords, c.ttl); err != nil {
		log.Printf("WARN: shared geocode cache write failed for %q: %v", key, err)
	}
}

// Stop releases the LRU's background worker.
func (c *Cache) Stop() {
	c.local.Stop()
}

// RedisCoordinateStore keeps cache entries as JSON strings in Redis.
type RedisCoordinateStore struct {
	client *redis.Client
}

func NewRedisCoordinateStore(client *redis.Client) *RedisCoordinateStore {
	return &RedisCoordinateStore{client: client}
}

func (s *RedisCoordinateStore) Get(ctx context.Context, key string) (*models.Coordinates, bool, error) {
	raw, err := s.client.Get(ctx, sharedKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	var coords models.Coordinates
	if err := json.Unmarshal(raw, &coords); err != nil {
		return nil, false, fmt.Errorf("decode cached coordinates: %w", err)
	}
	return &coords, true, nil
}

func (s *RedisCoordinateStore) Set(ctx context.Context, key string, coords *models.Coordinates, ttl time.Duration) error {
	raw, err := json.Marshal(coords)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, sharedKeyPrefix+key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// MemcacheCoordinateStore keeps cache entries in Memcached. Keys are hashed because
// addresses contain spaces and may exceed the 250 byte key limit.
type MemcacheCoordinateStore struct {
	client *memcache.Client
}

func NewMemcacheCoordinateStore(client *memcache.Client) *MemcacheCoordinateStore {
	return &MemcacheCoordinateStore{client: client}
}

func memcacheKey(key string) string {
	sum := sha1.Sum([]byte(key))
	return sharedKeyPrefix + hex.EncodeToString(sum[:])
}

func (s *MemcacheCoordinateStore) Get(ctx context.Context, key string) (*models.Coordinates, bool, error) {
	item, err := s.client.Get(memcacheKey(key))
	if errors.Is(err, memcache.ErrCacheMiss) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("memcache get: %w", err)
	}
	var coords models.Coordinates
	if err := json.Unmarshal(item.Value, &coords); err != nil {
		return nil, false, fmt.Errorf("decode cached coordinates: %w", err)
	}
	return &coords, true, nil
}

func (s *MemcacheCoordinateStore) Set(ctx context.Context, key string, coords *models.Coordinates, ttl time.Duration) error {
	raw, err := json.Marshal(coords)
	if err != nil {
		return err
	}
	item := &memcache.Item{Key: memcacheKey(key), Value: raw, Expiration: memcacheExpiration(ttl, time.Now())}
	if err := s.client.Set(item); err != nil {
		return fmt.Errorf("memcache set: %w", err)
	}
	return nil
}

// memcacheExpiration converts ttl to Memcached's format: relative seconds up to 30 days,
// an absolute unix time beyond that.
func memcacheExpiration(ttl time.Duration, now time.Time) int32 {
	const maxRelative = 30 * 24 * time.Hour
	if ttl <= 0 {
		return 0
	}
	if ttl > maxRelative {
		return int32(now.Add(ttl).Unix())
	}
	return int32(ttl / time.Second)
}
