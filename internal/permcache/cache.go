// Package permcache caches effective-permission resolutions in Redis with a
// short TTL. Permission checks sit on every hot read/write path; the cache
// absorbs repeat resolutions without weakening the grant/revoke paths, which
// invalidate the document's entries on every mutation.
package permcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is the cached resolution for one (document, user) pair.
type Entry struct {
	Capabilities   uint16     `json:"capabilities"`
	Source         string     `json:"source"`
	EarliestExpiry *time.Time `json:"earliest_expiry,omitempty"`
	CachedAt       time.Time  `json:"cached_at"`
}

type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &RedisCache{
		client: client,
		prefix: "perm:",
		ttl:    ttl,
	}
}

func (c *RedisCache) key(documentID, userID string) string {
	return c.prefix + documentID + ":" + userID
}

// Get returns the cached entry and whether it was present. Errors are
// reported so callers can fall through to a full resolution.
func (c *RedisCache) Get(ctx context.Context, documentID, userID string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(documentID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("get cached permissions: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode cached permissions: %w", err)
	}
	return entry, true, nil
}

func (c *RedisCache) Set(ctx context.Context, documentID, userID string, entry Entry) error {
	entry.CachedAt = time.Now()
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cached permissions: %w", err)
	}
	if err := c.client.Set(ctx, c.key(documentID, userID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("set cached permissions: %w", err)
	}
	return nil
}

// InvalidateDocument drops every cached resolution for the document.
func (c *RedisCache) InvalidateDocument(ctx context.Context, documentID string) error {
	iter := c.client.Scan(ctx, 0, c.prefix+documentID+":*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("invalidate cached permissions: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan cached permissions: %w", err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
