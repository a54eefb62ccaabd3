package redirect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"klips/internal/engine/links"
)

const redisKeyPrefix = "klips:link:"

// RedisCache is a LinkCache shared by every server instance.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisCache connects to url (redis://...) and verifies the connection.
func NewRedisCache(ctx context.Context, url string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisCache{client: client, ttl: ttl, now: time.Now}, nil
}

func (c *RedisCache) Get(ctx context.Context, shortCode string) (*CachedLink, bool, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+shortCode).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var link CachedLink
	if err := json.Unmarshal(raw, &link); err != nil {
		return nil, false, fmt.Errorf("decode cached link %s: %w", shortCode, err)
	}
	return &link, true, nil
}

func (c *RedisCache) Set(ctx context.Context, link *links.Link) error {
	ttl := entryTTL(link, c.ttl, c.now())
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(newCachedLink(link))
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKeyPrefix+link.ShortCode, raw, ttl).Err()
}

func (c *RedisCache) Invalidate(ctx context.Context, shortCode string) error {
	return c.client.Del(ctx, redisKeyPrefix+shortCode).Err()
}

// Ping reports whether Redis is reachable, for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
