// Package ratecache puts a Redis read-through cache in front of a rate source.
package ratecache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"tree-estimator/core/rates"
	"tree-estimator/internal/metrics"
)

const keyPrefix = "tree:rates:v1:"

// Cache caches the full history of each subject as JSON.
// Redis failures are logged and the backing source is used instead.
type Cache struct {
	client  *redis.Client
	next    rates.Source
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// Option configures a Cache
type Option func(*Cache)

// WithMetrics records hits and misses
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets the cache's logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// New wraps next with a cache
func New(client *redis.Client, next rates.Source, ttl time.Duration, opts ...Option) *Cache {
	c := &Cache{client: client, next: next, ttl: ttl, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the cache key of a subject
func Key(s rates.Subject) string {
	return keyPrefix + string(s.Kind) + ":" + s.Name
}

// Load implements rates.Source
func (c *Cache) Load(ctx context.Context, subjects []rates.Subject) ([]rates.Record, error) {
	if len(subjects) == 0 {
		return nil, nil
	}

	keys := make([]string, len(subjects))
	for i, s := range subjects {
		keys[i] = Key(s)
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("rate cache unavailable", zap.Error(err))
		c.metrics.CacheLookup("error")
		return c.next.Load(ctx, subjects)
	}

	var out []rates.Record
	var missing []rates.Subject
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			missing = append(missing, subjects[i])
			continue
		}
		var history []rates.Record
		if err := json.Unmarshal([]byte(raw), &history); err != nil {
			c.logger.Warn("discarding corrupt cache entry", zap.String("key", keys[i]), zap.Error(err))
			missing = append(missing, subjects[i])
			continue
		}
		c.metrics.CacheLookup("hit")
		out = append(out, history...)
	}
	if len(missing) == 0 {
		return out, nil
	}

	for range missing {
		c.metrics.CacheLookup("miss")
	}
	loaded, err := c.next.Load(ctx, missing)
	if err != nil {
		return nil, err
	}
	c.fill(ctx, missing, loaded)
	return append(out, loaded...), nil
}

// fill stores the history of every missing subject, including empty ones
func (c *Cache) fill(ctx context.Context, subjects []rates.Subject, records []rates.Record) {
	bySubject := make(map[rates.Subject][]rates.Record, len(subjects))
	for _, s := range subjects {
		bySubject[s] = []rates.Record{}
	}
	for _, r := range records {
		bySubject[r.Subject] = append(bySubject[r.Subject], r)
	}

	pipe := c.client.Pipeline()
	for s, history := range bySubject {
		data, err := json.Marshal(history)
		if err != nil {
			c.logger.Warn("encode cache entry", zap.Stringer("subject", s), zap.Error(err))
			continue
		}
		pipe.Set(ctx, Key(s), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("fill rate cache", zap.Error(err))
	}
}

// Invalidate drops cached history after a write
func (c *Cache) Invalidate(ctx context.Context, subjects ...rates.Subject) error {
	if len(subjects) == 0 {
		return nil
	}
	keys := make([]string, len(subjects))
	for i, s := range subjects {
		keys[i] = Key(s)
	}
	return c.client.Del(ctx, keys...).Err()
}
