package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jkindrix/estimatebot/internal/domain"
	"github.com/jkindrix/estimatebot/internal/metrics"
)

// DefaultTTL is used when the configured TTL is not positive.
const DefaultTTL = 5 * time.Minute

const keyPrefix = "estimatebot:widget:"

// WidgetCache is a read-through cache of SavedWidget JSON in front of a
// WidgetPatcher. Every write through it deletes the cached entry. Redis
// failures are logged and fall through to the inner repository.
type WidgetCache struct {
	inner   domain.WidgetPatcher
	client  redis.UniversalClient
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewWidgetCache wraps inner with a redis cache.
func NewWidgetCache(inner domain.WidgetPatcher, client redis.UniversalClient, ttl time.Duration, m *metrics.Metrics, logger *zap.Logger) *WidgetCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &WidgetCache{
		inner:   inner,
		client:  client,
		ttl:     ttl,
		metrics: m,
		logger:  logger.Named("widget_cache"),
	}
}

// Key returns the redis key for a widget.
func Key(id uuid.UUID) string {
	return keyPrefix + id.String()
}

// Get returns the cached widget or loads and caches it.
func (c *WidgetCache) Get(ctx context.Context, id uuid.UUID) (*domain.SavedWidget, error) {
	data, err := c.client.Get(ctx, Key(id)).Bytes()
	switch {
	case err == nil:
		var w domain.SavedWidget
		if jerr := json.Unmarshal(data, &w); jerr == nil {
			c.metrics.RecordCacheLookup("hit")
			return &w, nil
		}
		c.logger.Warn("dropping undecodable cache entry", zap.String("widget_id", id.String()))
		c.invalidate(ctx, id)
		c.metrics.RecordCacheLookup("miss")
	case errors.Is(err, redis.Nil):
		c.metrics.RecordCacheLookup("miss")
	default:
		c.metrics.RecordCacheLookup("error")
		c.logger.Warn("cache read failed", zap.String("widget_id", id.String()), zap.Error(err))
	}

	w, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	c.store(ctx, w)
	return w, nil
}

// List bypasses the cache.
func (c *WidgetCache) List(ctx context.Context, limit int) ([]*domain.SavedWidget, error) {
	return c.inner.List(ctx, limit)
}

// Create inserts through the inner repository.
func (c *WidgetCache) Create(ctx context.Context, w *domain.SavedWidget) error {
	if err := c.inner.Create(ctx, w); err != nil {
		return err
	}
	c.invalidate(ctx, w.ID)
	return nil
}

// Update writes through and invalidates the entry.
func (c *WidgetCache) Update(ctx context.Context, w *domain.SavedWidget) error {
	err := c.inner.Update(ctx, w)
	c.invalidate(ctx, w.ID)
	return err
}

// Delete removes the widget and its cache entry.
func (c *WidgetCache) Delete(ctx context.Context, id uuid.UUID) error {
	err := c.inner.Delete(ctx, id)
	c.invalidate(ctx, id)
	return err
}

// Patch delegates and invalidates the entry.
func (c *WidgetCache) Patch(ctx context.Context, id uuid.UUID, fn func(*domain.SavedWidget) error) (*domain.SavedWidget, error) {
	w, err := c.inner.Patch(ctx, id, fn)
	c.invalidate(ctx, id)
	return w, err
}

func (c *WidgetCache) store(ctx context.Context, w *domain.SavedWidget) {
	data, err := json.Marshal(w)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, Key(w.ID), data, c.ttl).Err(); err != nil {
		c.logger.Warn("cache write failed", zap.String("widget_id", w.ID.String()), zap.Error(err))
	}
}

func (c *WidgetCache) invalidate(ctx context.Context, id uuid.UUID) {
	if err := c.client.Del(ctx, Key(id)).Err(); err != nil {
		c.logger.Warn("cache invalidation failed", zap.String("widget_id", id.String()), zap.Error(err))
	}
}
