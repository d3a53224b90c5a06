package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedSettings wraps a SettingsStore with a Redis read-through cache.
// Settings are read on every check cycle, so the hot path goes to Redis;
// writes go to the primary store and invalidate the cached entry. The
// attempt ledger is deliberately not cached: it is append-only and its
// counts feed rate limiting.
type CachedSettings struct {
	primary SettingsStore
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedSettings creates a cached wrapper around a primary settings store.
func NewCachedSettings(primary SettingsStore, rdb *redis.Client, ttl time.Duration) *CachedSettings {
	return &CachedSettings{primary: primary, rdb: rdb, ttl: ttl}
}

func settingsKey(productID string) string {
	return "repricer:settings:" + productID
}

// GetSettings checks Redis first, falling back to the primary store.
func (c *CachedSettings) GetSettings(ctx context.Context, productID string) (AutomationSettings, error) {
	data, err := c.rdb.Get(ctx, settingsKey(productID)).Bytes()
	if err == nil {
		var settings AutomationSettings
		if json.Unmarshal(data, &settings) == nil {
			return settings, nil
		}
	}

	// Cache miss, corrupt entry, or Redis unavailable: read the primary.
	settings, err := c.primary.GetSettings(ctx, productID)
	if err != nil {
		return AutomationSettings{}, err
	}

	c.cache(ctx, settings)
	return settings, nil
}

// UpsertSettings writes through to the primary store and refreshes the cache.
func (c *CachedSettings) UpsertSettings(ctx context.Context, settings AutomationSettings) error {
	if err := c.primary.UpsertSettings(ctx, settings); err != nil {
		return err
	}
	c.cache(ctx, settings)
	return nil
}

// DeleteSettings removes the row and invalidates the cached entry.
func (c *CachedSettings) DeleteSettings(ctx context.Context, productID string) error {
	if err := c.primary.DeleteSettings(ctx, productID); err != nil {
		return err
	}
	c.rdb.Del(ctx, settingsKey(productID))
	return nil
}

// ListSettings always reads the primary store; listing is not on the hot path.
func (c *CachedSettings) ListSettings(ctx context.Context) ([]AutomationSettings, error) {
	return c.primary.ListSettings(ctx)
}

func (c *CachedSettings) cache(ctx context.Context, settings AutomationSettings) {
	data, err := json.Marshal(settings)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, settingsKey(settings.ProductID), data, c.ttl)
}

var _ SettingsStore = (*CachedSettings)(nil)
