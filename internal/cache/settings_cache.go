package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"social-automation-dashboard/internal/models"
)

// KV is the slice of CacheService the settings cache needs
type KV interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// SettingsCache caches DailyLimits and WarmupState records as JSON.
// Misses are (nil, nil); every other failure is returned so the caller can
// fall back to the database.
type SettingsCache struct {
	kv  KV
	ttl time.Duration
}

// NewSettingsCache creates a settings cache. A zero ttl uses DefaultSettingsTTL.
func NewSettingsCache(kv KV, ttl time.Duration) *SettingsCache {
	if ttl <= 0 {
		ttl = DefaultSettingsTTL
	}
	return &SettingsCache{kv: kv, ttl: ttl}
}

func (c *SettingsCache) GetDailyLimits(ctx context.Context, userID string) (*models.DailyLimits, error) {
	var dl models.DailyLimits
	found, err := c.getJSON(ctx, DailyLimitsKey(userID), &dl)
	if err != nil || !found {
		return nil, err
	}
	return &dl, nil
}

func (c *SettingsCache) SetDailyLimits(ctx context.Context, dl *models.DailyLimits) error {
	return c.kv.Set(ctx, DailyLimitsKey(dl.UserID), dl, c.ttl)
}

func (c *SettingsCache) GetWarmupState(ctx context.Context, userID string) (*models.WarmupState, error) {
	var ws models.WarmupState
	found, err := c.getJSON(ctx, WarmupStateKey(userID), &ws)
	if err != nil || !found {
		return nil, err
	}
	return &ws, nil
}

func (c *SettingsCache) SetWarmupState(ctx context.Context, ws *models.WarmupState) error {
	return c.kv.Set(ctx, WarmupStateKey(ws.UserID), ws, c.ttl)
}

// InvalidateSettings drops both cached records of a principal
func (c *SettingsCache) InvalidateSettings(ctx context.Context, userID string) error {
	return c.kv.Delete(ctx, DailyLimitsKey(userID), WarmupStateKey(userID))
}

func (c *SettingsCache) getJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := c.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		// A corrupt entry is dropped and treated as a miss
		_ = c.kv.Delete(ctx, key)
		return false, nil
	}
	return true, nil
}

