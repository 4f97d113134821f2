package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"social-automation-dashboard/internal/models"
)

// MockKV mocks the CacheService key/value surface for testing
type MockKV struct {
	mu          sync.RWMutex
	data        map[string]string
	ttls        map[string]time.Duration
	deleteCalls [][]string
	getErr      error
	setErr      error
}

func NewMockKV() *MockKV {
	return &MockKV{
		data: make(map[string]string),
		ttls: make(map[string]time.Duration),
	}
}

func (m *MockKV) Get(ctx context.Context, key string) (string, error) {
	if m.getErr != nil {
		return "", m.getErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	val, ok := m.data[key]
	if !ok {
		return "", ErrCacheMiss
	}
	return val, nil
}

func (m *MockKV) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.setErr != nil {
		return m.setErr
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(encoded)
	m.ttls[key] = ttl
	return nil
}

func (m *MockKV) Delete(ctx context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteCalls = append(m.deleteCalls, keys)
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func TestSettingsCache_DailyLimitsRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := NewMockKV()
	c := NewSettingsCache(kv, 0)

	got, err := c.GetDailyLimits(ctx, "u1")
	if err != nil || got != nil {
		t.Fatalf("expected clean miss, got %v, %v", got, err)
	}

	reset := time.Date(2025, 6, 11, 0, 0, 0, 0, time.UTC)
	if err := c.SetDailyLimits(ctx, &models.DailyLimits{UserID: "u1", MaxConnections: 12, DailyReset: reset}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if kv.ttls[DailyLimitsKey("u1")] != DefaultSettingsTTL {
		t.Errorf("expected default TTL, got %v", kv.ttls[DailyLimitsKey("u1")])
	}

	got, err = c.GetDailyLimits(ctx, "u1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got == nil || got.MaxConnections != 12 || !got.DailyReset.Equal(reset) {
		t.Errorf("unexpected cached limits: %+v", got)
	}
}

func TestSettingsCache_WarmupRoundTrip(t *testing.T) {
	ctx := context.Background()
	c := NewSettingsCache(NewMockKV(), time.Minute)

	state := &models.WarmupState{
		UserID:  "u1",
		Enabled: true,
		Phase:   models.WarmupWeek2,
		Schedule: map[models.WarmupPhase]models.WarmupCaps{
			models.WarmupWeek2: {DailyConnections: 8},
		},
	}
	if err := c.SetWarmupState(ctx, state); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, err := c.GetWarmupState(ctx, "u1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Phase != models.WarmupWeek2 || got.Schedule[models.WarmupWeek2].DailyConnections != 8 {
		t.Errorf("unexpected cached warm-up state: %+v", got)
	}
}

func TestSettingsCache_InvalidateDropsBothKeys(t *testing.T) {
	ctx := context.Background()
	kv := NewMockKV()
	c := NewSettingsCache(kv, 0)

	_ = c.SetDailyLimits(ctx, &models.DailyLimits{UserID: "u1"})
	_ = c.SetWarmupState(ctx, &models.WarmupState{UserID: "u1"})

	if err := c.InvalidateSettings(ctx, "u1"); err != nil {
		t.Fatalf("invalidate failed: %v", err)
	}
	if len(kv.data) != 0 {
		t.Errorf("expected empty cache, got %v", kv.data)
	}
	if len(kv.deleteCalls) != 1 || len(kv.deleteCalls[0]) != 2 {
		t.Errorf("expected one delete of two keys, got %v", kv.deleteCalls)
	}
}

func TestSettingsCache_UnavailablePropagates(t *testing.T) {
	kv := NewMockKV()
	kv.getErr = ErrCacheUnavailable
	c := NewSettingsCache(kv, 0)

	_, err := c.GetDailyLimits(context.Background(), "u1")
	if !errors.Is(err, ErrCacheUnavailable) {
		t.Errorf("expected ErrCacheUnavailable, got %v", err)
	}
}

func TestSettingsCache_CorruptEntryIsAMiss(t *testing.T) {
	ctx := context.Background()
	kv := NewMockKV()
	kv.data[DailyLimitsKey("u1")] = "{not json"
	c := NewSettingsCache(kv, 0)

	got, err := c.GetDailyLimits(ctx, "u1")
	if err != nil || got != nil {
		t.Fatalf("expected miss, got %v, %v", got, err)
	}
	if _, ok := kv.data[DailyLimitsKey("u1")]; ok {
		t.Error("corrupt entry should be deleted")
	}
}

func TestKeys(t *testing.T) {
	if DailyLimitsKey("abc") != "user:abc:limits" {
		t.Errorf("unexpected key %s", DailyLimitsKey("abc"))
	}
	if WarmupStateKey("abc") != "user:abc:warmup" {
		t.Errorf("unexpected key %s", WarmupStateKey("abc"))
	}
}
