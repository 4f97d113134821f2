// Package memory is an in-process implementation of every store interface.
// It backs STORAGE_BACKEND=memory for local development and the package
// tests. All state is scoped to a Store value and guarded by its mutex.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"social-automation-dashboard/internal/license"
	"social-automation-dashboard/internal/models"
	"social-automation-dashboard/internal/usage"
)

var (
	ErrNotFound    = errors.New("record not found")
	ErrDuplicate   = errors.New("record already exists")
	ErrInvalidData = errors.New("invalid record")
)

// Store keeps every record in maps keyed by principal id
type Store struct {
	mu        sync.RWMutex
	users     map[string]*models.User
	licenses  map[string]*models.License
	limits    map[string]*models.DailyLimits
	warmups   map[string]*models.WarmupState
	bots      map[string]*models.BotStatus
	activity  []models.ActivityEvent
	keywords  map[string][]models.Keyword
	templates map[string][]models.MessageTemplate

	// Fail, when set, is returned by every call. Tests use it to simulate
	// storage outages.
	Fail error
}

// New creates an empty store
func New() *Store {
	return &Store{
		users:     make(map[string]*models.User),
		licenses:  make(map[string]*models.License),
		limits:    make(map[string]*models.DailyLimits),
		warmups:   make(map[string]*models.WarmupState),
		bots:      make(map[string]*models.BotStatus),
		keywords:  make(map[string][]models.Keyword),
		templates: make(map[string][]models.MessageTemplate),
	}
}

// HealthCheck mirrors the database health check
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.Fail
}

// ==================== USERS ====================

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	for _, existing := range s.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return ErrDuplicate
		}
	}
	cp := *u
	s.users[u.ID] = &cp
	return nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

// ==================== LICENSES ====================

func (s *Store) CreateLicense(ctx context.Context, l *models.License) error {
	if l.UserID == "" || l.ExpiresAt.IsZero() {
		return ErrInvalidData
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	if _, ok := s.licenses[l.UserID]; ok {
		return ErrDuplicate
	}
	cp := *l
	s.licenses[l.UserID] = &cp
	return nil
}

func (s *Store) GetLicense(ctx context.Context, userID string) (*models.License, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	if l, ok := s.licenses[userID]; ok {
		cp := *l
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) UpdateLicenseTerms(ctx context.Context, userID string, tier license.Tier, perms license.Entitlements, expiresAt time.Time, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	l, ok := s.licenses[userID]
	if !ok {
		return ErrNotFound
	}
	l.Tier = tier
	l.Permissions = perms
	l.ExpiresAt = expiresAt
	if active && !l.IsActive {
		l.ActivatedAt = time.Now()
	}
	l.IsActive = active
	l.UpdatedAt = time.Now()
	return nil
}

func (s *Store) SetLicenseActive(ctx context.Context, userID string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	l, ok := s.licenses[userID]
	if !ok {
		return ErrNotFound
	}
	l.IsActive = active
	l.UpdatedAt = time.Now()
	return nil
}

func (s *Store) RecordLogin(ctx context.Context, userID string, at time.Time, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	l, ok := s.licenses[userID]
	if !ok {
		return ErrNotFound
	}
	l.LastLoginAt = &at
	l.LastLoginIP = ip
	l.Usage.TotalSessions++
	return nil
}

func (s *Store) DeactivateExpiredLicenses(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	var ids []string
	for id, l := range s.licenses {
		if l.IsActive && l.ExpiresAt.Before(now) {
			l.IsActive = false
			l.UpdatedAt = now
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) HasStaleUsage(ctx context.Context, boundary time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	for _, l := range s.licenses {
		last := l.CreatedAt
		if l.Usage.LastResetAt != nil {
			last = *l.Usage.LastResetAt
		}
		if last.Before(boundary) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) GetLicenseStats(ctx context.Context, now time.Time) (*models.LicenseStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	stats := &models.LicenseStats{ByTier: make(map[license.Tier]int)}
	for _, l := range s.licenses {
		stats.Total++
		stats.ByTier[l.Tier]++
		switch {
		case l.IsExpired(now):
			stats.Expired++
		case !l.IsActive:
			stats.Inactive++
		default:
			stats.Active++
		}
	}
	return stats, nil
}

// ==================== USAGE ====================

func (s *Store) IncrementUsage(ctx context.Context, userID string, counter usage.Counter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	l, ok := s.licenses[userID]
	if !ok {
		return ErrNotFound
	}
	usage.Apply(&l.Usage, counter)
	return nil
}

func (s *Store) GetUsage(ctx context.Context, userID string) (*models.UsageCounters, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	l, ok := s.licenses[userID]
	if !ok {
		return nil, nil
	}
	c := l.Usage
	return &c, nil
}

func (s *Store) ResetDailyUsage(ctx context.Context, now, nextReset time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return 0, s.Fail
	}
	var n int64
	for _, l := range s.licenses {
		usage.ResetDaily(&l.Usage, now)
		n++
	}
	for _, dl := range s.limits {
		dl.DailyReset = nextReset
	}
	return n, nil
}

// ==================== SETTINGS ====================

func (s *Store) GetDailyLimits(ctx context.Context, userID string) (*models.DailyLimits, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	if dl, ok := s.limits[userID]; ok {
		cp := *dl
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) CreateDailyLimitsIfAbsent(ctx context.Context, dl *models.DailyLimits) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	if _, ok := s.limits[dl.UserID]; ok {
		return false, nil
	}
	cp := *dl
	s.limits[dl.UserID] = &cp
	return true, nil
}

func (s *Store) SaveDailyLimits(ctx context.Context, dl *models.DailyLimits) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	cp := *dl
	s.limits[dl.UserID] = &cp
	return nil
}

func (s *Store) GetWarmupState(ctx context.Context, userID string) (*models.WarmupState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	if w, ok := s.warmups[userID]; ok {
		cp := copyWarmup(w)
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) CreateWarmupStateIfAbsent(ctx context.Context, w *models.WarmupState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	if _, ok := s.warmups[w.UserID]; ok {
		return false, nil
	}
	cp := copyWarmup(w)
	s.warmups[w.UserID] = &cp
	return true, nil
}

func (s *Store) SaveWarmupState(ctx context.Context, w *models.WarmupState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	cp := copyWarmup(w)
	s.warmups[w.UserID] = &cp
	return nil
}

func copyWarmup(w *models.WarmupState) models.WarmupState {
	cp := *w
	if w.Schedule != nil {
		cp.Schedule = make(map[models.WarmupPhase]models.WarmupCaps, len(w.Schedule))
		for k, v := range w.Schedule {
			cp.Schedule[k] = v
		}
	}
	return cp
}

// ==================== BOT STATUS ====================

func (s *Store) GetBotStatus(ctx context.Context, userID string) (*models.BotStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	if b, ok := s.bots[userID]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) CompareAndSwapBotStatus(ctx context.Context, next *models.BotStatus, expected models.BotState) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	current := models.BotStopped
	if b, ok := s.bots[next.UserID]; ok {
		current = b.Status
	}
	if current != expected {
		return false, nil
	}
	cp := *next
	s.bots[next.UserID] = &cp
	return true, nil
}

// ==================== ACTIVITY ====================

func (s *Store) AppendActivity(ctx context.Context, e *models.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	s.activity = append(s.activity, *e)
	return nil
}

func (s *Store) ListActivity(ctx context.Context, userID string, from, to time.Time, limit int) ([]models.ActivityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	var out []models.ActivityEvent
	for _, e := range s.activity {
		if e.UserID != userID || e.CreatedAt.Before(from) || !e.CreatedAt.Before(to) {
			continue
		}
		out = append(out, e)
	}
	// same order as the SQL: created_at DESC, id DESC
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SummarizeActivity(ctx context.Context, userID string, from, to time.Time) ([]models.ActivityCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	return s.countActivity(func(e models.ActivityEvent) bool {
		return e.UserID == userID && !e.CreatedAt.Before(from) && e.CreatedAt.Before(to)
	}), nil
}

func (s *Store) CountActivitySince(ctx context.Context, since time.Time) ([]models.ActivityCount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	return s.countActivity(func(e models.ActivityEvent) bool {
		return !e.CreatedAt.Before(since)
	}), nil
}

func (s *Store) countActivity(match func(models.ActivityEvent) bool) []models.ActivityCount {
	byKind := make(map[models.ActivityKind]*models.ActivityCount)
	for _, e := range s.activity {
		if !match(e) {
			continue
		}
		c, ok := byKind[e.Kind]
		if !ok {
			c = &models.ActivityCount{Kind: e.Kind}
			byKind[e.Kind] = c
		}
		c.Total++
		if e.Success {
			c.Succeeded++
		}
	}
	out := make([]models.ActivityCount, 0, len(byKind))
	for _, c := range byKind {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out
}

// ==================== CAMPAIGN ====================

func (s *Store) ListKeywords(ctx context.Context, userID string) ([]models.Keyword, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	return append([]models.Keyword(nil), s.keywords[userID]...), nil
}

func (s *Store) CountKeywords(ctx context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return 0, s.Fail
	}
	return len(s.keywords[userID]), nil
}

func (s *Store) CreateKeyword(ctx context.Context, k *models.Keyword) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	for _, existing := range s.keywords[k.UserID] {
		if strings.EqualFold(existing.Term, k.Term) {
			return ErrDuplicate
		}
	}
	s.keywords[k.UserID] = append(s.keywords[k.UserID], *k)
	return nil
}

func (s *Store) DeleteKeyword(ctx context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	list := s.keywords[userID]
	for i, k := range list {
		if k.ID == id {
			s.keywords[userID] = append(list[:i:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListTemplates(ctx context.Context, userID string) ([]models.MessageTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	return append([]models.MessageTemplate(nil), s.templates[userID]...), nil
}

func (s *Store) GetTemplate(ctx context.Context, userID, id string) (*models.MessageTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.Fail != nil {
		return nil, s.Fail
	}
	for _, t := range s.templates[userID] {
		if t.ID == id {
			cp := t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *Store) CreateTemplate(ctx context.Context, t *models.MessageTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return s.Fail
	}
	s.templates[t.UserID] = append(s.templates[t.UserID], *t)
	return nil
}

func (s *Store) UpdateTemplate(ctx context.Context, t *models.MessageTemplate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	for i, existing := range s.templates[t.UserID] {
		if existing.ID == t.ID {
			s.templates[t.UserID][i] = *t
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, userID, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	list := s.templates[userID]
	for i, t := range list {
		if t.ID == id {
			s.templates[userID] = append(list[:i:i], list[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
