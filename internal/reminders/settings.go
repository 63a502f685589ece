// Package reminders holds the reminder dispatch and appointment confirmation
// services: the settings cache, the distributed job lock, confirmation
// tokens, the orchestrator that sends reminders and the confirmation flow.
//
// Storage is reached through narrow interfaces satisfied by the repositories
// in internal/db, so every service can be exercised with in-memory fakes.
package reminders

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"sphyra/internal/types"
)

// DefaultSettingsTTL is how long settings are served from memory.
const DefaultSettingsTTL = 10 * time.Minute

var settingKeys = []string{
	types.SettingReminderSendHour,
	types.SettingReminderSendMinute,
	types.SettingReminderDaysBefore,
	types.SettingEnableAutoReminder,
}

// SettingsStore is the key/value settings collaborator.
type SettingsStore interface {
	GetValues(ctx context.Context, keys []string) (map[string]json.RawMessage, error)
	UpsertValues(ctx context.Context, values map[string]any, now time.Time) error
}

// SettingsCache serves the reminder timing configuration, reloading it from
// the store at most once per TTL. One instance is shared by the scheduler,
// the orchestrator and the settings API.
type SettingsCache struct {
	store    SettingsStore
	ttl      time.Duration
	clock    types.Clock
	logger   *slog.Logger
	validate *validator.Validate

	mu            sync.Mutex
	cached        types.ReminderSettings
	lastRefreshed time.Time
	valid         bool
}

// SettingsCacheConfig holds the dependencies for a SettingsCache.
type SettingsCacheConfig struct {
	Store  SettingsStore
	TTL    time.Duration
	Clock  types.Clock
	Logger *slog.Logger
}

// NewSettingsCache creates a SettingsCache. A zero TTL uses
// DefaultSettingsTTL.
func NewSettingsCache(cfg SettingsCacheConfig) *SettingsCache {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultSettingsTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = types.RealClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsCache{
		store:    cfg.Store,
		ttl:      ttl,
		clock:    clock,
		logger:   logger,
		validate: validator.New(),
	}
}

// Get returns the cached settings, reloading them when the TTL has elapsed.
// A store failure is logged and answered with the hardcoded defaults; the
// defaults are not cached so the next call retries the store.
func (c *SettingsCache) Get(ctx context.Context) types.ReminderSettings {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	if c.valid && now.Sub(c.lastRefreshed) < c.ttl {
		return c.cached
	}

	values, err := c.store.GetValues(ctx, settingKeys)
	if err != nil {
		c.logger.Warn("could not load reminder settings, using defaults", "error", err)
		return types.DefaultReminderSettings()
	}

	c.cached = c.parse(values)
	c.lastRefreshed = now
	c.valid = true
	return c.cached
}

// ForceRefresh drops the cached value so the next Get reads the store.
func (c *SettingsCache) ForceRefresh() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// Update validates and persists all four settings, then invalidates the
// cache.
func (c *SettingsCache) Update(ctx context.Context, s types.ReminderSettings) error {
	if err := c.validate.Struct(s); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidSettings, "invalid reminder settings: "+err.Error(), err)
	}

	err := c.store.UpsertValues(ctx, map[string]any{
		types.SettingReminderSendHour:   s.ReminderHour,
		types.SettingReminderSendMinute: s.ReminderMinute,
		types.SettingReminderDaysBefore: s.ReminderDaysBefore,
		types.SettingEnableAutoReminder: s.EnableAutoReminders,
	}, c.clock.Now())
	if err != nil {
		return err
	}

	c.ForceRefresh()
	c.logger.Info("reminder settings updated",
		"hour", s.ReminderHour,
		"minute", s.ReminderMinute,
		"days_before", s.ReminderDaysBefore,
		"enabled", s.EnableAutoReminders,
	)
	return nil
}

// parse applies each stored value over the defaults. A missing, malformed or
// out-of-range key keeps its own default without affecting the others.
func (c *SettingsCache) parse(values map[string]json.RawMessage) types.ReminderSettings {
	s := types.DefaultReminderSettings()

	if v, ok := c.intSetting(values, types.SettingReminderSendHour, 0, 23); ok {
		s.ReminderHour = v
	}
	if v, ok := c.intSetting(values, types.SettingReminderSendMinute, 0, 59); ok {
		s.ReminderMinute = v
	}
	if v, ok := c.intSetting(values, types.SettingReminderDaysBefore, 1, 30); ok {
		s.ReminderDaysBefore = v
	}
	if raw, present := values[types.SettingEnableAutoReminder]; present {
		if v, ok := parseBool(raw); ok {
			s.EnableAutoReminders = v
		} else {
			c.logger.Warn("malformed reminder setting, using default", "key", types.SettingEnableAutoReminder)
		}
	}
	return s
}

func (c *SettingsCache) intSetting(values map[string]json.RawMessage, key string, lo, hi int) (int, bool) {
	raw, present := values[key]
	if !present {
		return 0, false
	}
	v, ok := parseInt(raw)
	if !ok || v < lo || v > hi {
		c.logger.Warn("malformed reminder setting, using default", "key", key)
		return 0, false
	}
	return v, true
}

// parseInt accepts a JSON integer or a quoted integer.
func parseInt(raw json.RawMessage) (int, bool) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	return n, err == nil
}

// parseBool accepts a JSON boolean or a quoted "true"/"false".
func parseBool(raw json.RawMessage) (bool, bool) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return false, false
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return b, err == nil
}
