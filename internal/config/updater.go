package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/store"
	"github.com/codeGROOVE-dev/retry"
)

const (
	maxCASAttempts  = 5
	casRetryDelay   = 20 * time.Millisecond
	casMaxDelay     = 500 * time.Millisecond
	defaultCacheTTL = 5 * time.Minute
)

// ErrPersistenceConflict is returned when concurrent writers kept winning the
// compare-and-swap race until the retry budget ran out. Nothing was written.
var ErrPersistenceConflict = errors.New("persistence conflict")

// errCASLost marks an attempt whose conditional write lost a race; only these are retried.
var errCASLost = errors.New("conditional write lost race")

type guildCacheEntry struct {
	timestamp time.Time
	config    GuildConfig
}

type guildCache struct {
	entries map[string]guildCacheEntry
	ttl     time.Duration
	mu      sync.RWMutex
	hits    atomic.Int64
	misses  atomic.Int64
}

func (c *guildCache) get(guildID string) (GuildConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[guildID]
	if !exists || time.Since(entry.timestamp) > c.ttl {
		c.misses.Add(1)
		return GuildConfig{}, false
	}

	c.hits.Add(1)
	return entry.config, true
}

func (c *guildCache) set(guildID string, cfg GuildConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[guildID] = guildCacheEntry{config: cfg, timestamp: time.Now()}
}

func (c *guildCache) invalidate(guildID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.entries, guildID)
}

func (c *guildCache) stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

// Updater reads and writes guild configs with a compare-and-swap retry loop.
type Updater struct {
	store      store.ConfigStore
	cache      *guildCache
	logger     *slog.Logger
	retryDelay time.Duration
}

// UpdaterOption configures an Updater.
type UpdaterOption func(*Updater)

// WithCacheTTL sets how long decoded configs are served from memory by Get.
// A zero TTL disables caching.
func WithCacheTTL(ttl time.Duration) UpdaterOption {
	return func(u *Updater) {
		u.cache.ttl = ttl
	}
}

// WithRetryDelay sets the initial backoff between lost CAS attempts.
func WithRetryDelay(d time.Duration) UpdaterOption {
	return func(u *Updater) {
		u.retryDelay = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) UpdaterOption {
	return func(u *Updater) {
		u.logger = logger
	}
}

// NewUpdater creates an updater over the given config store.
func NewUpdater(s store.ConfigStore, opts ...UpdaterOption) *Updater {
	u := &Updater{
		store:      s,
		cache:      &guildCache{entries: make(map[string]guildCacheEntry), ttl: defaultCacheTTL},
		logger:     slog.Default(),
		retryDelay: casRetryDelay,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Get returns the guild's config, or the default when none is stored or it cannot be decoded.
func (u *Updater) Get(ctx context.Context, guildID string) (GuildConfig, error) {
	if cfg, ok := u.cache.get(guildID); ok {
		return cfg, nil
	}

	snap, err := u.store.ReadConfig(ctx, guildID)
	if err != nil {
		return GuildConfig{}, fmt.Errorf("read guild config: %w", err)
	}
	cfg, ok := DecodeGuildConfig(snap.Raw)
	if snap.Exists && !ok {
		u.logger.Warn("stored guild config is not decodable, using default", "guild_id", guildID)
	}
	u.cache.set(guildID, cfg)
	return cfg, nil
}

// Set ensures the stored config equals desired.
func (u *Updater) Set(ctx context.Context, guildID string, desired GuildConfig) (GuildConfig, error) {
	return u.Update(ctx, guildID, func(GuildConfig) GuildConfig { return desired })
}

// Update applies mutate to the current config and writes the result with a conditional write.
// mutate may run more than once and must not have side effects.
// If the result already matches what is stored, nothing is written.
func (u *Updater) Update(ctx context.Context, guildID string, mutate func(GuildConfig) GuildConfig) (GuildConfig, error) {
	var result GuildConfig
	err := retry.Do(
		func() error {
			cfg, err := u.attempt(ctx, guildID, mutate)
			if err != nil {
				return err
			}
			result = cfg
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(maxCASAttempts),
		retry.Delay(u.retryDelay),
		retry.MaxDelay(casMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			u.logger.Debug("guild config write lost race, retrying",
				"guild_id", guildID,
				"attempt", n+1,
				"max_attempts", maxCASAttempts,
				"error", err)
		}),
		retry.RetryIf(func(err error) bool {
			return errors.Is(err, errCASLost)
		}),
	)
	if err != nil {
		u.cache.invalidate(guildID)
		if errors.Is(err, errCASLost) {
			u.logger.Warn("guild config update exhausted retries",
				"guild_id", guildID,
				"attempts", maxCASAttempts)
			return GuildConfig{}, fmt.Errorf("update guild %s config: %w", guildID, ErrPersistenceConflict)
		}
		return GuildConfig{}, fmt.Errorf("update guild %s config: %w", guildID, err)
	}

	u.cache.set(guildID, result)
	return result, nil
}

func (u *Updater) attempt(ctx context.Context, guildID string, mutate func(GuildConfig) GuildConfig) (GuildConfig, error) {
	snap, err := u.store.ReadConfig(ctx, guildID)
	if err != nil {
		return GuildConfig{}, err
	}

	current, decoded := DecodeGuildConfig(snap.Raw)
	next := mutate(current).Normalize()
	if snap.Exists && decoded && current.Equal(next) {
		return next, nil
	}

	raw, err := EncodeGuildConfig(next)
	if err != nil {
		return GuildConfig{}, fmt.Errorf("encode guild config: %w", err)
	}

	var won bool
	if snap.Exists {
		won, err = u.store.UpdateConfigIf(ctx, guildID, snap, raw)
	} else {
		won, err = u.store.InsertConfigIfAbsent(ctx, guildID, raw)
	}
	if err != nil {
		return GuildConfig{}, err
	}
	if !won {
		return GuildConfig{}, errCASLost
	}

	u.logger.Info("updated guild config", "guild_id", guildID, "version", snap.Version+1)
	return next, nil
}

// CacheStats returns cache hit and miss counts.
func (u *Updater) CacheStats() (hits, misses int64) {
	return u.cache.stats()
}
