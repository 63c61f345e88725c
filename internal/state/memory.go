package state

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MemoryStore provides an in-memory implementation of Store.
type MemoryStore struct {
	processed  map[string]time.Time // event key -> expiry
	bumps      map[string]BumpInfo
	now        func() time.Time
	mu         sync.RWMutex
	bumpRetain time.Duration
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		processed:  make(map[string]time.Time),
		bumps:      make(map[string]BumpInfo),
		now:        time.Now,
		bumpRetain: bumpTTL,
	}
}

// WasProcessed reports whether an event was marked and has not expired.
func (s *MemoryStore) WasProcessed(_ context.Context, eventKey string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiry, ok := s.processed[eventKey]
	return ok && s.now().Before(expiry)
}

// MarkProcessed marks an event as processed for ttl.
func (s *MemoryStore) MarkProcessed(_ context.Context, eventKey string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed[eventKey] = s.now().Add(ttl)
	return nil
}

// LastBump returns the last bump recorded for a guild and service.
func (s *MemoryStore) LastBump(_ context.Context, guildID, service string) (BumpInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.bumps[bumpKey(guildID, service)]
	return info, ok
}

// SaveBump records a bump.
func (s *MemoryStore) SaveBump(_ context.Context, guildID, service string, info BumpInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if info.At.IsZero() {
		info.At = s.now()
	}
	s.bumps[bumpKey(guildID, service)] = info

	slog.Debug("saved bump info",
		"guild_id", guildID,
		"service", service,
		"user_id", info.UserID,
		"count", info.Count)
	return nil
}

// Cleanup removes expired events and old bump records.
func (s *MemoryStore) Cleanup(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	events, bumps := 0, 0
	for key, expiry := range s.processed {
		if !now.Before(expiry) {
			delete(s.processed, key)
			events++
		}
	}
	for key, info := range s.bumps {
		if now.Sub(info.At) > s.bumpRetain {
			delete(s.bumps, key)
			bumps++
		}
	}

	if events > 0 || bumps > 0 {
		slog.Debug("cleaned up state", "events", events, "bumps", bumps)
	}
	return nil
}

// Close releases resources.
func (*MemoryStore) Close() error {
	return nil
}
