package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/fido"
	"github.com/codeGROOVE-dev/fido/pkg/store/cloudrun"
)

// TTLs for different data types.
const (
	eventTTL = 6 * time.Hour       // longer than a gateway resume window
	bumpTTL  = 30 * 24 * time.Hour // status shows the last bump for a month
)

// FidoStore implements Store using fido with CloudRun backend.
//
// Requires these Datastore databases (must be created before use):
//   - bumpkeeper-events: processed gateway message ids
//   - bumpkeeper-bumps: last bump per guild and service
//
// Persisting processed events keeps a restart during a gateway replay from
// scheduling the same bump twice.
type FidoStore struct {
	events *fido.TieredCache[string, time.Time]
	bumps  *fido.TieredCache[string, BumpInfo]
	// Local view of event expiries, for Cleanup and to skip backend reads.
	local   map[string]time.Time
	localMu sync.RWMutex
}

// FidoStoreOption configures a FidoStore.
type FidoStoreOption func(*fidoStoreOptions)

type fidoStoreOptions struct {
	eventStore fido.Store[string, time.Time]
	bumpStore  fido.Store[string, BumpInfo]
}

// WithEventStore sets a custom store for processed events.
func WithEventStore(s fido.Store[string, time.Time]) FidoStoreOption {
	return func(o *fidoStoreOptions) { o.eventStore = s }
}

// WithBumpStore sets a custom store for bump records.
func WithBumpStore(s fido.Store[string, BumpInfo]) FidoStoreOption {
	return func(o *fidoStoreOptions) { o.bumpStore = s }
}

// NewFidoStore creates a new fido-backed store.
// Uses CloudRun backend which auto-detects environment.
func NewFidoStore(ctx context.Context, opts ...FidoStoreOption) (*FidoStore, error) {
	var o fidoStoreOptions
	for _, opt := range opts {
		opt(&o)
	}

	eventStore := o.eventStore
	if eventStore == nil {
		var err error
		eventStore, err = cloudrun.New[string, time.Time](ctx, "bumpkeeper-events")
		if err != nil {
			return nil, fmt.Errorf("create event store: %w", err)
		}
	}

	bumpStore := o.bumpStore
	if bumpStore == nil {
		var err error
		bumpStore, err = cloudrun.New[string, BumpInfo](ctx, "bumpkeeper-bumps")
		if err != nil {
			return nil, fmt.Errorf("create bump store: %w", err)
		}
	}

	events, err := fido.NewTiered(eventStore, fido.TTL(eventTTL))
	if err != nil {
		return nil, fmt.Errorf("create event cache: %w", err)
	}

	bumps, err := fido.NewTiered(bumpStore, fido.TTL(bumpTTL))
	if err != nil {
		return nil, fmt.Errorf("create bump cache: %w", err)
	}

	slog.Info("initialized fido store")
	return &FidoStore{
		events: events,
		bumps:  bumps,
		local:  make(map[string]time.Time),
	}, nil
}

// WasProcessed checks if an event was already processed.
func (s *FidoStore) WasProcessed(ctx context.Context, eventKey string) bool {
	s.localMu.RLock()
	expiry, found := s.local[eventKey]
	s.localMu.RUnlock()

	if !found {
		var err error
		expiry, found, err = s.events.Get(ctx, eventKey)
		if err != nil {
			slog.Debug("event lookup error", "key", eventKey, "error", err)
			return false
		}
	}
	return found && time.Now().Before(expiry)
}

// MarkProcessed marks an event as processed.
func (s *FidoStore) MarkProcessed(ctx context.Context, eventKey string, ttl time.Duration) error {
	expiry := time.Now().Add(ttl)

	s.localMu.Lock()
	s.local[eventKey] = expiry
	s.localMu.Unlock()

	return s.events.Set(ctx, eventKey, expiry)
}

// LastBump retrieves the last bump for a guild and service.
func (s *FidoStore) LastBump(ctx context.Context, guildID, service string) (BumpInfo, bool) {
	key := bumpKey(guildID, service)
	info, found, err := s.bumps.Get(ctx, key)
	if err != nil {
		slog.Debug("bump lookup error", "key", key, "error", err)
		return BumpInfo{}, false
	}
	return info, found
}

// SaveBump stores the last bump for a guild and service.
func (s *FidoStore) SaveBump(ctx context.Context, guildID, service string, info BumpInfo) error {
	if info.At.IsZero() {
		info.At = time.Now()
	}
	return s.bumps.Set(ctx, bumpKey(guildID, service), info)
}

// Cleanup drops expired events from the local view. The backend expires entries by TTL.
func (s *FidoStore) Cleanup(_ context.Context) error {
	s.localMu.Lock()
	defer s.localMu.Unlock()

	now := time.Now()
	for key, expiry := range s.local {
		if !now.Before(expiry) {
			delete(s.local, key)
		}
	}
	return nil
}

// Close releases resources.
func (s *FidoStore) Close() error {
	var errs []error

	if err := s.events.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close events: %w", err))
	}
	if err := s.bumps.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close bumps: %w", err))
	}
	return errors.Join(errs...)
}
