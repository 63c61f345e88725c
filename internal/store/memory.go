package store

import (
	"bytes"
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type configRow struct {
	raw     []byte
	version int64
}

// MemoryStore provides an in-memory implementation of Store.
type MemoryStore struct {
	reminders map[string]Reminder
	configs   map[string]configRow
	now       func() time.Time
	mu        sync.RWMutex
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithNow sets the time source used for created/updated timestamps.
func WithNow(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		reminders: make(map[string]Reminder),
		configs:   make(map[string]configRow),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateReminder cancels pending rows for the partition and inserts a new pending row.
func (s *MemoryStore) CreateReminder(_ context.Context, nr NewReminder) (Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cancelled := 0
	for id, r := range s.reminders {
		if r.Status == StatusPending && r.GuildID == nr.GuildID && r.Service == nr.Service {
			r.Status = StatusCancelled
			r.UpdatedAt = now
			s.reminders[id] = r
			cancelled++
		}
	}

	r := Reminder{
		ID:             uuid.NewString(),
		GuildID:        nr.GuildID,
		Service:        nr.Service,
		ChannelID:      nr.ChannelID,
		MessageID:      nr.MessageID,
		PanelMessageID: nr.PanelMessageID,
		ScheduledAt:    nr.ScheduledAt,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.reminders[r.ID] = r

	slog.Debug("created reminder",
		"reminder_id", r.ID,
		"guild_id", r.GuildID,
		"service", r.Service,
		"scheduled_at", r.ScheduledAt,
		"superseded", cancelled)

	return r, nil
}

// FindPendingForPartition returns the earliest scheduled pending row for a partition.
func (s *MemoryStore) FindPendingForPartition(_ context.Context, guildID, service string) (*Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found *Reminder
	for _, r := range s.reminders {
		if r.Status != StatusPending || r.GuildID != guildID || r.Service != service {
			continue
		}
		if found == nil || r.ScheduledAt.Before(found.ScheduledAt) {
			found = &r
		}
	}
	return found, nil
}

// FindAllPending returns all pending rows ordered by scheduled time.
func (s *MemoryStore) FindAllPending(_ context.Context) ([]Reminder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []Reminder
	for _, r := range s.reminders {
		if r.Status == StatusPending {
			result = append(result, r)
		}
	}
	slices.SortFunc(result, func(a, b Reminder) int {
		if c := a.ScheduledAt.Compare(b.ScheduledAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return result, nil
}

// UpdateReminderStatus sets the status of a reminder.
func (s *MemoryStore) UpdateReminderStatus(_ context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reminders[id]
	if !ok {
		return wrap("update reminder status", ErrNotFound)
	}
	r.Status = status
	r.UpdatedAt = s.now()
	s.reminders[id] = r
	return nil
}

// CompleteReminder moves a pending reminder to status.
func (s *MemoryStore) CompleteReminder(_ context.Context, id string, status Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reminders[id]
	if !ok || r.Status != StatusPending {
		return false, nil
	}
	r.Status = status
	r.UpdatedAt = s.now()
	s.reminders[id] = r
	return true, nil
}

// DeleteReminder removes a reminder. Deleting an unknown id is a no-op.
func (s *MemoryStore) DeleteReminder(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.reminders, id)
	return nil
}

// CancelPendingFor cancels pending rows for a guild, optionally limited to one channel.
func (s *MemoryStore) CancelPendingFor(_ context.Context, guildID, channelID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var n int64
	for id, r := range s.reminders {
		if r.Status != StatusPending || r.GuildID != guildID {
			continue
		}
		if channelID != "" && r.ChannelID != channelID {
			continue
		}
		r.Status = StatusCancelled
		r.UpdatedAt = now
		s.reminders[id] = r
		n++
	}
	return n, nil
}

// DeleteTerminalOlderThan removes terminal rows not updated within the given number of days.
func (s *MemoryStore) DeleteTerminalOlderThan(_ context.Context, days int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().AddDate(0, 0, -days)
	var n int64
	for id, r := range s.reminders {
		if r.Status.Terminal() && r.UpdatedAt.Before(cutoff) {
			delete(s.reminders, id)
			n++
		}
	}

	if n > 0 {
		slog.Info("cleaned up terminal reminders", "deleted", n, "older_than_days", days)
	}
	return n, nil
}

// Reminder returns a row by id, for inspection.
func (s *MemoryStore) Reminder(id string) (Reminder, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.reminders[id]
	return r, ok
}

// Seed inserts rows as given, bypassing the one-pending-per-partition rule.
// It is used to reproduce state left behind by an unclean shutdown.
func (s *MemoryStore) Seed(rows ...Reminder) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rows {
		s.reminders[r.ID] = r
	}
}

// Reminders returns every row, for inspection.
func (s *MemoryStore) Reminders() []Reminder {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Reminder, 0, len(s.reminders))
	for _, r := range s.reminders {
		result = append(result, r)
	}
	return result
}

// ReadConfig returns the stored config snapshot for a guild.
func (s *MemoryStore) ReadConfig(_ context.Context, guildID string) (ConfigSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.configs[guildID]
	if !ok {
		return ConfigSnapshot{}, nil
	}
	return ConfigSnapshot{Exists: true, Raw: bytes.Clone(row.raw), Version: row.version}, nil
}

// UpdateConfigIf replaces the config only if version and value still match expected.
func (s *MemoryStore) UpdateConfigIf(_ context.Context, guildID string, expected ConfigSnapshot, raw []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.configs[guildID]
	if !ok || row.version != expected.Version || !bytes.Equal(row.raw, expected.Raw) {
		return false, nil
	}
	s.configs[guildID] = configRow{raw: bytes.Clone(raw), version: row.version + 1}
	return true, nil
}

// InsertConfigIfAbsent creates the config row if none exists.
func (s *MemoryStore) InsertConfigIfAbsent(_ context.Context, guildID string, raw []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.configs[guildID]; ok {
		return false, nil
	}
	s.configs[guildID] = configRow{raw: bytes.Clone(raw), version: 1}
	return true, nil
}

// Close closes the store (no-op for memory store).
func (*MemoryStore) Close() error {
	return nil
}
