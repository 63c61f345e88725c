// Package reminder schedules one delayed reminder per guild and service, persists it,
// and rebuilds the in-memory timers from storage after a restart.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/clock"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/config"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/store"
	"github.com/google/uuid"
)

const (
	minDelayMinutes = 1
	maxDelayMinutes = 7 * 24 * 60
)

// ConfigUpdater reads and writes per-guild configuration.
type ConfigUpdater interface {
	Get(ctx context.Context, guildID string) (config.GuildConfig, error)
	Set(ctx context.Context, guildID string, desired config.GuildConfig) (config.GuildConfig, error)
	Update(ctx context.Context, guildID string, mutate func(config.GuildConfig) config.GuildConfig) (config.GuildConfig, error)
}

// SetRequest describes a reminder to schedule.
type SetRequest struct {
	GuildID        string
	Service        string
	ChannelID      string
	MessageID      string
	PanelMessageID string
	DelayMinutes   int
}

func (r SetRequest) validate() error {
	switch {
	case r.GuildID == "":
		return &ValidationError{Field: "guild", Reason: "required"}
	case strings.Contains(r.GuildID, ":"):
		return &ValidationError{Field: "guild", Reason: "must not contain ':'"}
	case r.Service != "" && !config.ValidServiceName(r.Service):
		return &ValidationError{Field: "service", Reason: fmt.Sprintf("%q must match [a-z0-9_-]", r.Service)}
	case r.DelayMinutes < minDelayMinutes:
		return &ValidationError{Field: "delay", Reason: fmt.Sprintf("must be at least %d minute", minDelayMinutes)}
	case r.DelayMinutes > maxDelayMinutes:
		return &ValidationError{Field: "delay", Reason: fmt.Sprintf("must be at most %d minutes", maxDelayMinutes)}
	}
	return nil
}

// RestoreReport summarizes a Restore run.
type RestoreReport struct {
	Restored       int `json:"restored"`
	Overdue        int `json:"overdue"`
	StaleCancelled int `json:"stale_cancelled"`
	Skipped        int `json:"skipped"`
}

// Config holds the dependencies of a Manager.
type Config struct {
	Repo    store.ReminderRepository
	Configs ConfigUpdater
	Clock   clock.Clock
	Logger  *slog.Logger
}

// Manager is the entry point for scheduling, cancelling, and restoring reminders.
type Manager struct {
	repo     store.ReminderRepository
	configs  ConfigUpdater
	clock    clock.Clock
	logger   *slog.Logger
	tracker  *Tracker
	baseCtx  context.Context //nolint:containedctx // deliveries outlive the request that scheduled them
	cancel   context.CancelFunc
	locks    lockMap
	inflight sync.WaitGroup
	mu       sync.Mutex
	closed   bool
}

// New creates a manager with its own tracker.
func New(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		repo:    cfg.Repo,
		configs: cfg.Configs,
		clock:   clk,
		logger:  logger,
		tracker: NewTracker(clk),
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Set schedules a reminder DelayMinutes from now, replacing any reminder for the same
// guild and service. If storage fails, the previous reminder stays cancelled: its
// timer is stopped and its row is marked cancelled on a best-effort basis.
func (m *Manager) Set(ctx context.Context, req SetRequest, deliver DeliverFunc) (store.Reminder, error) {
	if err := req.validate(); err != nil {
		return store.Reminder{}, err
	}
	if deliver == nil {
		return store.Reminder{}, &ValidationError{Field: "deliver", Reason: "required"}
	}

	key := PartitionKey(req.GuildID, req.Service)
	mu := m.locks.lock(key)
	defer mu.Unlock()

	prev, replacing := m.tracker.Cancel(key)
	if replacing {
		m.logger.Debug("replacing tracked reminder", "partition", key, "reminder_id", prev.ReminderID)
	}

	scheduledAt := m.clock.Now().Add(time.Duration(req.DelayMinutes) * time.Minute)
	r, err := m.repo.CreateReminder(ctx, store.NewReminder{
		GuildID:        req.GuildID,
		Service:        req.Service,
		ChannelID:      req.ChannelID,
		MessageID:      req.MessageID,
		PanelMessageID: req.PanelMessageID,
		ScheduledAt:    scheduledAt,
	})
	if err != nil {
		err = fmt.Errorf("create reminder: %w", err)
		if !replacing {
			return store.Reminder{}, err
		}
		// The old timer is gone, so its row must not be restored later.
		if cerr := m.repo.UpdateReminderStatus(ctx, prev.ReminderID, store.StatusCancelled); cerr != nil {
			err = errors.Join(err, fmt.Errorf("cancel replaced reminder %s: %w", prev.ReminderID, cerr))
		}
		return store.Reminder{}, err
	}

	m.arm(key, r, deliver)
	m.logger.Info("reminder scheduled",
		"guild_id", r.GuildID,
		"service", r.Service,
		"reminder_id", r.ID,
		"scheduled_at", r.ScheduledAt)
	return r, nil
}

// arm starts the timer for r. The caller holds the partition lock.
func (m *Manager) arm(key string, r store.Reminder, deliver DeliverFunc) time.Duration {
	delay := max(r.ScheduledAt.Sub(m.clock.Now()), 0)
	task := TrackedTask(m.repo, m.logger, key, r, deliver)
	entry := Entry{
		JobID:       uuid.NewString(),
		ReminderID:  r.ID,
		GuildID:     r.GuildID,
		Service:     r.Service,
		ChannelID:   r.ChannelID,
		ScheduledAt: r.ScheduledAt,
	}
	m.tracker.Schedule(key, entry, delay, func() { m.fire(task) })
	return delay
}

func (m *Manager) fire(task func(context.Context)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.inflight.Add(1)
	m.mu.Unlock()

	defer m.inflight.Done()
	task(m.baseCtx)
}

// Cancel stops the tracked reminder for a guild and service and marks its row cancelled.
// It returns false when nothing was tracked. If the row update fails the timer is
// still stopped and the row stays pending until the next Restore.
func (m *Manager) Cancel(ctx context.Context, guildID, service string) (bool, error) {
	return m.cancelKey(ctx, PartitionKey(guildID, service))
}

func (m *Manager) cancelKey(ctx context.Context, key string) (bool, error) {
	mu := m.locks.lock(key)
	defer mu.Unlock()

	entry, ok := m.tracker.Cancel(key)
	if !ok {
		return false, nil
	}
	if err := m.repo.UpdateReminderStatus(ctx, entry.ReminderID, store.StatusCancelled); err != nil {
		return false, fmt.Errorf("cancel reminder %s: %w", entry.ReminderID, err)
	}
	m.logger.Info("reminder cancelled", "partition", key, "reminder_id", entry.ReminderID)
	return true, nil
}

// Restore rebuilds timers from pending rows. Duplicate pending rows for a partition
// are cancelled and the latest one is re-armed with its remaining delay; overdue
// rows fire immediately. Failures for one row do not stop the others.
func (m *Manager) Restore(ctx context.Context, factory DeliverFactory) (RestoreReport, error) {
	var report RestoreReport

	pending, err := m.repo.FindAllPending(ctx)
	if err != nil {
		return report, fmt.Errorf("find pending reminders: %w", err)
	}
	plan := PlanRestore(pending)

	var errs []error
	for _, r := range plan.Stale {
		if err := m.repo.UpdateReminderStatus(ctx, r.ID, store.StatusCancelled); err != nil {
			m.logger.Warn("failed to cancel stale reminder", "reminder_id", r.ID, "error", err)
			errs = append(errs, fmt.Errorf("cancel stale reminder %s: %w", r.ID, err))
			continue
		}
		report.StaleCancelled++
	}

	for _, key := range plan.Keys() {
		r := plan.Latest[key]
		deliver := factory(r)
		if deliver == nil {
			if err := m.repo.UpdateReminderStatus(ctx, r.ID, store.StatusCancelled); err != nil {
				errs = append(errs, fmt.Errorf("cancel undeliverable reminder %s: %w", r.ID, err))
				continue
			}
			m.logger.Info("cancelled undeliverable reminder", "partition", key, "reminder_id", r.ID)
			report.Skipped++
			continue
		}

		mu := m.locks.lock(key)
		if m.arm(key, r, deliver) == 0 {
			report.Overdue++
		}
		mu.Unlock()
		report.Restored++
	}

	m.logger.Info("restored reminders",
		"restored", report.Restored,
		"overdue", report.Overdue,
		"stale_cancelled", report.StaleCancelled,
		"skipped", report.Skipped,
		"errors", len(errs))
	return report, errors.Join(errs...)
}

// ClearAll cancels every tracked reminder and returns how many were cancelled.
// A failure for one partition does not stop the rest.
func (m *Manager) ClearAll(ctx context.Context) (int, error) {
	var errs []error
	cleared := 0
	for _, key := range m.tracker.Keys() {
		ok, err := m.cancelKey(ctx, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			cleared++
		}
	}
	return cleared, errors.Join(errs...)
}

// CancelPendingFor stops and cancels every reminder for a guild, or for one channel
// when channelID is set. It is used when the bot leaves a guild or a channel is deleted.
func (m *Manager) CancelPendingFor(ctx context.Context, guildID, channelID string) (int64, error) {
	for _, key := range m.tracker.Keys() {
		entry, ok := m.tracker.Entry(key)
		if !ok || entry.GuildID != guildID || (channelID != "" && entry.ChannelID != channelID) {
			continue
		}
		mu := m.locks.lock(key)
		m.tracker.Cancel(key)
		mu.Unlock()
	}

	n, err := m.repo.CancelPendingFor(ctx, guildID, channelID)
	if err != nil {
		return 0, fmt.Errorf("cancel pending reminders: %w", err)
	}
	m.dropCancelled(ctx, guildID, channelID)
	if n > 0 {
		m.logger.Info("cancelled pending reminders", "guild_id", guildID, "channel_id", channelID, "count", n)
	}
	return n, nil
}

// dropCancelled stops timers armed by a concurrent Set whose rows were cancelled
// by the bulk update, so that no timer outlives its row.
func (m *Manager) dropCancelled(ctx context.Context, guildID, channelID string) {
	for _, key := range m.tracker.Keys() {
		mu := m.locks.lock(key)
		entry, ok := m.tracker.Entry(key)
		if ok && entry.GuildID == guildID && (channelID == "" || entry.ChannelID == channelID) {
			r, err := m.repo.FindPendingForPartition(ctx, entry.GuildID, entry.Service)
			switch {
			case err != nil:
				m.logger.Warn("failed to check tracked reminder", "partition", key, "error", err)
			case r == nil || r.ID != entry.ReminderID:
				m.tracker.Cancel(key)
				m.logger.Debug("dropped timer for cancelled reminder", "partition", key, "reminder_id", entry.ReminderID)
			}
		}
		mu.Unlock()
	}
}

// Status returns the tracked reminders for a guild, ordered by partition key.
func (m *Manager) Status(guildID string) []Entry {
	var result []Entry
	for _, key := range m.tracker.Keys() {
		if entry, ok := m.tracker.Entry(key); ok && entry.GuildID == guildID {
			result = append(result, entry)
		}
	}
	return result
}

// Tracked returns the number of armed timers across all guilds.
func (m *Manager) Tracked() int {
	return m.tracker.Len()
}

// Pending returns the stored pending reminder for a guild and service, or nil.
func (m *Manager) Pending(ctx context.Context, guildID, service string) (*store.Reminder, error) {
	r, err := m.repo.FindPendingForPartition(ctx, guildID, service)
	if err != nil {
		return nil, fmt.Errorf("find pending reminder: %w", err)
	}
	return r, nil
}

// GetConfig returns the guild's configuration.
func (m *Manager) GetConfig(ctx context.Context, guildID string) (config.GuildConfig, error) {
	return m.configs.Get(ctx, guildID)
}

// SetConfig stores desired as the guild's configuration.
func (m *Manager) SetConfig(ctx context.Context, guildID string, desired config.GuildConfig) (config.GuildConfig, error) {
	return m.configs.Set(ctx, guildID, desired)
}

// UpdateConfig applies mutate to the guild's configuration with a compare-and-swap write.
func (m *Manager) UpdateConfig(ctx context.Context, guildID string, mutate func(config.GuildConfig) config.GuildConfig) (config.GuildConfig, error) {
	return m.configs.Update(ctx, guildID, mutate)
}

// Sweep deletes terminal rows older than days and drops idle partition locks.
func (m *Manager) Sweep(ctx context.Context, days int) (int64, error) {
	n, err := m.repo.DeleteTerminalOlderThan(ctx, days)
	if err != nil {
		return 0, fmt.Errorf("sweep reminders: %w", err)
	}
	locks := m.locks.cleanup(lockIdleTimeout)
	m.logger.Info("swept old reminders", "deleted", n, "retention_days", days, "idle_locks_removed", locks)
	return n, nil
}

// Shutdown stops all timers without touching storage, so pending rows are
// restored on the next start. It waits for in-flight deliveries until ctx is done.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	stopped := m.tracker.StopAll()
	m.logger.Info("reminder manager stopping", "timers_stopped", stopped)

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()

	defer m.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for deliveries: %w", ctx.Err())
	}
}
