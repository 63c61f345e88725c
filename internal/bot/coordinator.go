package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/clock"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/config"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/discord"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/format"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/reminder"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/state"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/store"
)

const (
	eventDeduplicationTTL = 6 * time.Hour
	maxConcurrentEvents   = 10
)

var (
	// ErrUnknownService is returned for a service name that is not in the catalogue.
	ErrUnknownService = errors.New("unknown service")

	errRemindersDisabled = errors.New("reminders disabled for guild")
)

// Coordinator reacts to bump confirmations and owns the guild-facing reminder operations.
type Coordinator struct {
	discord   DiscordClient
	reminders Reminders
	store     StateStore
	services  ServiceCatalog
	detector  *discord.Detector
	clock     clock.Clock
	logger    *slog.Logger
	eventSem  chan struct{}
	wg        sync.WaitGroup
}

// CoordinatorConfig holds configuration for creating a coordinator.
type CoordinatorConfig struct {
	Discord   DiscordClient
	Reminders Reminders
	Store     StateStore
	Services  ServiceCatalog
	// Clock should be the one the reminder manager schedules with.
	Clock     clock.Clock
	Logger    *slog.Logger
}

// NewCoordinator creates a new coordinator.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	return &Coordinator{
		discord:   cfg.Discord,
		reminders: cfg.Reminders,
		store:     cfg.Store,
		services:  cfg.Services,
		detector:  discord.NewDetector(cfg.Services),
		clock:     clk,
		logger:    logger,
		eventSem:  make(chan struct{}, maxConcurrentEvents),
	}
}

// HandleMessage checks a gateway message for a bump confirmation and, if it is one,
// schedules the next reminder in the background.
func (c *Coordinator) HandleMessage(ctx context.Context, m *discordgo.Message) {
	trig, ok := c.detector.Detect(m)
	if !ok {
		return
	}

	// Acquire semaphore
	select {
	case c.eventSem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	c.wg.Go(func() {
		defer func() { <-c.eventSem }()

		if err := c.processBump(ctx, trig); err != nil {
			c.logger.Error("failed to process bump",
				"error", err,
				"guild_id", trig.GuildID,
				"service", trig.Service.Name,
				"message_id", trig.MessageID)
		}
	})
}

func (c *Coordinator) processBump(ctx context.Context, trig discord.Trigger) error {
	eventKey := "bump:" + trig.MessageID
	if c.store.WasProcessed(ctx, eventKey) {
		c.logger.Info("bump already processed, skipping", "message_id", trig.MessageID)
		return nil
	}
	if err := c.store.MarkProcessed(ctx, eventKey, eventDeduplicationTTL); err != nil {
		c.logger.Warn("failed to mark bump processed", "error", err)
	}

	svc := trig.Service
	logger := c.logger.With("guild_id", trig.GuildID, "service", svc.Name)

	prev, _ := c.store.LastBump(ctx, trig.GuildID, svc.Name)
	if err := c.store.SaveBump(ctx, trig.GuildID, svc.Name, state.BumpInfo{
		At:        trig.At,
		UserID:    trig.UserID,
		ChannelID: trig.ChannelID,
		MessageID: trig.MessageID,
		Count:     prev.Count + 1,
	}); err != nil {
		logger.Warn("failed to save bump", "error", err)
	}

	cfg, err := c.reminders.GetConfig(ctx, trig.GuildID)
	if err != nil {
		return fmt.Errorf("load guild config: %w", err)
	}
	if !cfg.Enabled {
		logger.Info("reminders disabled, not scheduling")
		return nil
	}

	old, err := c.reminders.Pending(ctx, trig.GuildID, svc.Name)
	if err != nil {
		logger.Warn("failed to look up previous reminder", "error", err)
	}

	next := c.clock.Now().Add(svc.Cooldown())
	panelID, err := c.discord.PostMessage(ctx, trig.ChannelID, format.PanelText(svc.DisplayName, next), "", nil)
	if err != nil {
		// The reminder still goes out, just without a panel to clean up.
		logger.Warn("failed to post panel", "error", err)
	}

	r, err := c.reminders.Set(ctx, reminder.SetRequest{
		GuildID:        trig.GuildID,
		Service:        svc.Name,
		ChannelID:      trig.ChannelID,
		MessageID:      trig.MessageID,
		PanelMessageID: panelID,
		DelayMinutes:   svc.CooldownMinutes,
	}, c.deliverFor(svc))
	if err != nil {
		if panelID != "" {
			c.deletePanel(ctx, trig.ChannelID, panelID)
		}
		return fmt.Errorf("schedule reminder: %w", err)
	}

	if old != nil && old.PanelMessageID != "" && old.PanelMessageID != panelID {
		c.deletePanel(ctx, old.ChannelID, old.PanelMessageID)
	}

	logger.Info("bump recorded",
		"reminder_id", r.ID,
		"user_id", trig.UserID,
		"scheduled_at", r.ScheduledAt,
		"bump_count", prev.Count+1)
	return nil
}

// Deliver returns the delivery for a stored reminder, or nil when its service is
// no longer known. It is the factory passed to Restore.
func (c *Coordinator) Deliver(r store.Reminder) reminder.DeliverFunc {
	svc, ok := c.services.ByName(r.Service)
	if !ok {
		c.logger.Warn("reminder for unknown service", "reminder_id", r.ID, "service", r.Service)
		return nil
	}
	return c.deliverFor(svc)
}

func (c *Coordinator) deliverFor(svc config.Service) reminder.DeliverFunc {
	return func(ctx context.Context, r store.Reminder) error {
		cfg, err := c.reminders.GetConfig(ctx, r.GuildID)
		if err != nil {
			return fmt.Errorf("load guild config: %w", err)
		}
		if !cfg.Enabled {
			return errRemindersDisabled
		}

		text := format.ReminderText(format.ReminderParams{
			ServiceName: svc.DisplayName,
			Command:     svc.Command,
			RoleID:      cfg.MentionRoleID,
			UserIDs:     cfg.MentionUserIDs,
		})
		if _, err := c.discord.PostMessage(ctx, r.ChannelID, text, cfg.MentionRoleID, cfg.MentionUserIDs); err != nil {
			return fmt.Errorf("post reminder: %w", err)
		}

		if r.PanelMessageID != "" {
			c.deletePanel(ctx, r.ChannelID, r.PanelMessageID)
		}
		return nil
	}
}

func (c *Coordinator) deletePanel(ctx context.Context, channelID, messageID string) {
	if err := c.discord.DeleteMessage(ctx, channelID, messageID); err != nil {
		c.logger.Warn("failed to delete panel", "channel_id", channelID, "message_id", messageID, "error", err)
	}
}

// Restore re-arms the reminders left pending by a previous run.
func (c *Coordinator) Restore(ctx context.Context) (reminder.RestoreReport, error) {
	return c.reminders.Restore(ctx, c.Deliver)
}

// HandleChannelDelete cancels reminders that would post into a deleted channel.
func (c *Coordinator) HandleChannelDelete(ctx context.Context, guildID, channelID string) {
	if guildID == "" || channelID == "" {
		return
	}
	if _, err := c.reminders.CancelPendingFor(ctx, guildID, channelID); err != nil {
		c.logger.Error("failed to cancel reminders for deleted channel",
			"guild_id", guildID, "channel_id", channelID, "error", err)
	}
}

// HandleGuildDelete cancels every reminder of a guild the bot left.
func (c *Coordinator) HandleGuildDelete(ctx context.Context, guildID string) {
	if guildID == "" {
		return
	}
	if _, err := c.reminders.CancelPendingFor(ctx, guildID, ""); err != nil {
		c.logger.Error("failed to cancel reminders for removed guild", "guild_id", guildID, "error", err)
	}
}

// Status implements discord.BumpCommands.
func (c *Coordinator) Status(ctx context.Context, guildID string) (discord.GuildStatus, error) {
	cfg, err := c.reminders.GetConfig(ctx, guildID)
	if err != nil {
		return discord.GuildStatus{}, err
	}

	status := discord.GuildStatus{
		Enabled: cfg.Enabled,
		RoleID:  cfg.MentionRoleID,
		UserIDs: cfg.MentionUserIDs,
	}
	for _, e := range c.reminders.Status(guildID) {
		name := e.Service
		if svc, ok := c.services.ByName(e.Service); ok {
			name = svc.DisplayName
		}
		status.Reminders = append(status.Reminders, discord.ScheduledReminder{ServiceName: name, At: e.ScheduledAt})
	}
	return status, nil
}

// SetEnabled implements discord.BumpCommands. Disabling also cancels pending reminders.
func (c *Coordinator) SetEnabled(ctx context.Context, guildID string, enabled bool) error {
	if _, err := c.reminders.UpdateConfig(ctx, guildID, func(cfg config.GuildConfig) config.GuildConfig {
		cfg.Enabled = enabled
		return cfg
	}); err != nil {
		return err
	}
	if enabled {
		return nil
	}
	_, err := c.reminders.CancelPendingFor(ctx, guildID, "")
	return err
}

// SetRole implements discord.BumpCommands. An empty roleID clears the role.
func (c *Coordinator) SetRole(ctx context.Context, guildID, roleID string) error {
	_, err := c.reminders.UpdateConfig(ctx, guildID, func(cfg config.GuildConfig) config.GuildConfig {
		cfg.MentionRoleID = roleID
		return cfg
	})
	return err
}

// AddUser implements discord.BumpCommands.
func (c *Coordinator) AddUser(ctx context.Context, guildID, userID string) error {
	_, err := c.reminders.UpdateConfig(ctx, guildID, func(cfg config.GuildConfig) config.GuildConfig {
		return cfg.WithUser(userID)
	})
	return err
}

// RemoveUser implements discord.BumpCommands.
func (c *Coordinator) RemoveUser(ctx context.Context, guildID, userID string) error {
	_, err := c.reminders.UpdateConfig(ctx, guildID, func(cfg config.GuildConfig) config.GuildConfig {
		return cfg.WithoutUser(userID)
	})
	return err
}

// CancelReminders implements discord.BumpCommands.
func (c *Coordinator) CancelReminders(ctx context.Context, guildID, service string) (int, error) {
	if service == "" {
		n, err := c.reminders.CancelPendingFor(ctx, guildID, "")
		return int(n), err
	}

	svc, ok := c.services.ByName(service)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	cancelled, err := c.reminders.Cancel(ctx, guildID, svc.Name)
	if err != nil || !cancelled {
		return 0, err
	}
	return 1, nil
}

// Wait waits for all in-flight bump processing to complete.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
