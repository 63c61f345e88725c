// Package bot turns bump confirmations into scheduled reminders and backs the
// /bump slash command.
package bot

import (
	"context"
	"time"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/config"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/reminder"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/state"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/store"
)

// DiscordClient defines Discord operations needed by the bot.
type DiscordClient interface {
	PostMessage(ctx context.Context, channelID, text, roleID string, userIDs []string) (messageID string, err error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

// Reminders defines the reminder manager operations used by the bot.
type Reminders interface {
	Set(ctx context.Context, req reminder.SetRequest, deliver reminder.DeliverFunc) (store.Reminder, error)
	Cancel(ctx context.Context, guildID, service string) (bool, error)
	CancelPendingFor(ctx context.Context, guildID, channelID string) (int64, error)
	Restore(ctx context.Context, factory reminder.DeliverFactory) (reminder.RestoreReport, error)
	Pending(ctx context.Context, guildID, service string) (*store.Reminder, error)
	Status(guildID string) []reminder.Entry
	GetConfig(ctx context.Context, guildID string) (config.GuildConfig, error)
	UpdateConfig(ctx context.Context, guildID string, mutate func(config.GuildConfig) config.GuildConfig) (config.GuildConfig, error)
}

// ServiceCatalog looks up bump services.
type ServiceCatalog interface {
	ByBot(botID string) (config.Service, bool)
	ByName(name string) (config.Service, bool)
}

// StateStore defines state persistence operations.
type StateStore interface {
	WasProcessed(ctx context.Context, eventKey string) bool
	MarkProcessed(ctx context.Context, eventKey string, ttl time.Duration) error
	LastBump(ctx context.Context, guildID, service string) (state.BumpInfo, bool)
	SaveBump(ctx context.Context, guildID, service string, info state.BumpInfo) error
}
