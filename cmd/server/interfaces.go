package main

import (
	"context"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/discord"
)

// GuildStatusSource reports the reminder state of a guild.
type GuildStatusSource interface {
	Status(ctx context.Context, guildID string) (discord.GuildStatus, error)
}

// ReminderCounter reports how many reminder timers are armed.
type ReminderCounter interface {
	Tracked() int
}

// Sweeper deletes old reminder rows.
type Sweeper interface {
	Sweep(ctx context.Context, days int) (int64, error)
}

// StateCleaner drops expired bot state.
type StateCleaner interface {
	Cleanup(ctx context.Context) error
}
