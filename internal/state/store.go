// Package state keeps short-lived bot state: which gateway events were already
// handled and the last confirmed bump per guild and service.
package state

import (
	"context"
	"time"
)

// BumpInfo records the last confirmed bump for a guild and service.
type BumpInfo struct {
	At        time.Time `json:"at"`
	UserID    string    `json:"user_id"`
	ChannelID string    `json:"channel_id"`
	MessageID string    `json:"message_id"`
	Count     int       `json:"count"`
}

// Store provides bot state operations.
type Store interface {
	// Event deduplication, keyed by gateway message id.
	WasProcessed(ctx context.Context, eventKey string) bool
	MarkProcessed(ctx context.Context, eventKey string, ttl time.Duration) error

	// Last bump tracking.
	LastBump(ctx context.Context, guildID, service string) (BumpInfo, bool)
	SaveBump(ctx context.Context, guildID, service string, info BumpInfo) error

	// Lifecycle
	Cleanup(ctx context.Context) error
	Close() error
}

func bumpKey(guildID, service string) string {
	return guildID + ":" + service
}
