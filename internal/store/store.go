// Package store provides the persistence boundary for reminders and guild configuration.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a reminder row.
type Status string

// Reminder statuses. Pending is the only active state.
const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusSent || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSent, StatusCancelled:
		return true
	default:
		return false
	}
}

// Reminder is a persisted reminder row.
type Reminder struct {
	ScheduledAt    time.Time `gorm:"not null;index" json:"scheduled_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	GuildID        string    `gorm:"size:32;not null;index:idx_reminder_partition,priority:1" json:"guild_id"`
	Service        string    `gorm:"size:64;not null;default:'';index:idx_reminder_partition,priority:2" json:"service,omitempty"`
	ChannelID      string    `gorm:"size:32" json:"channel_id,omitempty"`
	MessageID      string    `gorm:"size:32" json:"message_id,omitempty"`
	PanelMessageID string    `gorm:"size:32" json:"panel_message_id,omitempty"`
	Status         Status    `gorm:"size:16;not null;index" json:"status"`
}

// TableName implements the gorm tabler interface.
func (Reminder) TableName() string { return "reminders" }

// NewReminder holds the fields a caller supplies when creating a reminder.
type NewReminder struct {
	ScheduledAt    time.Time
	GuildID        string
	Service        string
	ChannelID      string
	MessageID      string
	PanelMessageID string
}

// ConfigSnapshot is a point-in-time read of a guild config row.
// Version increases by one on every successful write and guards conditional updates.
type ConfigSnapshot struct {
	Raw     []byte
	Version int64
	Exists  bool
}

// ReminderRepository persists reminder rows. Implementations never retry.
type ReminderRepository interface {
	// CreateReminder cancels any pending row for the same guild/service and
	// inserts the new pending row as one all-or-nothing unit.
	CreateReminder(ctx context.Context, r NewReminder) (Reminder, error)
	// FindPendingForPartition returns the earliest scheduled pending row, or nil.
	FindPendingForPartition(ctx context.Context, guildID, service string) (*Reminder, error)
	// FindAllPending returns every pending row ordered by scheduled time.
	FindAllPending(ctx context.Context) ([]Reminder, error)
	UpdateReminderStatus(ctx context.Context, id string, status Status) error
	// CompleteReminder moves a pending row to status. It returns false, and changes
	// nothing, when the row is missing or already terminal.
	CompleteReminder(ctx context.Context, id string, status Status) (bool, error)
	DeleteReminder(ctx context.Context, id string) error
	// CancelPendingFor cancels pending rows for a guild, or only one channel when channelID is set.
	CancelPendingFor(ctx context.Context, guildID, channelID string) (int64, error)
	// DeleteTerminalOlderThan removes sent/cancelled rows last updated more than days ago.
	DeleteTerminalOlderThan(ctx context.Context, days int) (int64, error)
}

// ConfigStore persists one opaque config document per guild with compare-and-swap writes.
type ConfigStore interface {
	ReadConfig(ctx context.Context, guildID string) (ConfigSnapshot, error)
	// UpdateConfigIf writes raw only if the stored row still matches expected.
	UpdateConfigIf(ctx context.Context, guildID string, expected ConfigSnapshot, raw []byte) (bool, error)
	// InsertConfigIfAbsent creates the row only if no writer created it first.
	InsertConfigIfAbsent(ctx context.Context, guildID string, raw []byte) (bool, error)
}

// Store is the full persistence surface.
type Store interface {
	ReminderRepository
	ConfigStore
	Close() error
}

var (
	// ErrPersistence tags every storage-layer failure.
	ErrPersistence = errors.New("persistence error")
	// ErrNotFound is returned when a reminder id does not exist.
	ErrNotFound = errors.New("reminder not found")
)

// Error wraps a storage failure with the operation that produced it.
type Error struct {
	Err error
	Op  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every *Error match ErrPersistence.
func (*Error) Is(target error) bool {
	return target == ErrPersistence
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Err: err}
}
