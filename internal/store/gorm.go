package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const slowQueryThreshold = time.Second

// guildConfigRow stores one serialized config document per guild.
type guildConfigRow struct {
	CreatedAt time.Time
	UpdatedAt time.Time
	GuildID   string         `gorm:"primaryKey;size:32"`
	Value     datatypes.JSON `gorm:"not null"`
	Version   int64          `gorm:"not null;default:1"`
}

func (guildConfigRow) TableName() string { return "guild_configs" }

// GormStore implements Store on top of gorm (sqlite or postgres).
type GormStore struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the database and migrates the schema.
// driver is "sqlite" (default) or "postgres".
func Open(driver, dsn string, log *slog.Logger) (*GormStore, error) {
	if log == nil {
		log = slog.Default()
	}

	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		if dsn == "" {
			dsn = "bumpkeeper.db"
		}
		dialector = sqlite.Open(dsn)
	case "postgres", "postgresql":
		if dsn == "" {
			return nil, errors.New("postgres requires a DSN")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver: %s", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.New(
			slog.NewLogLogger(log.Handler(), slog.LevelWarn),
			logger.Config{
				SlowThreshold:             slowQueryThreshold,
				LogLevel:                  logger.Warn,
				IgnoreRecordNotFoundError: true,
			},
		),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return NewGormStore(db)
}

// NewGormStore wraps an existing gorm connection and migrates the schema.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&Reminder{}, &guildConfigRow{}); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	slog.Info("initialized database store", "dialect", db.Dialector.Name())
	return &GormStore{db: db, now: time.Now}, nil
}

// CreateReminder cancels pending rows for the partition and inserts the new row in one transaction.
func (s *GormStore) CreateReminder(ctx context.Context, nr NewReminder) (Reminder, error) {
	now := s.now()
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

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Reminder{}).
			Where("guild_id = ? AND service = ? AND status = ?", nr.GuildID, nr.Service, StatusPending).
			Updates(map[string]any{"status": StatusCancelled, "updated_at": now})
		if res.Error != nil {
			return fmt.Errorf("cancel prior: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			slog.Debug("superseded pending reminders",
				"guild_id", nr.GuildID,
				"service", nr.Service,
				"count", res.RowsAffected)
		}
		return tx.Create(&r).Error
	})
	if err != nil {
		return Reminder{}, wrap("create reminder", err)
	}
	return r, nil
}

// FindPendingForPartition returns the earliest scheduled pending row for a partition.
func (s *GormStore) FindPendingForPartition(ctx context.Context, guildID, service string) (*Reminder, error) {
	var rows []Reminder
	err := s.db.WithContext(ctx).
		Where("guild_id = ? AND service = ? AND status = ?", guildID, service, StatusPending).
		Order("scheduled_at asc").Order("id asc").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, wrap("find pending reminder", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// FindAllPending returns every pending row ordered by scheduled time.
func (s *GormStore) FindAllPending(ctx context.Context) ([]Reminder, error) {
	var rows []Reminder
	err := s.db.WithContext(ctx).
		Where("status = ?", StatusPending).
		Order("scheduled_at asc").Order("id asc").
		Find(&rows).Error
	if err != nil {
		return nil, wrap("find all pending reminders", err)
	}
	return rows, nil
}

// UpdateReminderStatus sets the status of a reminder.
func (s *GormStore) UpdateReminderStatus(ctx context.Context, id string, status Status) error {
	res := s.db.WithContext(ctx).Model(&Reminder{}).
		Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": s.now()})
	if res.Error != nil {
		return wrap("update reminder status", res.Error)
	}
	if res.RowsAffected == 0 {
		return wrap("update reminder status", ErrNotFound)
	}
	return nil
}

// CompleteReminder moves a pending reminder to status.
func (s *GormStore) CompleteReminder(ctx context.Context, id string, status Status) (bool, error) {
	res := s.db.WithContext(ctx).Model(&Reminder{}).
		Where("id = ? AND status = ?", id, StatusPending).
		Updates(map[string]any{"status": status, "updated_at": s.now()})
	if res.Error != nil {
		return false, wrap("complete reminder", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// DeleteReminder removes a reminder row.
func (s *GormStore) DeleteReminder(ctx context.Context, id string) error {
	return wrap("delete reminder", s.db.WithContext(ctx).Where("id = ?", id).Delete(&Reminder{}).Error)
}

// CancelPendingFor cancels pending rows for a guild, optionally limited to one channel.
func (s *GormStore) CancelPendingFor(ctx context.Context, guildID, channelID string) (int64, error) {
	q := s.db.WithContext(ctx).Model(&Reminder{}).
		Where("guild_id = ? AND status = ?", guildID, StatusPending)
	if channelID != "" {
		q = q.Where("channel_id = ?", channelID)
	}
	res := q.Updates(map[string]any{"status": StatusCancelled, "updated_at": s.now()})
	if res.Error != nil {
		return 0, wrap("cancel pending reminders", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteTerminalOlderThan removes sent/cancelled rows last updated more than days ago.
func (s *GormStore) DeleteTerminalOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -days)
	res := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []Status{StatusSent, StatusCancelled}, cutoff).
		Delete(&Reminder{})
	if res.Error != nil {
		return 0, wrap("delete terminal reminders", res.Error)
	}
	if res.RowsAffected > 0 {
		slog.Info("cleaned up terminal reminders", "deleted", res.RowsAffected, "older_than_days", days)
	}
	return res.RowsAffected, nil
}

// ReadConfig returns the stored config snapshot for a guild.
func (s *GormStore) ReadConfig(ctx context.Context, guildID string) (ConfigSnapshot, error) {
	var rows []guildConfigRow
	if err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).Limit(1).Find(&rows).Error; err != nil {
		return ConfigSnapshot{}, wrap("read config", err)
	}
	if len(rows) == 0 {
		return ConfigSnapshot{}, nil
	}
	return ConfigSnapshot{Exists: true, Raw: []byte(rows[0].Value), Version: rows[0].Version}, nil
}

// UpdateConfigIf writes raw only if the stored version is still expected.Version.
// The version is bumped on every write, so it stands in for comparing the value itself.
func (s *GormStore) UpdateConfigIf(ctx context.Context, guildID string, expected ConfigSnapshot, raw []byte) (bool, error) {
	res := s.db.WithContext(ctx).Model(&guildConfigRow{}).
		Where("guild_id = ? AND version = ?", guildID, expected.Version).
		Updates(map[string]any{
			"value":      datatypes.JSON(raw),
			"version":    gorm.Expr("version + 1"),
			"updated_at": s.now(),
		})
	if res.Error != nil {
		return false, wrap("conditional config update", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// InsertConfigIfAbsent creates the config row unless one already exists.
func (s *GormStore) InsertConfigIfAbsent(ctx context.Context, guildID string, raw []byte) (bool, error) {
	now := s.now()
	row := guildConfigRow{
		GuildID:   guildID,
		Value:     datatypes.JSON(raw),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, wrap("insert config", res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("get database handle: %w", err)
	}
	return sqlDB.Close()
}
