package config

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
)

// GuildConfig is the per-guild reminder configuration, stored as one JSON document.
type GuildConfig struct {
	MentionRoleID  string   `json:"mention_role_id,omitempty"`
	MentionUserIDs []string `json:"mention_user_ids,omitempty"`
	Enabled        bool     `json:"enabled"`
}

// DefaultGuildConfig is used when a guild has no stored config or it cannot be decoded.
func DefaultGuildConfig() GuildConfig {
	return GuildConfig{Enabled: true}
}

// Normalize returns cfg with mention users deduplicated and sorted.
func (cfg GuildConfig) Normalize() GuildConfig {
	ids := make([]string, 0, len(cfg.MentionUserIDs))
	for _, id := range cfg.MentionUserIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)
	if len(ids) == 0 {
		ids = nil
	}
	cfg.MentionUserIDs = ids
	cfg.MentionRoleID = strings.TrimSpace(cfg.MentionRoleID)
	return cfg
}

// WithUser returns cfg with userID added to the mention set.
func (cfg GuildConfig) WithUser(userID string) GuildConfig {
	cfg.MentionUserIDs = append(slices.Clone(cfg.MentionUserIDs), userID)
	return cfg.Normalize()
}

// WithoutUser returns cfg with userID removed from the mention set.
func (cfg GuildConfig) WithoutUser(userID string) GuildConfig {
	cfg.MentionUserIDs = slices.DeleteFunc(slices.Clone(cfg.MentionUserIDs), func(id string) bool {
		return id == userID
	})
	return cfg.Normalize()
}

// HasMentions reports whether the reminder should ping anyone.
func (cfg GuildConfig) HasMentions() bool {
	return cfg.MentionRoleID != "" || len(cfg.MentionUserIDs) > 0
}

// Equal compares two configs with set semantics for mention users.
func (cfg GuildConfig) Equal(other GuildConfig) bool {
	a, b := cfg.Normalize(), other.Normalize()
	return a.Enabled == b.Enabled &&
		a.MentionRoleID == b.MentionRoleID &&
		slices.Equal(a.MentionUserIDs, b.MentionUserIDs)
}

// EncodeGuildConfig returns the canonical serialized form of cfg.
func EncodeGuildConfig(cfg GuildConfig) ([]byte, error) {
	return json.Marshal(cfg.Normalize())
}

// DecodeGuildConfig parses a stored document. Missing or undecodable input yields
// the default config and ok=false.
func DecodeGuildConfig(raw []byte) (cfg GuildConfig, ok bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return DefaultGuildConfig(), false
	}
	// Fields absent from older documents keep their default values.
	cfg = DefaultGuildConfig()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return DefaultGuildConfig(), false
	}
	return cfg.Normalize(), true
}
