// Package format provides bump reminder message formatting for Discord.
package format

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Message emoji.
const (
	EmojiReminder  = "\u23F0"     // ⏰ Time to bump
	EmojiScheduled = "\u23F3"     // ⏳ Waiting for cooldown
	EmojiDone      = "\u2705"     // ✅ Bump confirmed
	EmojiOff       = "\U0001F515" // 🔕 Reminders disabled
)

// MaxMessageLength is Discord's limit for message content.
const MaxMessageLength = 2000

// ReminderParams contains the parameters for a reminder message.
type ReminderParams struct {
	ServiceName string // display name, e.g. "DISBOARD"
	Command     string // e.g. "/bump"
	RoleID      string
	UserIDs     []string
}

// Mentions renders role and user mentions separated by spaces.
func Mentions(roleID string, userIDs []string) string {
	parts := make([]string, 0, len(userIDs)+1)
	if roleID != "" {
		parts = append(parts, "<@&"+roleID+">")
	}
	for _, id := range userIDs {
		parts = append(parts, "<@"+id+">")
	}
	return strings.Join(parts, " ")
}

// ReminderText formats the message posted when the cooldown is over.
func ReminderText(p ReminderParams) string {
	var sb strings.Builder
	if m := Mentions(p.RoleID, p.UserIDs); m != "" {
		sb.WriteString(m)
		sb.WriteString(" ")
	}
	sb.WriteString(EmojiReminder)
	fmt.Fprintf(&sb, " **%s** is ready to bump again!", serviceLabel(p.ServiceName))
	if p.Command != "" {
		fmt.Fprintf(&sb, " Use `%s`.", p.Command)
	}
	return Truncate(sb.String(), MaxMessageLength)
}

// PanelText formats the message posted right after a bump, pointing at the next one.
func PanelText(serviceName string, next time.Time) string {
	return fmt.Sprintf("%s Thanks for bumping **%s**! Next bump %s (%s).",
		EmojiDone, serviceLabel(serviceName), RelativeTime(next), AbsoluteTime(next))
}

// StatusLine formats one line of /bump status output.
func StatusLine(serviceName string, next time.Time) string {
	return fmt.Sprintf("%s **%s**: reminder %s", EmojiScheduled, serviceLabel(serviceName), RelativeTime(next))
}

// DisabledText is shown by status when reminders are off for the guild.
func DisabledText() string {
	return EmojiOff + " Bump reminders are disabled for this server."
}

// RelativeTime renders a Discord timestamp such as "in 2 hours".
func RelativeTime(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}

// AbsoluteTime renders a Discord short time timestamp.
func AbsoluteTime(t time.Time) string {
	return fmt.Sprintf("<t:%d:t>", t.Unix())
}

func serviceLabel(name string) string {
	if name == "" {
		return "The server"
	}
	return name
}

// Truncate shortens s to at most maxLen bytes without splitting a UTF-8 sequence,
// marking the cut with "...".
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return trimToBoundary(s, maxLen)
	}
	return trimToBoundary(s, maxLen-3) + "..."
}

func trimToBoundary(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
