package discord

import (
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/config"
)

// Trigger is a confirmed bump seen in a guild channel.
type Trigger struct {
	At        time.Time
	Service   config.Service
	GuildID   string
	ChannelID string
	MessageID string
	UserID    string // who ran the bump command, when Discord reports it
}

// ServiceLookup finds the bump service run by a bot user.
type ServiceLookup interface {
	ByBot(botID string) (config.Service, bool)
}

// Detector recognizes bump confirmations posted by bump service bots.
type Detector struct {
	services ServiceLookup
}

// NewDetector creates a detector backed by a service catalogue.
func NewDetector(services ServiceLookup) *Detector {
	return &Detector{services: services}
}

// Detect reports whether m is a successful bump confirmation.
func (d *Detector) Detect(m *discordgo.Message) (Trigger, bool) {
	if m == nil || m.Author == nil || m.GuildID == "" || !m.Author.Bot {
		return Trigger{}, false
	}
	svc, ok := d.services.ByBot(m.Author.ID)
	if !ok || !matchesAny(messageText(m), svc.SuccessKeywords) {
		return Trigger{}, false
	}

	at := m.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	return Trigger{
		Service:   svc,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		MessageID: m.ID,
		UserID:    invoker(m),
		At:        at,
	}, true
}

// messageText joins the content and embed text, where bump bots put their confirmation.
func messageText(m *discordgo.Message) string {
	var sb strings.Builder
	sb.WriteString(m.Content)
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		sb.WriteString("\n")
		sb.WriteString(e.Title)
		sb.WriteString("\n")
		sb.WriteString(e.Description)
		for _, f := range e.Fields {
			if f != nil {
				sb.WriteString("\n")
				sb.WriteString(f.Value)
			}
		}
	}
	return sb.String()
}

func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func invoker(m *discordgo.Message) string {
	if m.InteractionMetadata != nil && m.InteractionMetadata.User != nil {
		return m.InteractionMetadata.User.ID
	}
	if m.Interaction != nil && m.Interaction.User != nil { //nolint:staticcheck // older bump bots still populate this
		return m.Interaction.User.ID //nolint:staticcheck // see above
	}
	return ""
}
