package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/config"
	"github.com/codeGROOVE-dev/bumpkeeper/internal/format"
)

const (
	commandName        = "bump"
	interactionTimeout = 10 * time.Second
	embedColor         = 0x5865F2 // Discord blurple
)

// ScheduledReminder is a pending reminder shown by /bump status.
type ScheduledReminder struct {
	At          time.Time `json:"at"`
	ServiceName string    `json:"service"`
}

// GuildStatus is the reminder state of a guild.
type GuildStatus struct {
	RoleID    string              `json:"role_id,omitempty"`
	UserIDs   []string            `json:"user_ids,omitempty"`
	Reminders []ScheduledReminder `json:"reminders"`
	Enabled   bool                `json:"enabled"`
}

// BumpCommands is implemented by the bot to back the /bump subcommands.
type BumpCommands interface {
	Status(ctx context.Context, guildID string) (GuildStatus, error)
	SetEnabled(ctx context.Context, guildID string, enabled bool) error
	SetRole(ctx context.Context, guildID, roleID string) error
	AddUser(ctx context.Context, guildID, userID string) error
	RemoveUser(ctx context.Context, guildID, userID string) error
	// CancelReminders cancels the reminder for one service, or all of them when service is empty.
	CancelReminders(ctx context.Context, guildID, service string) (int, error)
}

// responder is the subset of *discordgo.Session used to answer interactions.
type responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// SlashCommandHandler handles the /bump slash command.
type SlashCommandHandler struct {
	session  *discordgo.Session
	commands BumpCommands
	logger   *slog.Logger
}

// NewSlashCommandHandler creates a new slash command handler.
func NewSlashCommandHandler(session *discordgo.Session, commands BumpCommands, logger *slog.Logger) *SlashCommandHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlashCommandHandler{session: session, commands: commands, logger: logger}
}

// Definitions returns the application commands, with service choices taken from services.
func Definitions(services []config.Service) []*discordgo.ApplicationCommand {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(services))
	for _, svc := range services {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: svc.DisplayName, Value: svc.Name})
	}
	dmAllowed := false

	return []*discordgo.ApplicationCommand{
		{
			Name:         commandName,
			Description:  "Bump reminders for this server",
			DMPermission: &dmAllowed,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "status",
					Description: "Show upcoming reminders and who gets pinged",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "enable",
					Description: "Turn bump reminders on",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "disable",
					Description: "Turn bump reminders off and cancel pending ones",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "role",
					Description: "Set the role to ping, or clear it",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Role to ping (omit to clear)"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "user-add",
					Description: "Ping a user when it is time to bump",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to ping", Required: true},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "user-remove",
					Description: "Stop pinging a user",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User to stop pinging", Required: true},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "cancel",
					Description: "Cancel pending reminders",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionString, Name: "service", Description: "Only this service", Choices: choices},
					},
				},
			},
		},
	}
}

// RegisterCommands registers the commands globally.
func (h *SlashCommandHandler) RegisterCommands(services []config.Service) error {
	if h.session.State == nil || h.session.State.User == nil {
		return errors.New("session is not ready")
	}
	cmds, err := h.session.ApplicationCommandBulkOverwrite(h.session.State.User.ID, "", Definitions(services))
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	h.logger.Info("registered slash commands", "count", len(cmds))
	return nil
}

// SetupHandler sets up the interaction handler.
func (h *SlashCommandHandler) SetupHandler() {
	h.session.AddHandler(h.handleInteraction)
}

func (h *SlashCommandHandler) handleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()
	h.dispatch(ctx, s, i.Interaction)
}

func (h *SlashCommandHandler) dispatch(ctx context.Context, r responder, i *discordgo.Interaction) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	data := i.ApplicationCommandData()
	if data.Name != commandName {
		return
	}
	if i.GuildID == "" {
		h.respondError(r, i, "This command only works in a server.")
		return
	}
	if len(data.Options) == 0 {
		h.respondError(r, i, "Please specify a subcommand, for example /bump status")
		return
	}

	sub := data.Options[0]
	if sub.Name != "status" && !canManage(i) {
		h.respondError(r, i, "You need the Manage Server permission to change bump reminders.")
		return
	}

	logger := h.logger.With("guild_id", i.GuildID, "subcommand", sub.Name)
	var (
		reply string
		err   error
	)
	switch sub.Name {
	case "status":
		h.handleStatus(ctx, r, i)
		return
	case "enable":
		err = h.commands.SetEnabled(ctx, i.GuildID, true)
		reply = "Bump reminders are on."
	case "disable":
		err = h.commands.SetEnabled(ctx, i.GuildID, false)
		reply = "Bump reminders are off. Pending reminders were cancelled."
	case "role":
		roleID := ""
		if opt := sub.GetOption("role"); opt != nil {
			roleID = opt.RoleValue(nil, "").ID
		}
		err = h.commands.SetRole(ctx, i.GuildID, roleID)
		reply = "Reminders will no longer ping a role."
		if roleID != "" {
			reply = fmt.Sprintf("Reminders will ping <@&%s>.", roleID)
		}
	case "user-add":
		userID := optionUserID(sub)
		err = h.commands.AddUser(ctx, i.GuildID, userID)
		reply = fmt.Sprintf("Reminders will ping <@%s>.", userID)
	case "user-remove":
		userID := optionUserID(sub)
		err = h.commands.RemoveUser(ctx, i.GuildID, userID)
		reply = fmt.Sprintf("Reminders will no longer ping <@%s>.", userID)
	case "cancel":
		service := ""
		if opt := sub.GetOption("service"); opt != nil {
			service = opt.StringValue()
		}
		var n int
		n, err = h.commands.CancelReminders(ctx, i.GuildID, service)
		reply = fmt.Sprintf("Cancelled %d pending reminder(s).", n)
	default:
		h.respondError(r, i, "Unknown subcommand")
		return
	}

	if err != nil {
		logger.Error("slash command failed", "error", err)
		h.respondError(r, i, "Something went wrong, please try again.")
		return
	}
	logger.Info("slash command handled")
	h.respond(r, i, reply, nil)
}

func (h *SlashCommandHandler) handleStatus(ctx context.Context, r responder, i *discordgo.Interaction) {
	status, err := h.commands.Status(ctx, i.GuildID)
	if err != nil {
		h.logger.Error("failed to load status", "guild_id", i.GuildID, "error", err)
		h.respondError(r, i, "Could not load reminder status.")
		return
	}
	h.respond(r, i, "", StatusEmbed(status))
}

// StatusEmbed renders a guild status for /bump status.
func StatusEmbed(status GuildStatus) *discordgo.MessageEmbed {
	state := "Enabled"
	if !status.Enabled {
		state = format.DisabledText()
	}

	mentions := format.Mentions(status.RoleID, status.UserIDs)
	if mentions == "" {
		mentions = "Nobody"
	}

	upcoming := "No reminders scheduled"
	if len(status.Reminders) > 0 {
		lines := make([]string, 0, len(status.Reminders))
		for _, rem := range status.Reminders {
			lines = append(lines, format.StatusLine(rem.ServiceName, rem.At))
		}
		upcoming = strings.Join(lines, "\n")
	}

	return &discordgo.MessageEmbed{
		Title: "Bump reminders",
		Color: embedColor,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Status", Value: state, Inline: true},
			{Name: "Pings", Value: mentions, Inline: true},
			{Name: "Upcoming", Value: format.Truncate(upcoming, 1024)},
		},
	}
}

func canManage(i *discordgo.Interaction) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionManageGuild != 0
}

func optionUserID(sub *discordgo.ApplicationCommandInteractionDataOption) string {
	if opt := sub.GetOption("user"); opt != nil {
		return opt.UserValue(nil).ID
	}
	return ""
}

func (h *SlashCommandHandler) respond(r responder, i *discordgo.Interaction, content string, embed *discordgo.MessageEmbed) {
	var embeds []*discordgo.MessageEmbed
	if embed != nil {
		embeds = []*discordgo.MessageEmbed{embed}
	}

	err := r.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:         content,
			Embeds:          embeds,
			Flags:           discordgo.MessageFlagsEphemeral, // Only visible to the user
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
	})
	if err != nil {
		h.logger.Error("failed to respond to interaction", "error", err)
	}
}

func (h *SlashCommandHandler) respondError(r responder, i *discordgo.Interaction, message string) {
	err := r.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: "Error: " + message,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
	if err != nil {
		h.logger.Error("failed to respond with error", "error", err)
	}
}
