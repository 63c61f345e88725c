package discord

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/config"
)

func interaction(perms int64, sub *discordgo.ApplicationCommandInteractionDataOption) *discordgo.Interaction {
	data := discordgo.ApplicationCommandInteractionData{Name: commandName}
	if sub != nil {
		data.Options = []*discordgo.ApplicationCommandInteractionDataOption{sub}
	}
	return &discordgo.Interaction{
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: "g1",
		Member:  &discordgo.Member{Permissions: perms, User: &discordgo.User{ID: "admin"}},
		Data:    data,
	}
}

func subcommand(name string, opts ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:    name,
		Type:    discordgo.ApplicationCommandOptionSubCommand,
		Options: opts,
	}
}

func TestDispatch(t *testing.T) {
	const admin = discordgo.PermissionManageGuild

	tests := []struct {
		name      string
		perms     int64
		sub       *discordgo.ApplicationCommandInteractionDataOption
		canceled  int
		wantCalls []string
		wantText  string
		check     func(t *testing.T, m *mockCommands)
	}{
		{
			name:      "enable",
			perms:     admin,
			sub:       subcommand("enable"),
			wantCalls: []string{"enabled"},
			wantText:  "on",
			check: func(t *testing.T, m *mockCommands) {
				if m.enabled == nil || !*m.enabled {
					t.Error("SetEnabled(true) not called")
				}
			},
		},
		{
			name:      "disable",
			perms:     admin,
			sub:       subcommand("disable"),
			wantCalls: []string{"enabled"},
			wantText:  "off",
			check: func(t *testing.T, m *mockCommands) {
				if m.enabled == nil || *m.enabled {
					t.Error("SetEnabled(false) not called")
				}
			},
		},
		{
			name:  "set role",
			perms: admin,
			sub: subcommand("role", &discordgo.ApplicationCommandInteractionDataOption{
				Name: "role", Type: discordgo.ApplicationCommandOptionRole, Value: "r1",
			}),
			wantCalls: []string{"role"},
			wantText:  "<@&r1>",
			check: func(t *testing.T, m *mockCommands) {
				if m.roleID != "r1" {
					t.Errorf("roleID = %q", m.roleID)
				}
			},
		},
		{
			name:      "clear role",
			perms:     admin,
			sub:       subcommand("role"),
			wantCalls: []string{"role"},
			wantText:  "no longer ping a role",
		},
		{
			name:  "add user",
			perms: admin,
			sub: subcommand("user-add", &discordgo.ApplicationCommandInteractionDataOption{
				Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "u1",
			}),
			wantCalls: []string{"add"},
			wantText:  "<@u1>",
		},
		{
			name:  "remove user",
			perms: admin,
			sub: subcommand("user-remove", &discordgo.ApplicationCommandInteractionDataOption{
				Name: "user", Type: discordgo.ApplicationCommandOptionUser, Value: "u1",
			}),
			wantCalls: []string{"remove"},
			wantText:  "no longer ping <@u1>",
		},
		{
			name:  "cancel one service",
			perms: admin,
			sub: subcommand("cancel", &discordgo.ApplicationCommandInteractionDataOption{
				Name: "service", Type: discordgo.ApplicationCommandOptionString, Value: "disboard",
			}),
			canceled:  1,
			wantCalls: []string{"cancel"},
			wantText:  "Cancelled 1",
			check: func(t *testing.T, m *mockCommands) {
				if m.service != "disboard" {
					t.Errorf("service = %q", m.service)
				}
			},
		},
		{
			name:      "cancel all",
			perms:     admin,
			sub:       subcommand("cancel"),
			canceled:  2,
			wantCalls: []string{"cancel"},
			wantText:  "Cancelled 2",
		},
		{
			name:     "missing permission",
			sub:      subcommand("enable"),
			wantText: "Manage Server",
		},
		{
			name:     "no subcommand",
			perms:    admin,
			wantText: "specify a subcommand",
		},
		{
			name:     "unknown subcommand",
			perms:    admin,
			sub:      subcommand("dance"),
			wantText: "Unknown subcommand",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmds := &mockCommands{canceled: tt.canceled}
			resp := &mockResponder{}
			h := NewSlashCommandHandler(nil, cmds, nil)

			h.dispatch(context.Background(), resp, interaction(tt.perms, tt.sub))

			if strings.Join(cmds.calls, ",") != strings.Join(tt.wantCalls, ",") {
				t.Errorf("calls = %v, want %v", cmds.calls, tt.wantCalls)
			}
			data := resp.last()
			if data == nil {
				t.Fatal("no response sent")
			}
			if !strings.Contains(data.Content, tt.wantText) {
				t.Errorf("response = %q, want it to contain %q", data.Content, tt.wantText)
			}
			if data.Flags&discordgo.MessageFlagsEphemeral == 0 {
				t.Error("response is not ephemeral")
			}
			if tt.check != nil {
				tt.check(t, cmds)
			}
		})
	}
}

func TestDispatch_StatusNeedsNoPermission(t *testing.T) {
	at := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	cmds := &mockCommands{status: GuildStatus{
		Enabled:   true,
		RoleID:    "r1",
		Reminders: []ScheduledReminder{{ServiceName: "DISBOARD", At: at}},
	}}
	resp := &mockResponder{}
	h := NewSlashCommandHandler(nil, cmds, nil)

	h.dispatch(context.Background(), resp, interaction(0, subcommand("status")))

	data := resp.last()
	if data == nil || len(data.Embeds) != 1 {
		t.Fatalf("response = %+v, want one embed", data)
	}
	fields := data.Embeds[0].Fields
	if fields[1].Value != "<@&r1>" {
		t.Errorf("pings = %q", fields[1].Value)
	}
	if !strings.Contains(fields[2].Value, "DISBOARD") {
		t.Errorf("upcoming = %q", fields[2].Value)
	}
}

func TestDispatch_CommandError(t *testing.T) {
	cmds := &mockCommands{err: errors.New("db down")}
	resp := &mockResponder{}
	h := NewSlashCommandHandler(nil, cmds, nil)

	h.dispatch(context.Background(), resp, interaction(discordgo.PermissionManageGuild, subcommand("enable")))

	data := resp.last()
	if data == nil || !strings.HasPrefix(data.Content, "Error:") {
		t.Fatalf("response = %+v, want an error", data)
	}
	if strings.Contains(data.Content, "db down") {
		t.Error("internal error leaked to the user")
	}
}

func TestDispatch_IgnoresOtherInteractions(t *testing.T) {
	cmds := &mockCommands{}
	resp := &mockResponder{}
	h := NewSlashCommandHandler(nil, cmds, nil)

	other := interaction(discordgo.PermissionManageGuild, subcommand("enable"))
	other.Data = discordgo.ApplicationCommandInteractionData{Name: "goose"}
	h.dispatch(context.Background(), resp, other)

	ping := &discordgo.Interaction{Type: discordgo.InteractionPing}
	h.dispatch(context.Background(), resp, ping)

	if len(resp.responses) != 0 || len(cmds.calls) != 0 {
		t.Errorf("responses = %d, calls = %v, want none", len(resp.responses), cmds.calls)
	}
}

func TestDispatch_DirectMessage(t *testing.T) {
	cmds := &mockCommands{}
	resp := &mockResponder{}
	h := NewSlashCommandHandler(nil, cmds, nil)

	i := interaction(discordgo.PermissionManageGuild, subcommand("status"))
	i.GuildID = ""
	h.dispatch(context.Background(), resp, i)

	if len(cmds.calls) != 0 {
		t.Errorf("calls = %v, want none", cmds.calls)
	}
	if data := resp.last(); data == nil || !strings.Contains(data.Content, "only works in a server") {
		t.Errorf("response = %+v", data)
	}
}

func TestStatusEmbed_Disabled(t *testing.T) {
	e := StatusEmbed(GuildStatus{})
	if !strings.Contains(e.Fields[0].Value, "disabled") {
		t.Errorf("status = %q", e.Fields[0].Value)
	}
	if e.Fields[1].Value != "Nobody" {
		t.Errorf("pings = %q", e.Fields[1].Value)
	}
	if e.Fields[2].Value != "No reminders scheduled" {
		t.Errorf("upcoming = %q", e.Fields[2].Value)
	}
}

func TestDefinitions(t *testing.T) {
	cmds := Definitions([]config.Service{disboard})
	if len(cmds) != 1 || cmds[0].Name != "bump" {
		t.Fatalf("Definitions() = %+v", cmds)
	}
	var cancel *discordgo.ApplicationCommandOption
	for _, opt := range cmds[0].Options {
		if opt.Name == "cancel" {
			cancel = opt
		}
	}
	if cancel == nil || len(cancel.Options) != 1 || len(cancel.Options[0].Choices) != 1 {
		t.Fatalf("cancel option = %+v", cancel)
	}
	if choice := cancel.Options[0].Choices[0]; choice.Name != "DISBOARD" || choice.Value != "disboard" {
		t.Errorf("choice = %+v", choice)
	}
}
