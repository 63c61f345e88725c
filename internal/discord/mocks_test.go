package discord

import (
	"context"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/config"
)

// mockAPI is a fake messageAPI that fails the first failN calls with failErr.
type mockAPI struct {
	failErr   error
	sent      []*discordgo.MessageSend
	deleted   []string
	failN     int
	sendCalls int
	delCalls  int
	mu        sync.Mutex
}

func (m *mockAPI) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendCalls++
	if m.sendCalls <= m.failN {
		return nil, m.failErr
	}
	m.sent = append(m.sent, data)
	return &discordgo.Message{ID: "msg-1", ChannelID: channelID}, nil
}

func (m *mockAPI) ChannelMessageDelete(_, messageID string, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delCalls++
	if m.delCalls <= m.failN {
		return m.failErr
	}
	m.deleted = append(m.deleted, messageID)
	return nil
}

func restError(code int) error {
	return &discordgo.RESTError{Response: &http.Response{StatusCode: code}}
}

// mockResponder records interaction responses.
type mockResponder struct {
	responses []*discordgo.InteractionResponse
}

func (m *mockResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.responses = append(m.responses, resp)
	return nil
}

func (m *mockResponder) last() *discordgo.InteractionResponseData {
	if len(m.responses) == 0 {
		return nil
	}
	return m.responses[len(m.responses)-1].Data
}

// mockCommands records the calls made by the slash handler.
type mockCommands struct {
	err      error
	status   GuildStatus
	calls    []string
	enabled  *bool
	roleID   string
	userID   string
	service  string
	canceled int
}

func (m *mockCommands) Status(context.Context, string) (GuildStatus, error) {
	m.calls = append(m.calls, "status")
	return m.status, m.err
}

func (m *mockCommands) SetEnabled(_ context.Context, _ string, enabled bool) error {
	m.calls = append(m.calls, "enabled")
	m.enabled = &enabled
	return m.err
}

func (m *mockCommands) SetRole(_ context.Context, _, roleID string) error {
	m.calls = append(m.calls, "role")
	m.roleID = roleID
	return m.err
}

func (m *mockCommands) AddUser(_ context.Context, _, userID string) error {
	m.calls = append(m.calls, "add")
	m.userID = userID
	return m.err
}

func (m *mockCommands) RemoveUser(_ context.Context, _, userID string) error {
	m.calls = append(m.calls, "remove")
	m.userID = userID
	return m.err
}

func (m *mockCommands) CancelReminders(_ context.Context, _, service string) (int, error) {
	m.calls = append(m.calls, "cancel")
	m.service = service
	return m.canceled, m.err
}

// mockLookup is a fixed ServiceLookup.
type mockLookup map[string]config.Service

func (m mockLookup) ByBot(botID string) (config.Service, bool) {
	svc, ok := m[botID]
	return svc, ok
}
