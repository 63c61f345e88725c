package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var errSendFailed = errors.New("send failed")

type postedMessage struct {
	channelID string
	text      string
	roleID    string
	userIDs   []string
}

type deletedMessage struct {
	channelID string
	messageID string
}

// mockDiscordClient records posts and deletes. Posts fail while failPost is set.
type mockDiscordClient struct {
	posted   []postedMessage
	deleted  []deletedMessage
	next     int
	mu       sync.Mutex
	failPost bool
}

func (m *mockDiscordClient) PostMessage(_ context.Context, channelID, text, roleID string, userIDs []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPost {
		return "", errSendFailed
	}
	m.next++
	m.posted = append(m.posted, postedMessage{channelID: channelID, text: text, roleID: roleID, userIDs: userIDs})
	return fmt.Sprintf("msg-%d", m.next), nil
}

func (m *mockDiscordClient) DeleteMessage(_ context.Context, channelID, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, deletedMessage{channelID: channelID, messageID: messageID})
	return nil
}

func (m *mockDiscordClient) setFailPost(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPost = fail
}

func (m *mockDiscordClient) postedMessages() []postedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]postedMessage(nil), m.posted...)
}

func (m *mockDiscordClient) deletedMessages() []deletedMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]deletedMessage(nil), m.deleted...)
}
