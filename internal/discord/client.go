// Package discord provides Discord API client functionality.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/codeGROOVE-dev/retry"
	"golang.org/x/time/rate"

	"github.com/codeGROOVE-dev/bumpkeeper/internal/format"
)

const (
	// openTimeout is the maximum time to wait for Discord connection.
	openTimeout = 30 * time.Second
	// Outbound message budget shared by reminders and panels.
	defaultSendsPerSecond = 5
)

// messageAPI is the subset of *discordgo.Session used to send and delete messages.
type messageAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// Client wraps discordgo.Session with a clean interface for bot operations.
type Client struct {
	session *discordgo.Session
	api     messageAPI
	limiter *rate.Limiter
	logger  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithSendRate limits outbound messages to perSecond with an equal burst.
func WithSendRate(perSecond int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a new Discord client.
func New(token string, opts ...Option) (*Client, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent

	c := newClient(session, opts...)
	c.session = session
	return c, nil
}

func newClient(api messageAPI, opts ...Option) *Client {
	c := &Client{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(defaultSendsPerSecond), defaultSendsPerSecond),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableCtx wraps a function with standard retry configuration.
// Client errors other than rate limiting are not retried.
func retryableCtx(ctx context.Context, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return false
			}
			code := statusCode(err)
			return code == 0 || code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
		}),
	)
}

func statusCode(err error) int {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		return restErr.Response.StatusCode
	}
	return 0
}

// IsGone reports whether err means the channel or message no longer exists
// or the bot lost access to it.
func IsGone(err error) bool {
	code := statusCode(err)
	return code == http.StatusNotFound || code == http.StatusForbidden
}

// Open opens the WebSocket connection to Discord with a timeout.
func (c *Client) Open() error {
	done := make(chan error, 1)
	go func() {
		done <- c.session.Open()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(openTimeout):
		// Try to close the session to clean up
		c.session.Close() //nolint:errcheck,gosec // best-effort close on timeout
		return errors.New("timeout waiting for Discord connection")
	}
}

// Close closes the WebSocket connection.
func (c *Client) Close() error {
	return c.session.Close()
}

// Session returns the underlying discordgo session.
func (c *Client) Session() *discordgo.Session {
	return c.session
}

// PostMessage sends a message to a channel. Only the given role and users may be pinged.
func (c *Client) PostMessage(ctx context.Context, channelID, text, roleID string, userIDs []string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for send budget: %w", err)
	}

	allowed := &discordgo.MessageAllowedMentions{Users: userIDs}
	if roleID != "" {
		allowed.Roles = []string{roleID}
	}

	var msg *discordgo.Message
	err := retryableCtx(ctx, func() error {
		var sendErr error
		msg, sendErr = c.api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			Content:         format.Truncate(text, format.MaxMessageLength),
			AllowedMentions: allowed,
			Flags:           discordgo.MessageFlagsSuppressEmbeds,
		})
		return sendErr
	})
	if err != nil {
		return "", fmt.Errorf("failed to send message: %w", err)
	}

	c.logger.Info("posted channel message",
		"channel_id", channelID,
		"message_id", msg.ID)
	return msg.ID, nil
}

// DeleteMessage deletes a message. A message that is already gone is not an error.
func (c *Client) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for send budget: %w", err)
	}

	err := retryableCtx(ctx, func() error {
		return c.api.ChannelMessageDelete(channelID, messageID)
	})
	if err != nil && !IsGone(err) {
		return fmt.Errorf("failed to delete message: %w", err)
	}

	c.logger.Debug("deleted channel message",
		"channel_id", channelID,
		"message_id", messageID)
	return nil
}

// BotUserID returns the bot's own user id once the session is ready.
func (c *Client) BotUserID() string {
	if c.session == nil || c.session.State == nil || c.session.State.User == nil {
		return ""
	}
	return c.session.State.User.ID
}
