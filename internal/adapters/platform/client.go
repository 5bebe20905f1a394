// Package platform talks to the chat platform through an HTTP bridge. The
// bridge owns the bot session; levelup only asks it to assign roles, look
// up members and roles, render cards and post messages.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/okian/levelup/internal/domain/reward"
	"github.com/okian/levelup/pkg/logger"
)

const maxResponseBytes = 8 << 20

// Client implements reward.GuildAPI, reward.CardRenderer and reward.Messenger.
type Client struct {
	base   string
	http   *http.Client
	logger logger.Logger
}

var (
	_ reward.GuildAPI     = (*Client)(nil)
	_ reward.CardRenderer = (*Client)(nil)
	_ reward.Messenger    = (*Client)(nil)
)

// NewClient creates a bridge client for baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrNotConfigured
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("platform url: %w", err)
	}
	c := &Client{
		base:   baseURL,
		http:   &http.Client{Timeout: defaultTimeout},
		logger: logger.Get().Named("platform"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// AssignRole grants roleID to the member.
func (c *Client) AssignRole(ctx context.Context, guildID, userID, roleID string) error {
	p := "/guilds/" + url.PathEscape(guildID) + "/members/" + url.PathEscape(userID) + "/roles/" + url.PathEscape(roleID)
	_, err := c.do(ctx, http.MethodPut, p, nil)
	return err
}

// FetchRole looks a role up by id.
func (c *Client) FetchRole(ctx context.Context, guildID, roleID string) (reward.Role, error) {
	var role reward.Role
	body, err := c.do(ctx, http.MethodGet, "/guilds/"+url.PathEscape(guildID)+"/roles/"+url.PathEscape(roleID), nil)
	if err != nil {
		return role, err
	}
	if err := json.Unmarshal(body, &role); err != nil {
		return role, fmt.Errorf("decode role: %w", err)
	}
	return role, nil
}

// FetchMember looks a guild member up by id.
func (c *Client) FetchMember(ctx context.Context, guildID, userID string) (reward.Member, error) {
	var m reward.Member
	body, err := c.do(ctx, http.MethodGet, "/guilds/"+url.PathEscape(guildID)+"/members/"+url.PathEscape(userID), nil)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(body, &m); err != nil {
		return m, fmt.Errorf("decode member: %w", err)
	}
	return m, nil
}

// Render asks the bridge for a card image in the given style.
func (c *Client) Render(ctx context.Context, card reward.Card, style string) ([]byte, error) {
	p := "/cards"
	if style != "" {
		p += "?style=" + url.QueryEscape(style)
	}
	return c.do(ctx, http.MethodPost, p, card)
}

// Send posts a message to a channel.
func (c *Client) Send(ctx context.Context, msg reward.Message) error {
	_, err := c.do(ctx, http.MethodPost, "/channels/"+url.PathEscape(msg.ChannelID)+"/messages", msg)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn(ctx, "bridge request rejected",
			logger.String("method", method),
			logger.String("path", path),
			logger.Int("status", resp.StatusCode),
		)
		return nil, fmt.Errorf("%w: %s %s: status %d", ErrBridge, method, path, resp.StatusCode)
	}
	return data, nil
}
