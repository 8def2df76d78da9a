// Package actions calls the side-effecting endpoints behind invitation and
// referral cards: accept/decline a group invitation, connect/skip a
// referral. From the sync engine's perspective these are fire-and-forget;
// the response may carry the authoritative status patch, which the caller
// applies when present.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"github.com/TernFolbaek/anthra-sync/pkg/message"
)

// Client issues action requests against the product API.
type Client struct {
	baseURL *url.URL
	client  *http.Client
}

func NewClient(baseURL string, ts oauth2.TokenSource, timeout time.Duration) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid actions base URL: %w", err)
	}

	client := oauth2.NewClient(context.Background(), ts)
	client.Timeout = timeout

	return &Client{
		baseURL: parsed,
		client:  client,
	}, nil
}

type actionRequest struct {
	MessageID int64 `json:"message_id"`
}

type actionResponse struct {
	Patch *message.StatePatch `json:"patch,omitempty"`
}

// AcceptInvitation accepts the group invitation carried by the message.
func (c *Client) AcceptInvitation(ctx context.Context, messageID int64) (*message.StatePatch, error) {
	return c.post(ctx, "/groups/invitations/accept", messageID)
}

// DeclineInvitation declines the group invitation carried by the message.
func (c *Client) DeclineInvitation(ctx context.Context, messageID int64) (*message.StatePatch, error) {
	return c.post(ctx, "/groups/invitations/decline", messageID)
}

// ConnectReferral connects with the profile on the referral card.
func (c *Client) ConnectReferral(ctx context.Context, messageID int64) (*message.StatePatch, error) {
	return c.post(ctx, "/referrals/connect", messageID)
}

// SkipReferral dismisses the referral card.
func (c *Client) SkipReferral(ctx context.Context, messageID int64) (*message.StatePatch, error) {
	return c.post(ctx, "/referrals/skip", messageID)
}

// ForAction dispatches to the endpoint matching a recorded user action.
func (c *Client) ForAction(ctx context.Context, messageID int64, action message.Action) (*message.StatePatch, error) {
	switch action {
	case message.ActionAccepted:
		return c.AcceptInvitation(ctx, messageID)
	case message.ActionDeclined:
		return c.DeclineInvitation(ctx, messageID)
	case message.ActionConnected:
		return c.ConnectReferral(ctx, messageID)
	case message.ActionSkipped:
		return c.SkipReferral(ctx, messageID)
	default:
		return nil, fmt.Errorf("no endpoint for action %q", action)
	}
}

func (c *Client) post(ctx context.Context, path string, messageID int64) (*message.StatePatch, error) {
	u := *c.baseURL
	u.Path = path

	body, err := json.Marshal(actionRequest{MessageID: messageID})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("action %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("action %s: status %d", path, resp.StatusCode)
	}

	var out actionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// A bodyless 2xx is still a success; the authoritative patch will
		// arrive via the push channel instead.
		return nil, nil
	}
	return out.Patch, nil
}
