// Package provisioner talks to the chat platform's guild API: private
// channel creation, renames, write restrictions, and deletion. Everything
// here is a fallible side effect; callers never treat a partial failure as
// committed state.
package provisioner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Gateway is a REST client for the platform's guild API, authenticated with
// the bot token.
type Gateway struct {
	baseURL string
	guildID string
	token   string
	client  *http.Client
}

func NewGateway(baseURL, guildID, token string, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		guildID: guildID,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// ResolveIdentity checks that an identity exists in the guild. Only a format
// check plus a membership lookup; who the identity really is stays the
// platform's problem.
func (g *Gateway) ResolveIdentity(ctx context.Context, identity string) error {
	if strings.TrimSpace(identity) == "" {
		return fmt.Errorf("empty identity")
	}
	path := fmt.Sprintf("/guilds/%s/members/%s", url.PathEscape(g.guildID), url.PathEscape(identity))
	return g.do(ctx, http.MethodGet, path, nil, nil)
}

func (g *Gateway) CreatePrivateChannel(ctx context.Context, name string, visibleTo []string) (string, error) {
	body := map[string]any{
		"name":       name,
		"private":    true,
		"visible_to": visibleTo,
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := g.do(ctx, http.MethodPost, fmt.Sprintf("/guilds/%s/channels", url.PathEscape(g.guildID)), body, &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", fmt.Errorf("gateway returned no channel id")
	}
	return out.ID, nil
}

func (g *Gateway) SetChannelName(ctx context.Context, channelID, name string) error {
	body := map[string]any{"name": name}
	return g.do(ctx, http.MethodPatch, "/channels/"+url.PathEscape(channelID), body, nil)
}

// RestrictWrite narrows send access on the channel to the given identities;
// everyone else keeps read-only visibility.
func (g *Gateway) RestrictWrite(ctx context.Context, channelID string, allow []string) error {
	body := map[string]any{"send_messages": allow}
	return g.do(ctx, http.MethodPut, "/channels/"+url.PathEscape(channelID)+"/permissions", body, nil)
}

func (g *Gateway) DeleteChannel(ctx context.Context, channelID string) error {
	return g.do(ctx, http.MethodDelete, "/channels/"+url.PathEscape(channelID), nil, nil)
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+g.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: gateway responded %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode gateway response: %w", err)
		}
	}
	return nil
}
