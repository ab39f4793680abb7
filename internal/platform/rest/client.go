// Package rest is a thin HTTP adapter from platform.Client to the workspace
// API. It carries no business logic: name-to-id resolution, rate pacing, and
// error mapping only. Event delivery into the service arrives separately
// through the gateway relay endpoint in internal/api.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ruskmedia/screener/internal/platform"
)

type Config struct {
	BaseURL     string
	Token       string
	WorkspaceID string
	Actor       string
	// RequestsPerSecond paces all outbound calls; bursts beyond Burst wait.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
}

type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter

	mu         sync.Mutex
	groupIDs   map[string]string // name -> id
	channelIDs map[string]string
}

func New(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &Client{
		cfg:        cfg,
		http:       cfg.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		groupIDs:   map[string]string{},
		channelIDs: map[string]string{},
	}
}

func (c *Client) Actor() string { return c.cfg.Actor }

type apiError struct {
	Status int
	Body   string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("workspace api: status %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	switch {
	case res.StatusCode == http.StatusForbidden:
		return platform.ErrForbidden
	case res.StatusCode == http.StatusTooManyRequests:
		return platform.ErrThrottled
	case res.StatusCode >= 400:
		b, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return &apiError{Status: res.StatusCode, Body: string(b)}
	}
	if out != nil {
		if err := json.NewDecoder(res.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type namedEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type wireOverwrite struct {
	Principal string `json:"principal"`
	Read      bool   `json:"read"`
	Write     bool   `json:"write"`
	Manage    bool   `json:"manage"`
}

func toWire(ow platform.Overwrites) []wireOverwrite {
	out := make([]wireOverwrite, 0, len(ow))
	for principal, p := range ow {
		out = append(out, wireOverwrite{Principal: principal, Read: p.Read, Write: p.Write, Manage: p.Manage})
	}
	return out
}

func fromWire(ws []wireOverwrite) platform.Overwrites {
	ow := make(platform.Overwrites, len(ws))
	for _, w := range ws {
		ow[w.Principal] = platform.Permission{Read: w.Read, Write: w.Write, Manage: w.Manage}
	}
	return ow
}

func (c *Client) workspacePath(suffix string) string {
	return "/workspaces/" + c.cfg.WorkspaceID + suffix
}

func (c *Client) refreshGroups(ctx context.Context) error {
	var groups []namedEntity
	if err := c.do(ctx, http.MethodGet, c.workspacePath("/groups"), nil, &groups); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groupIDs = map[string]string{}
	for _, g := range groups {
		c.groupIDs[g.Name] = g.ID
	}
	return nil
}

func (c *Client) groupID(ctx context.Context, name string) (string, bool, error) {
	c.mu.Lock()
	id, ok := c.groupIDs[name]
	c.mu.Unlock()
	if ok {
		return id, true, nil
	}
	if err := c.refreshGroups(ctx); err != nil {
		return "", false, err
	}
	c.mu.Lock()
	id, ok = c.groupIDs[name]
	c.mu.Unlock()
	return id, ok, nil
}

func (c *Client) EnsureGroup(ctx context.Context, name string) error {
	if _, ok, err := c.groupID(ctx, name); err != nil {
		return err
	} else if ok {
		return nil
	}
	var created namedEntity
	if err := c.do(ctx, http.MethodPost, c.workspacePath("/groups"), map[string]string{"name": name}, &created); err != nil {
		return err
	}
	c.mu.Lock()
	c.groupIDs[name] = created.ID
	c.mu.Unlock()
	return nil
}

func (c *Client) GroupExists(ctx context.Context, name string) (bool, error) {
	_, ok, err := c.groupID(ctx, name)
	return ok, err
}

type wireChannel struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Overwrites []wireOverwrite `json:"overwrites"`
}

func (c *Client) refreshChannels(ctx context.Context) ([]wireChannel, error) {
	var channels []wireChannel
	if err := c.do(ctx, http.MethodGet, c.workspacePath("/channels"), nil, &channels); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channelIDs = map[string]string{}
	for _, ch := range channels {
		c.channelIDs[ch.Name] = ch.ID
	}
	return channels, nil
}

func (c *Client) channelID(ctx context.Context, name string) (string, bool, error) {
	c.mu.Lock()
	id, ok := c.channelIDs[name]
	c.mu.Unlock()
	if ok {
		return id, true, nil
	}
	if _, err := c.refreshChannels(ctx); err != nil {
		return "", false, err
	}
	c.mu.Lock()
	id, ok = c.channelIDs[name]
	c.mu.Unlock()
	return id, ok, nil
}

func (c *Client) EnsureChannel(ctx context.Context, name string, ow platform.Overwrites) error {
	id, ok, err := c.channelID(ctx, name)
	if err != nil {
		return err
	}
	if ok {
		return c.do(ctx, http.MethodPatch, "/channels/"+id, map[string]any{"overwrites": toWire(ow)}, nil)
	}
	var created namedEntity
	payload := map[string]any{"name": name, "overwrites": toWire(ow)}
	if err := c.do(ctx, http.MethodPost, c.workspacePath("/channels"), payload, &created); err != nil {
		return err
	}
	c.mu.Lock()
	c.channelIDs[name] = created.ID
	c.mu.Unlock()
	return nil
}

func (c *Client) SetChannelOverwrites(ctx context.Context, name string, ow platform.Overwrites) error {
	id, ok, err := c.channelID(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("channel %q not found", name)
	}
	return c.do(ctx, http.MethodPatch, "/channels/"+id, map[string]any{"overwrites": toWire(ow)}, nil)
}

func (c *Client) ListChannels(ctx context.Context) ([]platform.Channel, error) {
	channels, err := c.refreshChannels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]platform.Channel, 0, len(channels))
	for _, ch := range channels {
		out = append(out, platform.Channel{Name: ch.Name, Overwrites: fromWire(ch.Overwrites)})
	}
	return out, nil
}

func (c *Client) MemberGroups(ctx context.Context, userID string) ([]string, error) {
	var member struct {
		Groups []namedEntity `json:"groups"`
	}
	if err := c.do(ctx, http.MethodGet, c.workspacePath("/members/"+userID), nil, &member); err != nil {
		return nil, err
	}
	names := make([]string, 0, len(member.Groups))
	for _, g := range member.Groups {
		names = append(names, g.Name)
	}
	return names, nil
}

func (c *Client) AddMemberToGroup(ctx context.Context, userID, group string) error {
	id, ok, err := c.groupID(ctx, group)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("group %q not found", group)
	}
	return c.do(ctx, http.MethodPut, c.workspacePath("/members/"+userID+"/groups/"+id), nil, nil)
}

func (c *Client) RemoveMemberFromGroup(ctx context.Context, userID, group string) error {
	id, ok, err := c.groupID(ctx, group)
	if err != nil {
		return err
	}
	if !ok {
		return nil // revoking an unknown group is a no-op
	}
	return c.do(ctx, http.MethodDelete, c.workspacePath("/members/"+userID+"/groups/"+id), nil, nil)
}

func (c *Client) SendPrompt(ctx context.Context, userID string, p platform.Prompt) error {
	payload := map[string]any{"text": p.Text, "prompt": p}
	return c.do(ctx, http.MethodPost, "/users/"+userID+"/messages", payload, nil)
}

func (c *Client) SendDirect(ctx context.Context, userID, text string) error {
	return c.do(ctx, http.MethodPost, "/users/"+userID+"/messages", map[string]string{"text": text}, nil)
}

func (c *Client) SendChannel(ctx context.Context, channel, text string) error {
	id, ok, err := c.channelID(ctx, channel)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("channel %q not found", channel)
	}
	return c.do(ctx, http.MethodPost, "/channels/"+id+"/messages", map[string]string{"text": text}, nil)
}
