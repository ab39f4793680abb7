// Package memory is an in-process platform.Client. It backs the test suites
// and the dry-run mode of the binary, where no workspace credentials are
// configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ruskmedia/screener/internal/platform"
)

type DirectMessage struct {
	UserID string
	Text   string
}

type ChannelMessage struct {
	Channel string
	Text    string
}

type SentPrompt struct {
	UserID string
	Prompt platform.Prompt
}

// Client implements platform.Client against in-memory state. The Fail* knobs
// inject per-target errors for failure-path tests; ThrottleNext makes the
// next n sends fail with ErrThrottled.
type Client struct {
	mu sync.Mutex

	actor      string
	groups     map[string]bool
	channels   map[string]platform.Overwrites
	membership map[string]map[string]bool // userID -> group set

	Prompts     []SentPrompt
	Directs     []DirectMessage
	ChannelMsgs []ChannelMessage

	FailDM       map[string]error // userID -> error for SendPrompt/SendDirect
	FailGroupOp  map[string]error // group name -> error for membership changes
	FailChannel  map[string]error // channel name -> error for overwrite edits
	ThrottleNext int
}

func New(actor string) *Client {
	return &Client{
		actor:      actor,
		groups:     map[string]bool{},
		channels:   map[string]platform.Overwrites{},
		membership: map[string]map[string]bool{},
	}
}

func (c *Client) Actor() string { return c.actor }

func (c *Client) throttle() error {
	if c.ThrottleNext > 0 {
		c.ThrottleNext--
		return platform.ErrThrottled
	}
	return nil
}

func (c *Client) SendPrompt(ctx context.Context, userID string, p platform.Prompt) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.throttle(); err != nil {
		return err
	}
	if err := c.FailDM[userID]; err != nil {
		return err
	}
	c.Prompts = append(c.Prompts, SentPrompt{UserID: userID, Prompt: p})
	return nil
}

func (c *Client) SendDirect(ctx context.Context, userID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.throttle(); err != nil {
		return err
	}
	if err := c.FailDM[userID]; err != nil {
		return err
	}
	c.Directs = append(c.Directs, DirectMessage{UserID: userID, Text: text})
	return nil
}

func (c *Client) SendChannel(ctx context.Context, channel, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.throttle(); err != nil {
		return err
	}
	c.ChannelMsgs = append(c.ChannelMsgs, ChannelMessage{Channel: channel, Text: text})
	return nil
}

func (c *Client) EnsureGroup(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.FailGroupOp[name]; err != nil {
		return err
	}
	c.groups[name] = true
	return nil
}

func (c *Client) GroupExists(ctx context.Context, name string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groups[name], nil
}

func (c *Client) EnsureChannel(ctx context.Context, name string, ow platform.Overwrites) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.FailChannel[name]; err != nil {
		return err
	}
	c.channels[name] = ow.Clone()
	return nil
}

func (c *Client) SetChannelOverwrites(ctx context.Context, name string, ow platform.Overwrites) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.FailChannel[name]; err != nil {
		return err
	}
	if _, ok := c.channels[name]; !ok {
		return fmt.Errorf("channel %q not found", name)
	}
	c.channels[name] = ow.Clone()
	return nil
}

func (c *Client) ListChannels(ctx context.Context) ([]platform.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.channels))
	for name := range c.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]platform.Channel, 0, len(names))
	for _, name := range names {
		out = append(out, platform.Channel{Name: name, Overwrites: c.channels[name].Clone()})
	}
	return out, nil
}

func (c *Client) MemberGroups(ctx context.Context, userID string) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for g := range c.membership[userID] {
		out = append(out, g)
	}
	sort.Strings(out)
	return out, nil
}

func (c *Client) AddMemberToGroup(ctx context.Context, userID, group string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.FailGroupOp[group]; err != nil {
		return err
	}
	if !c.groups[group] {
		return fmt.Errorf("group %q not found", group)
	}
	if c.membership[userID] == nil {
		c.membership[userID] = map[string]bool{}
	}
	c.membership[userID][group] = true
	return nil
}

func (c *Client) RemoveMemberFromGroup(ctx context.Context, userID, group string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.FailGroupOp[group]; err != nil {
		return err
	}
	delete(c.membership[userID], group)
	return nil
}

// Channel returns a channel's current overwrites for assertions.
func (c *Client) Channel(name string) (platform.Overwrites, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ow, ok := c.channels[name]
	if !ok {
		return nil, false
	}
	return ow.Clone(), true
}

// SeedChannel installs a channel with arbitrary overwrites, bypassing the
// provisioner, to model drift that the reconciler must repair.
func (c *Client) SeedChannel(name string, ow platform.Overwrites) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[name] = ow.Clone()
}

// SeedGroup installs a group directly.
func (c *Client) SeedGroup(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups[name] = true
}
