// Package platform defines the interfaces to the chat workspace. The real
// transport lives behind them; tests and dry-run mode use the in-memory
// implementation in platform/memory, deployments use platform/rest.
package platform

import (
	"context"
	"errors"
)

// Everyone is the default/public principal of a channel's permission set. It
// must never hold access to a hierarchical channel.
const Everyone = "@everyone"

// Permission is one principal's access to a channel. The zero value denies
// everything.
type Permission struct {
	Read   bool `json:"read"`
	Write  bool `json:"write"`
	Manage bool `json:"manage"`
}

// Overwrites maps principal names (Everyone, a group name, or the automation
// actor) to their channel permission.
type Overwrites map[string]Permission

// Clone returns an independent copy.
func (o Overwrites) Clone() Overwrites {
	out := make(Overwrites, len(o))
	for k, v := range o {
		out[k] = v
	}
	return out
}

// Equal reports whether two overwrite sets grant identical access.
func (o Overwrites) Equal(other Overwrites) bool {
	if len(o) != len(other) {
		return false
	}
	for k, v := range o {
		if other[k] != v {
			return false
		}
	}
	return true
}

type Channel struct {
	Name       string
	Overwrites Overwrites
}

// Choice is one selectable option of a prompt.
type Choice struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Prompt is an outbound question with a selection control. Token is the
// opaque correlation token the platform echoes back with the user's
// selection; inbound handling resolves state through it, never through
// captured closures.
type Prompt struct {
	Token     string   `json:"token"`
	Text      string   `json:"text"`
	Choices   []Choice `json:"choices"`
	MaxValues int      `json:"max_values"`
}

var (
	// ErrForbidden means the user disallows private delivery; callers fall
	// back to the designated public channel.
	ErrForbidden = errors.New("platform: private delivery forbidden")
	// ErrThrottled is a platform rate-limit rejection. Transient and
	// retry-eligible, never a permanent delivery failure.
	ErrThrottled = errors.New("platform: throttled")
)

// Messenger delivers content to users and channels.
type Messenger interface {
	// SendPrompt sends a question with a selection control via private
	// message. Returns ErrForbidden when the user refuses private messages.
	SendPrompt(ctx context.Context, userID string, p Prompt) error
	// SendDirect sends a plain private message.
	SendDirect(ctx context.Context, userID, text string) error
	// SendChannel posts to a named channel.
	SendChannel(ctx context.Context, channel, text string) error
}

// Directory manages groups, channels, and membership. Groups and channels
// are keyed by canonical name.
type Directory interface {
	// Actor is the principal name of the automation actor itself.
	Actor() string
	// EnsureGroup creates the named group if absent. Idempotent.
	EnsureGroup(ctx context.Context, name string) error
	// GroupExists reports whether a group with exactly this name exists.
	GroupExists(ctx context.Context, name string) (bool, error)
	// EnsureChannel creates the named channel with the given overwrites, or
	// re-applies the overwrites when it already exists. Idempotent.
	EnsureChannel(ctx context.Context, name string, ow Overwrites) error
	// SetChannelOverwrites replaces a channel's full overwrite set.
	SetChannelOverwrites(ctx context.Context, name string, ow Overwrites) error
	// ListChannels enumerates all channels with their current overwrites.
	ListChannels(ctx context.Context) ([]Channel, error)
	// MemberGroups lists the group names a user currently holds.
	MemberGroups(ctx context.Context, userID string) ([]string, error)
	// AddMemberToGroup grants group membership. Granting a held group is a
	// no-op.
	AddMemberToGroup(ctx context.Context, userID, group string) error
	// RemoveMemberFromGroup revokes group membership.
	RemoveMemberFromGroup(ctx context.Context, userID, group string) error
}

// Client bundles both halves of the workspace surface.
type Client interface {
	Messenger
	Directory
}
