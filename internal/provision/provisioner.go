// Package provision creates and repairs the per-segment access groups and
// channels derived from screening answers, and keeps every hierarchical
// channel visible to exactly its matching group.
package provision

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/ruskmedia/screener/internal/platform"
)

// Pattern describes the structural shape of hierarchical names: Segments
// dimension values joined by Delimiter, with the gender segment first.
type Pattern struct {
	Delimiter string
	Segments  int
}

// Matches reports whether name structurally matches the hierarchy pattern.
func (p Pattern) Matches(name string) bool {
	return strings.Count(name, p.Delimiter) >= p.Segments-1
}

// GenderSegment returns the leading segment of a hierarchical name.
func (p Pattern) GenderSegment(name string) string {
	if i := strings.Index(name, p.Delimiter); i >= 0 {
		return name[:i]
	}
	return name
}

// Summary reports the outcome of one membership reconciliation pass. Failures
// carry per-item messages; a non-empty list does not mean the pass aborted.
type Summary struct {
	Granted  []string `json:"granted,omitempty"`
	Revoked  []string `json:"revoked,omitempty"`
	Channels []string `json:"channels,omitempty"`
	Failures []string `json:"failures,omitempty"`
}

func (s *Summary) failf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	s.Failures = append(s.Failures, msg)
	log.Printf("provisioner: %s", msg)
}

type Provisioner struct {
	dir      platform.Directory
	msg      platform.Messenger
	pattern  Pattern
	baseline string
}

func NewProvisioner(dir platform.Directory, msg platform.Messenger, pattern Pattern, baseline string) *Provisioner {
	return &Provisioner{dir: dir, msg: msg, pattern: pattern, baseline: baseline}
}

// channelOverwrites is the only overwrite set a hierarchical channel may
// carry: public denied, automation actor full, owning group read/write.
func (p *Provisioner) channelOverwrites(group string) platform.Overwrites {
	ow := platform.Overwrites{
		platform.Everyone: {},
		p.dir.Actor():     {Read: true, Write: true, Manage: true},
	}
	if group != "" {
		ow[group] = platform.Permission{Read: true, Write: true}
	}
	return ow
}

// EnsureBaseline grants the non-hierarchical "screened" group. It is
// additive-only; nothing ever revokes it.
func (p *Provisioner) EnsureBaseline(ctx context.Context, userID string) error {
	if p.baseline == "" {
		return nil
	}
	if err := p.dir.EnsureGroup(ctx, p.baseline); err != nil {
		return fmt.Errorf("ensure baseline group %q: %w", p.baseline, err)
	}
	if err := p.dir.AddMemberToGroup(ctx, userID, p.baseline); err != nil {
		return fmt.Errorf("grant baseline group to %s: %w", userID, err)
	}
	return nil
}

// ReconcileMembership brings the user's hierarchical grants in line with
// newGroups, which is index-aligned with newChannels. Stale grants are
// revoked first: every held hierarchical group that is absent from newGroups
// or whose gender segment differs from the user's current gender answer. Each
// per-item step is independent; failures are collected, not fatal. Both
// phases run in one pass so the user is not observably left with zero
// hierarchical access under normal operation; a crash mid-pass is recovered
// by the permission reconciler.
func (p *Provisioner) ReconcileMembership(ctx context.Context, userID, gender string, newGroups, newChannels []string) *Summary {
	sum := &Summary{}

	held, err := p.dir.MemberGroups(ctx, userID)
	if err != nil {
		sum.failf("list groups for %s: %v", userID, err)
		held = nil
	}
	heldSet := make(map[string]bool, len(held))
	for _, g := range held {
		heldSet[g] = true
	}
	wanted := make(map[string]bool, len(newGroups))
	for _, g := range newGroups {
		wanted[g] = true
	}

	for _, g := range held {
		if g == p.baseline || !p.pattern.Matches(g) {
			continue
		}
		if wanted[g] && p.pattern.GenderSegment(g) == gender {
			continue
		}
		if err := p.dir.RemoveMemberFromGroup(ctx, userID, g); err != nil {
			sum.failf("revoke %q from %s: %v", g, userID, err)
			continue
		}
		heldSet[g] = false
		sum.Revoked = append(sum.Revoked, g)
	}

	for i, group := range newGroups {
		// A group whose gender segment disagrees with the finalized answer
		// would leak another segment's channel; skip it outright.
		if p.pattern.GenderSegment(group) != gender {
			sum.failf("refusing group %q for %s: gender segment mismatch", group, userID)
			continue
		}
		if err := p.dir.EnsureGroup(ctx, group); err != nil {
			sum.failf("ensure group %q: %v", group, err)
			continue
		}
		if i < len(newChannels) {
			channel := newChannels[i]
			if err := p.dir.EnsureChannel(ctx, channel, p.channelOverwrites(group)); err != nil {
				sum.failf("ensure channel %q: %v", channel, err)
			} else {
				sum.Channels = append(sum.Channels, channel)
			}
		}
		if heldSet[group] {
			continue
		}
		if err := p.dir.AddMemberToGroup(ctx, userID, group); err != nil {
			sum.failf("grant %q to %s: %v", group, userID, err)
			continue
		}
		sum.Granted = append(sum.Granted, group)
	}

	return sum
}

// Welcome posts a greeting to each freshly provisioned channel. Best effort.
func (p *Provisioner) Welcome(ctx context.Context, displayName string, channels []string) {
	for _, ch := range channels {
		text := fmt.Sprintf("Welcome %s to this group!", displayName)
		if err := p.msg.SendChannel(ctx, ch, text); err != nil {
			log.Printf("provisioner: welcome message to %q: %v", ch, err)
		}
	}
}
