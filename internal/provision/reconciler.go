package provision

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ruskmedia/screener/internal/platform"
)

// Report summarizes one reconciliation pass over the workspace.
type Report struct {
	Audited    int      `json:"audited"`
	Repaired   int      `json:"repaired"`
	Unresolved []string `json:"unresolved,omitempty"`
	Failures   []string `json:"failures,omitempty"`
}

// Reconciler audits every hierarchical channel against the exclusivity
// invariant and repairs deviations, independent of how they arose. It runs at
// startup, on a timer, and on administrative demand.
type Reconciler struct {
	dir     platform.Directory
	pattern Pattern
}

func NewReconciler(dir platform.Directory, pattern Pattern) *Reconciler {
	return &Reconciler{dir: dir, pattern: pattern}
}

// expected derives the intended overwrite set for a channel from its name
// alone: public denied everything, actor full access, and the exact-name
// group (when it exists) read/write. Deriving from current names rather than
// transient history is what makes crash recovery work.
func (r *Reconciler) expected(ctx context.Context, name string) (platform.Overwrites, bool, error) {
	ow := platform.Overwrites{
		platform.Everyone: {},
		r.dir.Actor():     {Read: true, Write: true, Manage: true},
	}
	exists, err := r.dir.GroupExists(ctx, name)
	if err != nil {
		return nil, false, err
	}
	if exists {
		ow[name] = platform.Permission{Read: true, Write: true}
	}
	return ow, exists, nil
}

// Run audits all hierarchical channels. Per-channel failures are collected
// and do not abort the batch; the returned error covers only channel
// enumeration. Re-running with no intervening changes repairs nothing and
// yields identical overwrite sets, because the full set is replaced rather
// than appended to.
func (r *Reconciler) Run(ctx context.Context) (*Report, error) {
	channels, err := r.dir.ListChannels(ctx)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	report := &Report{}
	for _, ch := range channels {
		if !r.pattern.Matches(ch.Name) {
			continue
		}
		report.Audited++
		want, resolved, err := r.expected(ctx, ch.Name)
		if err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("resolve group for %q: %v", ch.Name, err))
			continue
		}
		if !resolved {
			// Secure-by-default: the channel still loses public access even
			// without a matching group.
			report.Unresolved = append(report.Unresolved, ch.Name)
			log.Printf("reconciler: warning: no group matches channel %q, applying secure default", ch.Name)
		}
		if ch.Overwrites.Equal(want) {
			continue
		}
		if err := r.dir.SetChannelOverwrites(ctx, ch.Name, want); err != nil {
			report.Failures = append(report.Failures, fmt.Sprintf("secure channel %q: %v", ch.Name, err))
			continue
		}
		report.Repaired++
	}
	return report, nil
}

// Loop runs the reconciler every interval until ctx is done.
func (r *Reconciler) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := r.Run(ctx)
			if err != nil {
				log.Printf("reconciler: scheduled pass: %v", err)
				continue
			}
			log.Printf("reconciler: audited %d channels, repaired %d, unresolved %d, failures %d",
				report.Audited, report.Repaired, len(report.Unresolved), len(report.Failures))
		}
	}
}
