package screening

import (
	"fmt"
	"strings"
)

// Resolve maps a finalized answer set into index-aligned hierarchical group
// and channel names. It is pure: no side effects, no errors. Two answer sets
// agreeing on every hierarchy dimension produce identical names.
//
// Each fan-out dimension contributes one key per selected value; an empty
// fan-out dimension therefore yields empty lists, which is a valid "no
// segment" outcome distinct from a validation failure.
func (s *Survey) Resolve(answers AnswerSet) (groups, channels []string) {
	combos := [][]string{{}}
	for _, dim := range s.Hierarchy.Dimensions {
		var values []string
		if s.isFanOut(dim) {
			values = append([]string(nil), answers[dim]...)
		} else if v := answers.First(dim); v != "" {
			values = []string{v}
		}
		if dim == s.TierDimension {
			for i, v := range values {
				values[i] = s.TierFor(v)
			}
		}
		if len(values) == 0 {
			return nil, nil
		}
		next := make([][]string, 0, len(combos)*len(values))
		for _, c := range combos {
			for _, v := range values {
				combo := append(append([]string(nil), c...), v)
				next = append(next, combo)
			}
		}
		combos = next
	}
	for _, c := range combos {
		name := strings.Join(c, s.Hierarchy.Delimiter)
		groups = append(groups, name)
		channels = append(channels, name)
	}
	return groups, channels
}

// IsHierarchical reports whether name structurally matches the hierarchy
// pattern: one segment per dimension, so delimiter count is len(dimensions)-1
// or more.
func (s *Survey) IsHierarchical(name string) bool {
	if len(s.Hierarchy.Dimensions) < 2 {
		return false
	}
	return strings.Count(name, s.Hierarchy.Delimiter) >= len(s.Hierarchy.Dimensions)-1
}

// Summary renders a human-readable profile of a finalized answer set, used in
// the completion message and the admin diagnostic.
func (s *Survey) Summary(answers AnswerSet) string {
	var parts []string
	for i := range s.Questions {
		q := &s.Questions[i]
		values := answers[q.Key]
		if len(values) == 0 {
			continue
		}
		var labels []string
		for _, v := range values {
			label := v
			for _, o := range q.Options {
				if o.Value == v {
					label = o.Label
					break
				}
			}
			labels = append(labels, label)
		}
		parts = append(parts, fmt.Sprintf("%s: %s", q.Prompt, strings.Join(labels, ", ")))
	}
	return strings.Join(parts, "\n")
}
