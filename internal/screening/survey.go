package screening

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Hierarchy describes how a finalized answer set maps into the hierarchical
// group/channel namespace. Dimensions are joined in order with Delimiter; the
// dimensions listed in FanOut may contribute several values each, producing
// one key per combination.
type Hierarchy struct {
	Dimensions []string `yaml:"dimensions"`
	FanOut     []string `yaml:"fan_out"`
	Delimiter  string   `yaml:"delimiter"`
}

// CityTiers maps raw city/locale answer values to a tier bucket. Unrecognized
// input resolves to Fallback, never to an error.
type CityTiers struct {
	Lookup   map[string]string `yaml:"lookup"`
	Fallback string            `yaml:"fallback"`
}

// Survey is the fixed, configuration-like definition of the screening flow.
// It is loaded once at startup and never mutated at runtime.
type Survey struct {
	Questions     []Question `yaml:"questions"`
	Required      []string   `yaml:"required"`
	Hierarchy     Hierarchy  `yaml:"hierarchy"`
	CityTiers     CityTiers  `yaml:"city_tiers"`
	TierDimension string     `yaml:"tier_dimension"`
	BaselineGroup string     `yaml:"baseline_group"`
	Campaigns     []string   `yaml:"campaigns"`
}

// ParseSurvey decodes and validates a YAML survey definition.
func ParseSurvey(data []byte) (*Survey, error) {
	var s Survey
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse survey: %w", err)
	}
	if len(s.Questions) == 0 {
		return nil, fmt.Errorf("survey defines no questions")
	}
	seen := map[string]bool{}
	for i := range s.Questions {
		q := &s.Questions[i]
		if q.Key == "" {
			return nil, fmt.Errorf("question %d has no key", i)
		}
		if seen[q.Key] {
			return nil, fmt.Errorf("duplicate question key %q", q.Key)
		}
		seen[q.Key] = true
		if len(q.Options) == 0 {
			return nil, fmt.Errorf("question %q has no options", q.Key)
		}
		switch q.Arity {
		case AritySingle, ArityMulti:
		case "":
			q.Arity = AritySingle
		default:
			return nil, fmt.Errorf("question %q: unknown arity %q", q.Key, q.Arity)
		}
	}
	for _, dim := range s.Hierarchy.Dimensions {
		if !seen[dim] {
			return nil, fmt.Errorf("hierarchy dimension %q is not a question", dim)
		}
	}
	if s.Hierarchy.Delimiter == "" {
		s.Hierarchy.Delimiter = "-"
	}
	if s.CityTiers.Fallback == "" && len(s.CityTiers.Lookup) > 0 {
		return nil, fmt.Errorf("city tier lookup requires a fallback bucket")
	}
	return &s, nil
}

// FirstQuestion returns the key opening the flow.
func (s *Survey) FirstQuestion() string { return s.Questions[0].Key }

// Question returns the definition for key, or nil when unknown.
func (s *Survey) Question(key string) *Question {
	for i := range s.Questions {
		if s.Questions[i].Key == key {
			return &s.Questions[i]
		}
	}
	return nil
}

// NextQuestion is the total next-question function over the fixed order. The
// key after the last question is "" (flow complete); a key not in the order
// resets to the first question so stale correlation tokens recover.
func (s *Survey) NextQuestion(current string) string {
	for i := range s.Questions {
		if s.Questions[i].Key == current {
			if i+1 < len(s.Questions) {
				return s.Questions[i+1].Key
			}
			return ""
		}
	}
	return s.FirstQuestion()
}

// ValidateAnswers reports whether every required dimension is present and
// non-empty. It is checked before resolution, not inside it.
func (s *Survey) ValidateAnswers(answers AnswerSet) bool {
	for _, key := range s.Required {
		if len(answers[key]) == 0 {
			return false
		}
	}
	return true
}

// TierFor resolves a raw city/locale value through the tier lookup. Values
// already naming a tier bucket pass through; anything unrecognized maps to
// the fallback bucket.
func (s *Survey) TierFor(raw string) string {
	if tier, ok := s.CityTiers.Lookup[raw]; ok {
		return tier
	}
	for _, tier := range s.CityTiers.Lookup {
		if tier == raw {
			return raw
		}
	}
	if s.CityTiers.Fallback != "" {
		return s.CityTiers.Fallback
	}
	return raw
}

func (s *Survey) isFanOut(dim string) bool {
	for _, d := range s.Hierarchy.FanOut {
		if d == dim {
			return true
		}
	}
	return false
}
