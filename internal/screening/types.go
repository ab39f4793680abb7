package screening

import "time"

// AnswerSet maps a question key to the selected option values. Single-select
// questions carry exactly one value, multi-select one or more.
type AnswerSet map[string][]string

// First returns the sole value of a single-select dimension, or "" when the
// dimension is absent.
func (a AnswerSet) First(key string) string {
	if vs := a[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Clone returns a deep copy so callers can hold answers across session teardown.
func (a AnswerSet) Clone() AnswerSet {
	out := make(AnswerSet, len(a))
	for k, vs := range a {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

type Option struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

type Arity string

const (
	AritySingle Arity = "single"
	ArityMulti  Arity = "multi"
)

type Question struct {
	Key     string   `yaml:"key" json:"key"`
	Prompt  string   `yaml:"prompt" json:"prompt"`
	Options []Option `yaml:"options" json:"options"`
	Arity   Arity    `yaml:"arity" json:"arity"`
}

// HasOption reports whether value is one of the question's option values.
func (q *Question) HasOption(value string) bool {
	for _, o := range q.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// User mirrors the users table. Created on first contact, mutated on each
// completed screening, never deleted by this service.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	DisplayName   string    `json:"display_name"`
	Campaign      string    `json:"campaign,omitempty"`
	Completed     bool      `json:"screening_completed"`
	Answers       AnswerSet `json:"screening_data,omitempty"`
	GrantedGroups []string  `json:"groups_assigned,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Session is the ephemeral per-user workflow instance. At most one is active
// per user; it is removed once its answers fold into the User row.
type Session struct {
	ID       int64
	UserID   string
	Campaign string
	Current  string
	Answers  AnswerSet
}

type Campaign struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	InviteLink  string `json:"invite_link,omitempty"`
	Active      bool   `json:"active"`
}

// Stats is the aggregate report served to administrators.
type Stats struct {
	TotalUsers     int            `json:"total_users"`
	CompletedCount int            `json:"completed_count"`
	ByCampaign     map[string]int `json:"by_campaign,omitempty"`
}
