// Package db is the SQLite persistence gateway: users, screening sessions,
// and campaigns, with JSON-encoded answer maps and group lists.
package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ruskmedia/screener/internal/screening"
)

type Store struct {
	db *sql.DB
}

func NewStore(sqlDB *sql.DB) (*Store, error) {
	if sqlDB == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := sqlDB.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &Store{db: sqlDB}, nil
}

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func encodeJSON(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeAnswers(ns sql.NullString) screening.AnswerSet {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var out screening.AnswerSet
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}

func decodeStrings(ns sql.NullString) []string {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}

// AddUser upserts the identity columns. Screening data and granted groups are
// untouched so a re-screening start never wipes the previous outcome.
func (s *Store) AddUser(u *screening.User) error {
	if u == nil || u.ID == "" {
		return errors.New("user id required")
	}
	_, err := s.db.Exec(`
		INSERT INTO users (user_id, username, display_name, campaign)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			display_name = excluded.display_name,
			campaign = COALESCE(excluded.campaign, users.campaign),
			updated_at = CURRENT_TIMESTAMP`,
		u.ID, u.Username, u.DisplayName, toNullString(u.Campaign))
	if err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

// GetUser returns nil without error when the user is unknown.
func (s *Store) GetUser(id string) (*screening.User, error) {
	row := s.db.QueryRow(`
		SELECT user_id, username, display_name, campaign, screening_completed,
		       screening_data, groups_assigned, created_at, updated_at
		FROM users WHERE user_id = ?`, id)
	var (
		u                 screening.User
		campaign, answers sql.NullString
		groups            sql.NullString
		completed         int64
		created, updated  time.Time
	)
	err := row.Scan(&u.ID, &u.Username, &u.DisplayName, &campaign, &completed,
		&answers, &groups, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	u.Campaign = campaign.String
	u.Completed = completed != 0
	u.Answers = decodeAnswers(answers)
	u.GrantedGroups = decodeStrings(groups)
	u.CreatedAt = created
	u.UpdatedAt = updated
	return &u, nil
}

// FinalizeUser folds a completed screening into the user row.
func (s *Store) FinalizeUser(id string, answers screening.AnswerSet, groups []string) error {
	answersJSON, err := encodeJSON(answers)
	if err != nil {
		return fmt.Errorf("encode answers for %s: %w", id, err)
	}
	groupsJSON, err := encodeJSON(groups)
	if err != nil {
		return fmt.Errorf("encode groups for %s: %w", id, err)
	}
	res, err := s.db.Exec(`
		UPDATE users
		SET screening_data = ?, groups_assigned = ?, screening_completed = 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE user_id = ?`, answersJSON, groupsJSON, id)
	if err != nil {
		return fmt.Errorf("finalize user %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finalize user %s: no such user", id)
	}
	return nil
}

// StartSession opens a new persisted session pointing at the first question.
func (s *Store) StartSession(userID, campaign, firstQuestion string) (int64, error) {
	res, err := s.db.Exec(`
		INSERT INTO screening_sessions (user_id, campaign, current_question, answers)
		VALUES (?, ?, ?, '{}')`, userID, toNullString(campaign), firstQuestion)
	if err != nil {
		return 0, fmt.Errorf("start session for %s: %w", userID, err)
	}
	return res.LastInsertId()
}

// UpdateSession merges the answered values into the latest open session and
// advances its pointer to next.
func (s *Store) UpdateSession(userID, questionKey string, values []string, next string) error {
	row := s.db.QueryRow(`
		SELECT id, answers FROM screening_sessions
		WHERE user_id = ? AND is_completed = 0
		ORDER BY created_at DESC, id DESC LIMIT 1`, userID)
	var (
		id      int64
		answers sql.NullString
	)
	if err := row.Scan(&id, &answers); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no open session for %s", userID)
		}
		return fmt.Errorf("load session for %s: %w", userID, err)
	}
	merged := decodeAnswers(answers)
	if merged == nil {
		merged = screening.AnswerSet{}
	}
	merged[questionKey] = values
	mergedJSON, err := encodeJSON(merged)
	if err != nil {
		return fmt.Errorf("encode session answers for %s: %w", userID, err)
	}
	if _, err := s.db.Exec(`
		UPDATE screening_sessions SET answers = ?, current_question = ?
		WHERE id = ?`, mergedJSON, next, id); err != nil {
		return fmt.Errorf("update session for %s: %w", userID, err)
	}
	return nil
}

// CompleteSession marks the user's open sessions completed.
func (s *Store) CompleteSession(userID string) error {
	if _, err := s.db.Exec(`
		UPDATE screening_sessions SET is_completed = 1
		WHERE user_id = ? AND is_completed = 0`, userID); err != nil {
		return fmt.Errorf("complete session for %s: %w", userID, err)
	}
	return nil
}

// ListActiveSessions returns open sessions for restart recovery. Sessions
// whose pointer has already run past the last question are skipped; their
// completion was interrupted and the user restarts instead.
func (s *Store) ListActiveSessions() ([]*screening.Session, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, campaign, current_question, answers
		FROM screening_sessions WHERE is_completed = 0
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}
	defer rows.Close()
	var out []*screening.Session
	for rows.Next() {
		var (
			sess     screening.Session
			campaign sql.NullString
			answers  sql.NullString
		)
		if err := rows.Scan(&sess.ID, &sess.UserID, &campaign, &sess.Current, &answers); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		if sess.Current == "" {
			continue
		}
		sess.Campaign = campaign.String
		sess.Answers = decodeAnswers(answers)
		if sess.Answers == nil {
			sess.Answers = screening.AnswerSet{}
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// AddCampaign upserts a campaign by unique name.
func (s *Store) AddCampaign(c *screening.Campaign) error {
	if c == nil || c.Name == "" {
		return errors.New("campaign name required")
	}
	_, err := s.db.Exec(`
		INSERT INTO campaigns (name, description, invite_link, is_active)
		VALUES (?, ?, ?, 1)
		ON CONFLICT(name) DO UPDATE SET
			description = excluded.description,
			invite_link = excluded.invite_link,
			is_active = 1`,
		c.Name, toNullString(c.Description), toNullString(c.InviteLink))
	if err != nil {
		return fmt.Errorf("upsert campaign %s: %w", c.Name, err)
	}
	return nil
}

// ListCampaigns returns the active campaigns.
func (s *Store) ListCampaigns() ([]*screening.Campaign, error) {
	rows, err := s.db.Query(`
		SELECT name, description, invite_link FROM campaigns
		WHERE is_active = 1 ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()
	var out []*screening.Campaign
	for rows.Next() {
		var (
			c          screening.Campaign
			desc, link sql.NullString
		)
		if err := rows.Scan(&c.Name, &desc, &link); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		c.Description = desc.String
		c.InviteLink = link.String
		c.Active = true
		out = append(out, &c)
	}
	return out, rows.Err()
}

// Stats aggregates user counts by completion and campaign.
func (s *Store) Stats() (*screening.Stats, error) {
	stats := &screening.Stats{ByCampaign: map[string]int{}}
	row := s.db.QueryRow(`
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN screening_completed = 1 THEN 1 ELSE 0 END), 0)
		FROM users`)
	if err := row.Scan(&stats.TotalUsers, &stats.CompletedCount); err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	rows, err := s.db.Query(`
		SELECT campaign, COUNT(*) FROM users
		WHERE campaign IS NOT NULL GROUP BY campaign`)
	if err != nil {
		return nil, fmt.Errorf("count by campaign: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			campaign string
			count    int
		)
		if err := rows.Scan(&campaign, &count); err != nil {
			return nil, fmt.Errorf("scan campaign count: %w", err)
		}
		stats.ByCampaign[campaign] = count
	}
	return stats, rows.Err()
}
