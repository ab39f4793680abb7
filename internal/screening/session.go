package screening

import (
	"fmt"
	"log"
	"sync"
)

// SessionStore is the slice of the persistence gateway the session manager
// needs. The registry stays authoritative for "is a session active"; the
// store mirrors partial answers for crash recovery.
type SessionStore interface {
	AddUser(u *User) error
	StartSession(userID, campaign, firstQuestion string) (int64, error)
	// UpdateSession mirrors an answered question and the advanced pointer;
	// next is "" once the flow is complete.
	UpdateSession(userID, questionKey string, values []string, next string) error
}

// Manager owns the session registry and drives the per-user screening state
// machine. All access to the registry goes through its methods.
type Manager struct {
	survey *Survey
	store  SessionStore

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager(survey *Survey, store SessionStore) *Manager {
	return &Manager{
		survey:   survey,
		store:    store,
		sessions: map[string]*Session{},
	}
}

// Start opens a screening session for the user. If one is already active it
// is returned as-is with no side effects, so duplicate join events and
// repeated manual starts are safe. Otherwise the user row is upserted, a new
// session is persisted, and the returned session points at the first
// question. resumed reports whether an existing session was reused.
func (m *Manager) Start(userID, username, displayName, campaign string) (sess *Session, resumed bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[userID]; ok {
		return existing, true, nil
	}
	if err := m.store.AddUser(&User{ID: userID, Username: username, DisplayName: displayName, Campaign: campaign}); err != nil {
		return nil, false, fmt.Errorf("upsert user %s: %w", userID, err)
	}
	first := m.survey.FirstQuestion()
	id, err := m.store.StartSession(userID, campaign, first)
	if err != nil {
		return nil, false, fmt.Errorf("start session for %s: %w", userID, err)
	}
	sess = &Session{
		ID:       id,
		UserID:   userID,
		Campaign: campaign,
		Current:  first,
		Answers:  AnswerSet{},
	}
	m.sessions[userID] = sess
	return sess, false, nil
}

// RecordAnswer validates and stores the selected values for questionKey, then
// advances the session pointer. next is the key to deliver afterwards; done
// is true once the last question has been answered. A pointer mismatch
// returns a stale-answer error without mutating anything.
func (m *Manager) RecordAnswer(userID, questionKey string, values []string) (sess *Session, next string, done bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[userID]
	if !ok {
		return nil, "", false, NewSessionNotFoundError("no active screening session")
	}
	if questionKey != sess.Current {
		return sess, "", false, NewStaleAnswerError(fmt.Sprintf("expected answer for %q, got %q", sess.Current, questionKey))
	}
	q := m.survey.Question(questionKey)
	if q == nil {
		// Current pointer drifted outside the order; reset rather than wedge.
		sess.Current = m.survey.FirstQuestion()
		return sess, sess.Current, false, NewStaleAnswerError(fmt.Sprintf("unknown question %q, restarting", questionKey))
	}
	if len(values) == 0 {
		return sess, "", false, NewInvalidError("no option selected")
	}
	if q.Arity == AritySingle && len(values) != 1 {
		return sess, "", false, NewInvalidError(fmt.Sprintf("question %q takes exactly one answer", questionKey))
	}
	for _, v := range values {
		if !q.HasOption(v) {
			return sess, "", false, NewInvalidError(fmt.Sprintf("%q is not an option for %q", v, questionKey))
		}
	}

	sess.Answers[questionKey] = append([]string(nil), values...)
	next = m.survey.NextQuestion(questionKey)
	if err := m.store.UpdateSession(userID, questionKey, values, next); err != nil {
		// The registry copy is already updated; losing the mirror write is
		// recoverable on the next answer, so log and continue.
		log.Printf("session manager: persist answer %s/%s: %v", userID, questionKey, err)
	}
	if next == "" {
		return sess, "", true, nil
	}
	sess.Current = next
	return sess, next, false, nil
}

// Abandon drops the in-memory session. Absent sessions are a no-op; the call
// is used on fatal per-user errors and after completion.
func (m *Manager) Abandon(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

// Active returns the user's session when one is open.
func (m *Manager) Active(userID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[userID]
	return sess, ok
}

// Restore rebuilds the registry from persisted partial sessions after a
// restart. Sessions whose pointer no longer matches the survey order restart
// from the first question. Answers recorded but never persisted before a
// crash are lost; that trade-off is accepted.
func (m *Manager) Restore(sessions []*Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sess := range sessions {
		if sess == nil || sess.UserID == "" {
			continue
		}
		if m.survey.Question(sess.Current) == nil {
			sess.Current = m.survey.FirstQuestion()
		}
		if sess.Answers == nil {
			sess.Answers = AnswerSet{}
		}
		m.sessions[sess.UserID] = sess
	}
}

// Drain empties the registry and returns the sessions that were still open,
// for shutdown logging. Their partial answers are already mirrored in the
// store.
func (m *Manager) Drain() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess)
	}
	m.sessions = map[string]*Session{}
	return out
}
