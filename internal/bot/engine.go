// Package bot orchestrates the screening flow: join handling, question
// delivery with correlation tokens, answer recording, and the hand-off to
// provisioning on completion.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ruskmedia/screener/internal/platform"
	"github.com/ruskmedia/screener/internal/provision"
	"github.com/ruskmedia/screener/internal/screening"
)

// Store is the slice of the persistence gateway the engine needs beyond the
// session manager's own.
type Store interface {
	GetUser(id string) (*screening.User, error)
	FinalizeUser(id string, answers screening.AnswerSet, groups []string) error
	CompleteSession(userID string) error
}

// Member identifies a workspace member as reported by the join event.
type Member struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
}

type pendingPrompt struct {
	userID      string
	questionKey string
}

type Config struct {
	// JoinDelay softens bursts of joins before the first private message.
	JoinDelay time.Duration
	// FallbackChannel receives the retry affordance when private delivery is
	// refused.
	FallbackChannel string
	// SendAttempts bounds retries of throttled sends.
	SendAttempts int
	// RetryBackoff is the base delay between throttled retries.
	RetryBackoff time.Duration
}

type Engine struct {
	survey   *screening.Survey
	sessions *screening.Manager
	store    Store
	msg      platform.Messenger
	prov     *provision.Provisioner
	cfg      Config

	sleep func(time.Duration)

	mu        sync.Mutex
	tokens    map[string]pendingPrompt
	lastToken map[string]string // userID -> outstanding token
}

func New(survey *screening.Survey, sessions *screening.Manager, store Store, msg platform.Messenger, prov *provision.Provisioner, cfg Config) *Engine {
	if cfg.SendAttempts <= 0 {
		cfg.SendAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Engine{
		survey:    survey,
		sessions:  sessions,
		store:     store,
		msg:       msg,
		prov:      prov,
		cfg:       cfg,
		sleep:     time.Sleep,
		tokens:    map[string]pendingPrompt{},
		lastToken: map[string]string{},
	}
}

// HandleJoin starts screening for a newly joined member. Members who already
// completed screening are left alone. When private delivery is refused, a
// retry affordance is posted to the fallback channel instead.
func (e *Engine) HandleJoin(ctx context.Context, m Member) error {
	user, err := e.store.GetUser(m.ID)
	if err != nil {
		return fmt.Errorf("load user %s: %w", m.ID, err)
	}
	if user != nil && user.Completed {
		log.Printf("engine: %s already completed screening, skipping", m.ID)
		return nil
	}
	if e.cfg.JoinDelay > 0 {
		e.sleep(e.cfg.JoinDelay)
	}
	return e.StartScreening(ctx, m, "AUTO_JOIN")
}

// StartScreening opens (or resumes) the member's session and delivers its
// current question. Starting twice never creates a second session.
func (e *Engine) StartScreening(ctx context.Context, m Member, campaign string) error {
	sess, resumed, err := e.sessions.Start(m.ID, m.Username, m.DisplayName, campaign)
	if err != nil {
		return err
	}
	if resumed {
		log.Printf("engine: %s already has an active session, re-delivering %q", m.ID, sess.Current)
	}
	if err := e.deliverQuestion(ctx, m.ID, sess.Current); err != nil {
		if errors.Is(err, platform.ErrForbidden) {
			e.fallbackInvite(ctx, m)
			return nil
		}
		return err
	}
	return nil
}

func (e *Engine) fallbackInvite(ctx context.Context, m Member) {
	if e.cfg.FallbackChannel == "" {
		log.Printf("engine: cannot reach %s privately and no fallback channel is configured", m.ID)
		return
	}
	text := fmt.Sprintf("@%s Welcome! Your private messages seem disabled. Enable them for this workspace and use the start-screening trigger to begin.", m.Username)
	if err := e.msg.SendChannel(ctx, e.cfg.FallbackChannel, text); err != nil {
		log.Printf("engine: fallback invite for %s: %v", m.ID, err)
	}
}

// deliverQuestion sends the question as a prompt carrying a fresh correlation
// token. Throttled sends are retried with backoff; they are never dropped
// silently.
func (e *Engine) deliverQuestion(ctx context.Context, userID, questionKey string) error {
	q := e.survey.Question(questionKey)
	if q == nil {
		return fmt.Errorf("unknown question %q", questionKey)
	}
	prompt := platform.Prompt{
		Token:     uuid.NewString(),
		Text:      q.Prompt,
		MaxValues: 1,
	}
	if q.Arity == screening.ArityMulti {
		prompt.MaxValues = len(q.Options)
	}
	for _, o := range q.Options {
		prompt.Choices = append(prompt.Choices, platform.Choice{Label: o.Label, Value: o.Value})
	}

	e.registerToken(prompt.Token, userID, questionKey)

	var err error
	for attempt := 1; attempt <= e.cfg.SendAttempts; attempt++ {
		err = e.msg.SendPrompt(ctx, userID, prompt)
		if !errors.Is(err, platform.ErrThrottled) {
			break
		}
		log.Printf("engine: throttled sending %q to %s (attempt %d/%d)", questionKey, userID, attempt, e.cfg.SendAttempts)
		e.sleep(e.cfg.RetryBackoff * time.Duration(attempt))
	}
	if err != nil {
		e.dropToken(prompt.Token)
		return fmt.Errorf("deliver question %q to %s: %w", questionKey, userID, err)
	}
	return nil
}

func (e *Engine) registerToken(token, userID, questionKey string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if old, ok := e.lastToken[userID]; ok {
		delete(e.tokens, old)
	}
	e.tokens[token] = pendingPrompt{userID: userID, questionKey: questionKey}
	e.lastToken[userID] = token
}

func (e *Engine) dropToken(token string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.tokens[token]; ok {
		delete(e.tokens, token)
		if e.lastToken[p.userID] == token {
			delete(e.lastToken, p.userID)
		}
	}
}

func (e *Engine) resolveToken(token string) (pendingPrompt, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.tokens[token]
	return p, ok
}

// HandleSelection processes an inbound selection callback. The token maps
// back to (user, question); unknown tokens are stale retries and are ignored.
func (e *Engine) HandleSelection(ctx context.Context, token string, values []string) error {
	pending, ok := e.resolveToken(token)
	if !ok {
		log.Printf("engine: ignoring selection with unknown token %q", token)
		return nil
	}
	sess, next, done, err := e.sessions.RecordAnswer(pending.userID, pending.questionKey, values)
	switch {
	case err == nil:
	case screening.IsCode(err, screening.ErrorSessionNotFound):
		e.sendDirect(ctx, pending.userID, "No active screening session found. Use the start-screening trigger to begin again.")
		return nil
	case screening.IsCode(err, screening.ErrorStaleAnswer):
		// The stored answers are untouched; put the user back on track.
		if sess != nil {
			return e.deliverQuestion(ctx, pending.userID, sess.Current)
		}
		return nil
	case screening.IsCode(err, screening.ErrorInvalid):
		e.sendDirect(ctx, pending.userID, "That selection was not valid, please try again.")
		return e.deliverQuestion(ctx, pending.userID, pending.questionKey)
	default:
		return err
	}
	e.dropToken(token)

	if !done {
		return e.deliverQuestion(ctx, pending.userID, next)
	}
	return e.complete(ctx, pending.userID, sess)
}

// complete validates the finalized answers, folds them into the user record,
// and provisions segment access. Per-user failures stay contained here.
func (e *Engine) complete(ctx context.Context, userID string, sess *screening.Session) error {
	answers := sess.Answers.Clone()
	defer e.sessions.Abandon(userID)

	if !e.survey.ValidateAnswers(answers) {
		e.sendDirect(ctx, userID, "Screening incomplete. Use the start-screening trigger to restart.")
		return screening.NewIncompleteScreeningError(fmt.Sprintf("user %s finished with missing required answers", userID))
	}

	groups, channels := e.survey.Resolve(answers)
	if err := e.store.FinalizeUser(userID, answers, groups); err != nil {
		return fmt.Errorf("finalize user %s: %w", userID, err)
	}
	if err := e.store.CompleteSession(userID); err != nil {
		log.Printf("engine: mark session complete for %s: %v", userID, err)
	}

	if err := e.prov.EnsureBaseline(ctx, userID); err != nil {
		log.Printf("engine: %v", err)
	}
	genderKey := e.survey.Hierarchy.Dimensions[0]
	sum := e.prov.ReconcileMembership(ctx, userID, answers.First(genderKey), groups, channels)

	displayName := userID
	if user, err := e.store.GetUser(userID); err == nil && user != nil && user.DisplayName != "" {
		displayName = user.DisplayName
	}
	e.prov.Welcome(ctx, displayName, sum.Channels)

	text := "Screening complete! You now have access to your personalized channels.\n\n" + e.survey.Summary(answers)
	e.sendDirect(ctx, userID, text)

	if len(sum.Failures) > 0 {
		log.Printf("engine: provisioning for %s finished with %d failures", userID, len(sum.Failures))
	}
	return nil
}

func (e *Engine) sendDirect(ctx context.Context, userID, text string) {
	var err error
	for attempt := 1; attempt <= e.cfg.SendAttempts; attempt++ {
		err = e.msg.SendDirect(ctx, userID, text)
		if !errors.Is(err, platform.ErrThrottled) {
			break
		}
		e.sleep(e.cfg.RetryBackoff * time.Duration(attempt))
	}
	if err != nil {
		log.Printf("engine: direct message to %s: %v", userID, err)
	}
}
