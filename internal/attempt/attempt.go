// Package attempt implements a single timed pass through a quiz: navigation,
// answer selection, the countdown and submission.
package attempt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/victornm/quiztaker/internal/countdown"
	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/errors"
	"github.com/victornm/quiztaker/internal/result"
)

const (
	// Unanswered marks a question without a selection.
	Unanswered = -1
	// DefaultAnswer replaces Unanswered when answers are finalized for scoring.
	DefaultAnswer = 0

	lowTimeThreshold     = 60
	defaultSubmitTimeout = 30 * time.Second
	observerBuffer       = 8
)

type State int

const (
	StateLoading State = iota
	StateActive
	StateSubmitting
	StateCompleted
)

var stateNames = [...]string{
	StateLoading:    "loading",
	StateActive:     "active",
	StateSubmitting: "submitting",
	StateCompleted:  "completed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("attempt: unknown state %q", b)
}

// Submitter sends finalized answers to the scoring backend.
type Submitter interface {
	SubmitAttempt(ctx context.Context, sub domain.Submission) (*domain.Result, error)
}

type Config struct {
	ID        string
	UserID    string
	Username  string
	Submitter Submitter
	Timer     countdown.Config
	// SubmitTimeout bounds every gateway submission. Submissions are not
	// cancelled with the caller's context.
	SubmitTimeout time.Duration

	// OnCompleted and OnSubmitFailed are called after each submission outcome,
	// without the attempt lock held.
	OnCompleted    func(trigger string, res domain.DetailedResult)
	OnSubmitFailed func(trigger string, err error)
}

// Attempt is the state of one user taking one quiz. All methods are safe for
// concurrent use.
type Attempt struct {
	id            string
	userID        string
	username      string
	submitter     Submitter
	timerConfig   countdown.Config
	submitTimeout time.Duration
	onCompleted   func(string, domain.DetailedResult)
	onFailed      func(string, error)

	mu        sync.Mutex
	state     State
	closed    bool
	quiz      domain.QuizWithQuestions
	current   int
	selected  []int
	remaining int
	timer     *countdown.Timer
	result    *domain.DetailedResult
	observers map[chan Snapshot]struct{}
}

func New(c Config) *Attempt {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = defaultSubmitTimeout
	}

	return &Attempt{
		id:            c.ID,
		userID:        c.UserID,
		username:      c.Username,
		submitter:     c.Submitter,
		timerConfig:   c.Timer,
		submitTimeout: c.SubmitTimeout,
		onCompleted:   c.OnCompleted,
		onFailed:      c.OnSubmitFailed,
		state:         StateLoading,
		observers:     make(map[chan Snapshot]struct{}),
	}
}

func (a *Attempt) ID() string     { return a.id }
func (a *Attempt) UserID() string { return a.userID }

// Start validates the quiz and begins the countdown.
func (a *Attempt) Start(qw domain.QuizWithQuestions) error {
	if err := validateQuiz(qw); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed || a.state != StateLoading {
		return errors.NotActive("attempt %s already started", a.id)
	}

	a.quiz = domain.QuizWithQuestions{
		Quiz:      qw.Quiz,
		Questions: append([]domain.Question(nil), qw.Questions...),
	}
	a.selected = make([]int, len(qw.Questions))
	for i := range a.selected {
		a.selected[i] = Unanswered
	}
	a.current = 0
	a.remaining = qw.Quiz.TimeLimitMinutes * 60
	a.state = StateActive
	a.startTimerLocked()
	a.broadcastLocked()

	return nil
}

func validateQuiz(qw domain.QuizWithQuestions) error {
	if qw.Quiz.ID == "" {
		return errors.InvalidQuizData("quiz %q has no id", qw.Quiz.Code)
	}
	if len(qw.Questions) == 0 {
		return errors.InvalidQuizData("quiz %q has no questions", qw.Quiz.Code)
	}
	if qw.Quiz.TimeLimitMinutes <= 0 {
		return errors.InvalidQuizData("quiz %q has invalid time limit %d", qw.Quiz.Code, qw.Quiz.TimeLimitMinutes)
	}

	for i, q := range qw.Questions {
		if len(q.Options) < 2 {
			return errors.InvalidQuizData("question %d has %d options, need at least 2", i+1, len(q.Options))
		}
		if q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex >= len(q.Options) {
			return errors.InvalidQuizData("question %d has invalid correct answer index %d", i+1, q.CorrectAnswerIndex)
		}
	}

	return nil
}

// SelectAnswer records option for the current question. The last selection wins.
func (a *Attempt) SelectAnswer(option int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.editableLocked(); err != nil {
		return err
	}

	q := a.quiz.Questions[a.current]
	if option < 0 || option >= len(q.Options) {
		return errors.IndexOutOfRange("option %d out of range [0, %d)", option, len(q.Options))
	}

	a.selected[a.current] = option
	a.broadcastLocked()

	return nil
}

func (a *Attempt) GoToQuestion(i int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.editableLocked(); err != nil {
		return err
	}

	if i < 0 || i >= len(a.quiz.Questions) {
		return errors.IndexOutOfRange("question %d out of range [0, %d)", i, len(a.quiz.Questions))
	}

	a.current = i
	a.broadcastLocked()

	return nil
}

// Next moves to the following question. It is a no-op on the last question.
func (a *Attempt) Next() error {
	return a.step(1)
}

// Previous moves to the preceding question. It is a no-op on the first question.
func (a *Attempt) Previous() error {
	return a.step(-1)
}

func (a *Attempt) step(delta int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.editableLocked(); err != nil {
		return err
	}

	i := a.current + delta
	if i < 0 || i >= len(a.quiz.Questions) {
		return nil
	}

	a.current = i
	a.broadcastLocked()

	return nil
}

// Submit finalizes the answers and sends them for scoring. Unless forced, it
// refuses to submit while questions are unanswered. On failure the attempt
// returns to the active state with its selections intact.
func (a *Attempt) Submit(ctx context.Context, forced bool) (*domain.DetailedResult, error) {
	return a.submit(ctx, forced, domain.TriggerManual, nil)
}

func (a *Attempt) submit(ctx context.Context, forced bool, trigger string, from *countdown.Timer) (*domain.DetailedResult, error) {
	a.mu.Lock()

	if err := a.activeLocked(); err != nil {
		a.mu.Unlock()
		return nil, err
	}

	if from != nil && a.timer != from {
		a.mu.Unlock()
		return nil, errors.NotActive("attempt %s countdown was superseded", a.id)
	}

	if n := a.unansweredLocked(); !forced && n > 0 {
		a.mu.Unlock()
		return nil, errors.ConfirmationRequired(n)
	}

	if a.timer != nil {
		a.remaining = a.timer.Remaining()
	}
	a.stopTimerLocked()
	a.state = StateSubmitting
	sub := domain.Submission{
		UserID:   a.userID,
		Username: a.username,
		QuizID:   a.quiz.Quiz.ID,
		Answers:  finalize(a.selected),
	}
	a.broadcastLocked()
	a.mu.Unlock()

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.submitTimeout)
	raw, err := a.submitter.SubmitAttempt(sctx, sub)
	cancel()

	a.mu.Lock()
	if err != nil {
		a.state = StateActive
		if a.remaining > 0 && !a.closed {
			a.startTimerLocked()
		}
		a.broadcastLocked()
		a.mu.Unlock()

		slog.ErrorContext(ctx, "attempt: submit failed",
			"attempt_id", a.id,
			"trigger", trigger,
			"error", err,
		)
		if a.onFailed != nil {
			a.onFailed(trigger, err)
		}

		return nil, errors.SubmissionFailed(err)
	}

	dr, warn := result.Reconcile(raw, &a.quiz)
	if warn != nil {
		slog.WarnContext(ctx, "attempt: result reconciled with defaults",
			"attempt_id", a.id,
			"error", warn,
		)
	}

	a.state = StateCompleted
	a.remaining = 0
	a.result = &dr
	a.broadcastLocked()
	a.closeObserversLocked()
	a.mu.Unlock()

	slog.InfoContext(ctx, "attempt: completed",
		"attempt_id", a.id,
		"trigger", trigger,
		"score", dr.Score,
		"total_score", dr.TotalScore,
	)
	if a.onCompleted != nil {
		a.onCompleted(trigger, dr)
	}

	return &dr, nil
}

// finalize replaces unanswered slots with DefaultAnswer.
func finalize(selected []int) []int {
	answers := make([]int, len(selected))
	for i, s := range selected {
		if s == Unanswered {
			s = DefaultAnswer
		}
		answers[i] = s
	}
	return answers
}

// Close tears the attempt down. Further operations fail with NotActive.
func (a *Attempt) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return
	}

	a.closed = true
	a.stopTimerLocked()
	a.closeObserversLocked()
}

func (a *Attempt) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Attempt) Quiz() domain.Quiz {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.quiz.Quiz
}

// SelectedAnswers returns a copy of the selections, Unanswered included.
func (a *Attempt) SelectedAnswers() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]int(nil), a.selected...)
}

// Result returns the detailed result once the attempt is completed.
func (a *Attempt) Result() (*domain.DetailedResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.state != StateCompleted || a.result == nil {
		return nil, errors.NotActive("attempt %s is %s, result not available", a.id, a.state)
	}

	dr := *a.result
	return &dr, nil
}

func (a *Attempt) activeLocked() error {
	if a.closed {
		return errors.NotActive("attempt %s is closed", a.id)
	}
	if a.state != StateActive {
		return errors.NotActive("attempt %s is %s", a.id, a.state)
	}
	return nil
}

// editableLocked rejects changes once the time is up, including after a
// failed expiry submission left the attempt active for a retry.
func (a *Attempt) editableLocked() error {
	if err := a.activeLocked(); err != nil {
		return err
	}
	if a.timer == nil && a.remaining <= 0 {
		return errors.NotActive("attempt %s is out of time, submit to finish", a.id)
	}
	return nil
}

func (a *Attempt) unansweredLocked() int {
	n := 0
	for _, s := range a.selected {
		if s == Unanswered {
			n++
		}
	}
	return n
}

func (a *Attempt) startTimerLocked() {
	var t *countdown.Timer
	t = countdown.Start(a.remaining, a.timerConfig,
		func(remaining int) {
			a.mu.Lock()
			defer a.mu.Unlock()

			if a.timer != t || a.state != StateActive || a.closed {
				return
			}

			a.remaining = remaining
			a.broadcastLocked()
		},
		func() {
			a.mu.Lock()
			current := a.timer == t && a.state == StateActive && !a.closed
			a.mu.Unlock()
			if !current {
				return
			}

			ctx := context.Background()
			slog.InfoContext(ctx, "attempt: time is up, submitting", "attempt_id", a.id)
			// Failures are reported through OnSubmitFailed and the snapshot stream.
			_, _ = a.submit(ctx, true, domain.TriggerExpired, t)
		},
	)
	a.timer = t
}

func (a *Attempt) stopTimerLocked() {
	if a.timer == nil {
		return
	}
	a.timer.Stop()
	a.timer = nil
}
