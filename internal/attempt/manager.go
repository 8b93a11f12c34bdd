package attempt

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/quiztaker/internal/countdown"
	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/errors"
	"github.com/victornm/quiztaker/internal/event"
	"github.com/victornm/quiztaker/internal/gateway"
)

type ManagerConfig struct {
	Gateway       gateway.Gateway
	EventBus      *event.Bus
	Timer         countdown.Config
	SubmitTimeout time.Duration
}

// Manager keeps the live attempts, at most one per user.
type Manager struct {
	gw            gateway.Gateway
	eb            *event.Bus
	timer         countdown.Config
	submitTimeout time.Duration

	mu       sync.RWMutex
	attempts map[string]*Attempt
	byUser   map[string]string
}

func NewManager(c ManagerConfig) *Manager {
	return &Manager{
		gw:            c.Gateway,
		eb:            c.EventBus,
		timer:         c.Timer,
		submitTimeout: c.SubmitTimeout,
		attempts:      make(map[string]*Attempt),
		byUser:        make(map[string]string),
	}
}

type StartRequest struct {
	QuizCode string
	UserID   string
	Username string
}

// Start fetches the quiz for a join code and starts a new attempt for the user,
// closing the user's previous attempt if any.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*Attempt, error) {
	code := domain.NormalizeCode(req.QuizCode)
	if !domain.ValidCode(code) {
		return nil, errors.InvalidArgument("invalid quiz code %q: must be %d letters or digits", req.QuizCode, domain.CodeLength)
	}

	qw, err := m.gw.FetchQuizForTaking(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("fetch quiz %s: %w", code, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	a := New(Config{
		ID:            id.String(),
		UserID:        req.UserID,
		Username:      req.Username,
		Submitter:     m.gw,
		Timer:         m.timer,
		SubmitTimeout: m.submitTimeout,
		OnCompleted: func(trigger string, res domain.DetailedResult) {
			m.publish(domain.EventAttemptCompleted{
				AttemptID: id.String(),
				Trigger:   trigger,
				Result:    res,
			})
		},
		OnSubmitFailed: func(trigger string, err error) {
			m.publish(domain.EventAttemptSubmissionFailed{
				AttemptID: id.String(),
				Trigger:   trigger,
				Err:       err,
			})
		},
	})
	if err := a.Start(*qw); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if prev, ok := m.byUser[req.UserID]; ok {
		if p := m.attempts[prev]; p != nil {
			p.Close()
		}
		delete(m.attempts, prev)
	}
	m.attempts[a.ID()] = a
	m.byUser[req.UserID] = a.ID()
	m.mu.Unlock()

	slog.InfoContext(ctx, "attempt: started",
		"attempt_id", a.ID(),
		"user_id", req.UserID,
		"quiz_code", qw.Quiz.Code,
	)
	m.publish(domain.EventAttemptStarted{
		AttemptID: a.ID(),
		UserID:    req.UserID,
		Quiz:      qw.Quiz,
	})

	return a, nil
}

// Get returns the attempt if it belongs to the user.
func (m *Manager) Get(id, userID string) (*Attempt, error) {
	m.mu.RLock()
	a, ok := m.attempts[id]
	m.mu.RUnlock()

	if !ok || a.UserID() != userID {
		return nil, errors.NotFound("attempt not found: id=%s", id)
	}

	return a, nil
}

// Close tears down the attempt and forgets it.
func (m *Manager) Close(id, userID string) error {
	a, err := m.Get(id, userID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.attempts, id)
	if m.byUser[userID] == id {
		delete(m.byUser, userID)
	}
	m.mu.Unlock()

	a.Close()

	return nil
}

// Leaderboard returns the leaderboard of the quiz of a completed attempt.
func (m *Manager) Leaderboard(ctx context.Context, id, userID string) ([]domain.LeaderboardEntry, error) {
	a, err := m.Get(id, userID)
	if err != nil {
		return nil, err
	}

	if s := a.State(); s != StateCompleted {
		return nil, errors.NotActive("attempt %s is %s, leaderboard available after submission", id, s)
	}

	return m.gw.FetchLeaderboard(ctx, a.Quiz().Code)
}

func (m *Manager) EventBus() *event.Bus {
	return m.eb
}

// Len returns the number of live attempts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.attempts)
}

// Shutdown closes every attempt.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, a := range m.attempts {
		a.Close()
		delete(m.attempts, id)
	}
	clear(m.byUser)
}

func (m *Manager) publish(e event.Event) {
	if m.eb == nil {
		return
	}
	m.eb.Publish(context.Background(), e)
}
