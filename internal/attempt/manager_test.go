package attempt_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quiztaker/internal/attempt"
	"github.com/victornm/quiztaker/internal/countdown/countdowntest"
	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/errors"
	"github.com/victornm/quiztaker/internal/event"
)

func TestManager_Start(t *testing.T) {
	tests := map[string]struct {
		code   string
		assert func(t *testing.T, a *attempt.Attempt, err error)
	}{
		"lowercase code with spaces should be normalized": {
			code: "  abc123 ",
			assert: func(t *testing.T, a *attempt.Attempt, err error) {
				require.NoError(t, err)
				assert.Equal(t, "ABC123", a.Quiz().Code)
				assert.Equal(t, attempt.StateActive, a.State())
				assert.NotEmpty(t, a.ID())
			},
		},

		"malformed code should be rejected": {
			code: "AB-12",
			assert: func(t *testing.T, _ *attempt.Attempt, err error) {
				require.Error(t, err)
				assert.Equal(t, errors.CodeInvalidArgument, errors.Convert(err).Code)
			},
		},

		"unknown code should be not found": {
			code: "ZZZ999",
			assert: func(t *testing.T, _ *attempt.Attempt, err error) {
				require.Error(t, err)
				assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			m, _, _ := makeManager(t, newQuiz(1, 0, 1))

			a, err := m.Start(context.Background(), attempt.StartRequest{
				QuizCode: tt.code,
				UserID:   "u1",
				Username: "alice",
			})

			tt.assert(t, a, err)
		})
	}
}

func TestManager_StartRejectsInvalidQuiz(t *testing.T) {
	qw := newQuiz(1)
	m, _, _ := makeManager(t, qw)

	_, err := m.Start(context.Background(), attempt.StartRequest{QuizCode: "ABC123", UserID: "u1"})

	assert.ErrorIs(t, err, errors.ErrInvalidQuizData)
	assert.Zero(t, m.Len())
}

func TestManager_OneAttemptPerUser(t *testing.T) {
	m, _, _ := makeManager(t, newQuiz(1, 0, 1))
	ctx := context.Background()

	first, err := m.Start(ctx, attempt.StartRequest{QuizCode: "ABC123", UserID: "u1"})
	require.NoError(t, err)
	second, err := m.Start(ctx, attempt.StartRequest{QuizCode: "ABC123", UserID: "u1"})
	require.NoError(t, err)
	other, err := m.Start(ctx, attempt.StartRequest{QuizCode: "ABC123", UserID: "u2"})
	require.NoError(t, err)

	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, 2, m.Len())

	assert.ErrorIs(t, first.SelectAnswer(0), errors.ErrNotActive, "replaced attempt should be closed")
	_, err = m.Get(first.ID(), "u1")
	assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code)

	got, err := m.Get(second.ID(), "u1")
	require.NoError(t, err)
	assert.Same(t, second, got)

	_, err = m.Get(other.ID(), "u1")
	assert.Equal(t, errors.CodeNotFound, errors.Convert(err).Code, "attempts of other users should be hidden")

	require.NoError(t, m.Close(second.ID(), "u1"))
	assert.Equal(t, 1, m.Len())
	assert.ErrorIs(t, second.Next(), errors.ErrNotActive)

	m.Shutdown()
	assert.Zero(t, m.Len())
	assert.ErrorIs(t, other.Next(), errors.ErrNotActive)
}

func TestManager_Leaderboard(t *testing.T) {
	m, gw, _ := makeManager(t, newQuiz(1, 0))
	gw.board = []domain.LeaderboardEntry{{UserID: "u1", Username: "alice", Score: 1, TotalScore: 1, Percentage: 100}}
	ctx := context.Background()

	a, err := m.Start(ctx, attempt.StartRequest{QuizCode: "ABC123", UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	_, err = m.Leaderboard(ctx, a.ID(), "u1")
	assert.ErrorIs(t, err, errors.ErrNotActive)

	_, err = a.Submit(ctx, true)
	require.NoError(t, err)

	entries, err := m.Leaderboard(ctx, a.ID(), "u1")
	require.NoError(t, err)
	assert.Equal(t, gw.board, entries)
	assert.Equal(t, "ABC123", gw.boardCode)
}

func TestManager_PublishesLifecycleEvents(t *testing.T) {
	m, gw, clock := makeManager(t, newQuiz(1, 0, 1))
	ctx := context.Background()

	var (
		mu       sync.Mutex
		received []event.Event
	)
	record := func(_ context.Context, e event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, e)
		return nil
	}
	for _, name := range []string{
		domain.EventNameAttemptStarted,
		domain.EventNameAttemptCompleted,
		domain.EventNameAttemptSubmissionFailed,
	} {
		m.EventBus().Subscribe(name, record)
	}

	a, err := m.Start(ctx, attempt.StartRequest{QuizCode: "ABC123", UserID: "u1", Username: "alice"})
	require.NoError(t, err)

	gw.setErr(assert.AnError)
	_, err = a.Submit(ctx, true)
	require.ErrorIs(t, err, errors.ErrSubmissionFailed)

	gw.setErr(nil)
	require.True(t, clock.Tick(time.Minute))
	require.Eventually(t, func() bool { return a.State() == attempt.StateCompleted }, time.Second, 5*time.Millisecond)

	m.EventBus().Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 3)

	byName := make(map[string]event.Event)
	for _, e := range received {
		byName[e.Name()] = e
	}

	started := byName[domain.EventNameAttemptStarted].(domain.EventAttemptStarted)
	assert.Equal(t, a.ID(), started.AttemptID)
	assert.Equal(t, "u1", started.UserID)

	failed := byName[domain.EventNameAttemptSubmissionFailed].(domain.EventAttemptSubmissionFailed)
	assert.Equal(t, domain.TriggerManual, failed.Trigger)
	assert.ErrorIs(t, failed.Err, assert.AnError)

	completed := byName[domain.EventNameAttemptCompleted].(domain.EventAttemptCompleted)
	assert.Equal(t, domain.TriggerExpired, completed.Trigger)
	assert.Equal(t, []bool{true, false}, completed.Result.AnsweredCorrectly)
}

func makeManager(t *testing.T, qw domain.QuizWithQuestions) (*attempt.Manager, *fakeGateway, *countdowntest.Clock) {
	t.Helper()

	clock := countdowntest.NewClock(epoch)
	gw := &fakeGateway{fakeSubmitter: fakeSubmitter{quiz: qw}}
	m := attempt.NewManager(attempt.ManagerConfig{
		Gateway:       gw,
		EventBus:      event.NewBus(),
		Timer:         clock.Config(),
		SubmitTimeout: time.Second,
	})
	t.Cleanup(m.Shutdown)

	return m, gw, clock
}

type fakeGateway struct {
	fakeSubmitter

	board     []domain.LeaderboardEntry
	boardCode string
}

func (f *fakeGateway) FetchQuizForTaking(_ context.Context, code string) (*domain.QuizWithQuestions, error) {
	if code != f.quiz.Quiz.Code {
		return nil, errors.NotFound("quiz not found: code=%s", code)
	}

	qw := f.quiz
	return &qw, nil
}

func (f *fakeGateway) FetchLeaderboard(_ context.Context, code string) ([]domain.LeaderboardEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.boardCode = code
	return f.board, nil
}
