package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quiztaker/internal/api"
	"github.com/victornm/quiztaker/internal/attempt"
	"github.com/victornm/quiztaker/internal/countdown/countdowntest"
	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/errors"
	"github.com/victornm/quiztaker/internal/event"
	"github.com/victornm/quiztaker/internal/gateway"
	"github.com/victornm/quiztaker/internal/quiz"
	"github.com/victornm/quiztaker/internal/score"
)

const secret = "test-secret"

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAuth(t *testing.T) {
	env := newEnv(t)

	other, err := api.NewAuthenticator("another-secret").Sign("u1", "alice", time.Hour)
	require.NoError(t, err)
	expired, err := env.auth.Sign("u1", "alice", -time.Hour)
	require.NoError(t, err)

	tests := map[string]struct {
		target     string
		token      string
		wantStatus int
	}{
		"missing token should be unauthenticated": {
			target:     "/attempts/unknown",
			wantStatus: http.StatusUnauthorized,
		},
		"token signed with another secret should be unauthenticated": {
			target:     "/attempts/unknown",
			token:      other,
			wantStatus: http.StatusUnauthorized,
		},
		"expired token should be unauthenticated": {
			target:     "/attempts/unknown",
			token:      expired,
			wantStatus: http.StatusUnauthorized,
		},
		"valid token should pass": {
			target:     "/attempts/unknown",
			token:      env.token(t, "u1"),
			wantStatus: http.StatusNotFound,
		},
		"token in query should pass": {
			target:     "/attempts/unknown?token=" + env.token(t, "u1"),
			wantStatus: http.StatusNotFound,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, tt.target, tt.token, nil)
			assert.Equal(t, tt.wantStatus, resp.Code)
			assert.NotEmpty(t, decode[map[string]string](t, resp)["error"])
		})
	}
}

func TestAttemptFlow(t *testing.T) {
	env := newEnv(t)
	alice := env.token(t, "u1")

	resp := env.do(t, http.MethodPost, "/attempts", alice, map[string]any{"quizCode": " abc123 "})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	assert.NotContains(t, resp.Body.String(), "correctAnswerIndex", "answers must not leak before submission")

	snap := decode[attempt.Snapshot](t, resp)
	assert.Equal(t, attempt.StateActive, snap.State)
	assert.Equal(t, "ABC123", snap.QuizCode)
	assert.Equal(t, 2, snap.TotalQuestions)
	assert.Equal(t, 120, snap.RemainingSeconds)
	id := snap.ID

	resp = env.do(t, http.MethodPut, "/attempts/"+id+"/answer", alice, map[string]any{"option": 1})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	assert.Equal(t, 1, decode[attempt.Snapshot](t, resp).SelectedAnswer)

	resp = env.do(t, http.MethodPut, "/attempts/"+id+"/answer", alice, map[string]any{"option": 9})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(t, http.MethodPut, "/attempts/"+id+"/answer", alice, map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(t, http.MethodPost, "/attempts/"+id+"/navigate", alice, map[string]any{"index": 2})
	assert.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.do(t, http.MethodPost, "/attempts/"+id+"/next", alice, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 1, decode[attempt.Snapshot](t, resp).CurrentIndex)

	resp = env.do(t, http.MethodPost, "/attempts/"+id+"/previous", alice, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 0, decode[attempt.Snapshot](t, resp).CurrentIndex)

	resp = env.do(t, http.MethodGet, "/attempts/"+id+"/result", alice, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = env.do(t, http.MethodPost, "/attempts/"+id+"/submit", alice, nil)
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "1 unanswered question(s), confirm to submit", decode[map[string]string](t, resp)["error"])

	resp = env.do(t, http.MethodGet, "/attempts/"+id, env.token(t, "u2"), nil)
	assert.Equal(t, http.StatusNotFound, resp.Code, "attempts of other users should be hidden")

	resp = env.do(t, http.MethodPost, "/attempts/"+id+"/submit", alice, map[string]any{"confirm": true})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	dr := decode[domain.DetailedResult](t, resp)
	assert.Equal(t, []int{1, 0}, dr.Answers)
	assert.Equal(t, []bool{true, false}, dr.AnsweredCorrectly)
	assert.Equal(t, 50.0, dr.Percentage)
	assert.Equal(t, "u1", env.score.last().UserID)
	assert.Equal(t, "alice-u1", env.score.last().Username)

	resp = env.do(t, http.MethodGet, "/attempts/"+id+"/result", alice, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, dr.AnsweredCorrectly, decode[domain.DetailedResult](t, resp).AnsweredCorrectly)

	resp = env.do(t, http.MethodGet, "/attempts/"+id+"/leaderboard", alice, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Len(t, decode[[]domain.LeaderboardEntry](t, resp), 1)

	resp = env.do(t, http.MethodPost, "/attempts/"+id+"/next", alice, nil)
	assert.Equal(t, http.StatusConflict, resp.Code)

	resp = env.do(t, http.MethodDelete, "/attempts/"+id, alice, nil)
	assert.Equal(t, http.StatusNoContent, resp.Code)
	resp = env.do(t, http.MethodGet, "/attempts/"+id, alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestStartAttempt(t *testing.T) {
	env := newEnv(t)

	tests := map[string]struct {
		body       any
		wantStatus int
	}{
		"missing code should be rejected":   {body: map[string]any{}, wantStatus: http.StatusBadRequest},
		"malformed code should be rejected": {body: map[string]any{"quizCode": "abc"}, wantStatus: http.StatusBadRequest},
		"unknown code should be not found":  {body: map[string]any{"quizCode": "ZZZ999"}, wantStatus: http.StatusNotFound},
		"broken quiz should be rejected":    {body: map[string]any{"quizCode": "EMPTY1"}, wantStatus: http.StatusBadRequest},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/attempts", env.token(t, "u1"), tt.body)
			assert.Equal(t, tt.wantStatus, resp.Code, resp.Body.String())
		})
	}
}

func TestSubmitFailureIsRecoverable(t *testing.T) {
	env := newEnv(t)
	alice := env.token(t, "u1")

	resp := env.do(t, http.MethodPost, "/attempts", alice, map[string]any{"quizCode": "ABC123"})
	require.Equal(t, http.StatusCreated, resp.Code)
	id := decode[attempt.Snapshot](t, resp).ID

	env.score.setErr(errors.New(errors.CodeUnavailable, errors.WithMessagef("database is down")))
	resp = env.do(t, http.MethodPost, "/attempts/"+id+"/submit", alice, map[string]any{"confirm": true})
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	assert.Equal(t, "submit attempt failed, please retry", decode[map[string]string](t, resp)["error"])

	resp = env.do(t, http.MethodGet, "/attempts/"+id, alice, nil)
	assert.Equal(t, attempt.StateActive, decode[attempt.Snapshot](t, resp).State)

	env.score.setErr(nil)
	resp = env.do(t, http.MethodPost, "/attempts/"+id+"/submit", alice, map[string]any{"confirm": true})
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestBackendRoutes(t *testing.T) {
	env := newEnv(t)
	alice := env.token(t, "u1")

	t.Run("create quiz should be hosted by the caller", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/quizzes", alice, map[string]any{
			"quiz":      map[string]any{"title": "Planets", "timeLimit": 3},
			"questions": []map[string]any{{"questionText": "Largest planet?", "options": []string{"Mars", "Jupiter"}, "correctAnswerIndex": 1}},
		})
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())

		qw := decode[domain.QuizWithQuestions](t, resp)
		assert.Equal(t, "u1", qw.Quiz.HostedBy)
		assert.Equal(t, 3, qw.Quiz.TimeLimitMinutes)
		assert.Equal(t, "Largest planet?", qw.Questions[0].Text)
	})

	t.Run("create quiz without a token should be unauthenticated", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/quizzes", "", map[string]any{})
		assert.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("get quiz should be public", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/quizzes/abc123", "", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "Capitals", decode[domain.QuizWithQuestions](t, resp).Quiz.Title)
	})

	t.Run("search should pass query parameters", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/quizzes?q=cap&category=Geography&sort_by=title&order=asc&limit=5&page=2", "", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, domain.SearchRequest{
			Query: "cap", Category: "Geography", SortBy: "title", Order: "asc", Limit: 5, Page: 2,
		}, env.quiz.lastSearch)
	})

	t.Run("search with a malformed limit should be rejected", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/quizzes?limit=ten", "", nil)
		assert.Equal(t, http.StatusBadRequest, resp.Code)
	})

	t.Run("submit should be recorded for the caller", func(t *testing.T) {
		resp := env.do(t, http.MethodPost, "/quizzes/submit", alice, domain.Submission{
			UserID: "someone-else", QuizID: "quiz-1", Answers: []int{1, 1},
		})
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
		assert.Equal(t, "u1", decode[domain.Result](t, resp).UserID)
	})

	t.Run("leaderboard should be a list of entries", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/quizzes/ABC123/leaderboard", "", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.NotNil(t, decode[[]domain.LeaderboardEntry](t, resp))
	})

	t.Run("stats should be of the caller", func(t *testing.T) {
		resp := env.do(t, http.MethodGet, "/users/stats", alice, nil)
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, 7, decode[domain.UserStats](t, resp).TotalQuizzesTaken)
	})
}

func TestRemoteModeServesOnlyAttempts(t *testing.T) {
	r := gin.New()
	api.New(api.Config{
		Router:   r,
		EventBus: event.NewBus(),
		Auth:     api.NewAuthenticator(secret),
		Attempts: attempt.NewManager(attempt.ManagerConfig{Gateway: gateway.NewHTTP(gateway.HTTPConfig{BaseURL: "http://127.0.0.1:1"})}),
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/quizzes/ABC123", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStreamAttempt(t *testing.T) {
	env := newEnv(t)
	alice := env.token(t, "u1")

	resp := env.do(t, http.MethodPost, "/attempts", alice, map[string]any{"quizCode": "ABC123"})
	require.Equal(t, http.StatusCreated, resp.Code)
	id := decode[attempt.Snapshot](t, resp).ID

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/attempts/" + id + "/ws?token=" + alice
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type message struct {
		Type    string           `json:"type"`
		Payload attempt.Snapshot `json:"payload"`
	}

	var first message
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, 120, first.Payload.RemainingSeconds)

	require.True(t, env.clock.Tick(time.Second))

	var tick message
	require.NoError(t, conn.ReadJSON(&tick))
	assert.Equal(t, 119, tick.Payload.RemainingSeconds)

	// Let the countdown run out; the stream ends with the completed attempt.
	require.True(t, env.clock.Tick(2*time.Minute))

	var last message
	for {
		var m message
		if err := conn.ReadJSON(&m); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			break
		}
		last = m
	}
	assert.Equal(t, attempt.StateCompleted, last.Payload.State)
	require.NotNil(t, last.Payload.Result)
	assert.Equal(t, []int{0, 0}, last.Payload.Result.Answers)
}

func TestPublishLeaderboardUpdated(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{rs.Addr()}})

	sub := rc.Subscribe(ctx, "quiztaker:user:u1", "quiztaker:user:u2")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	a := api.New(api.Config{
		Router:       gin.New(),
		EventBus:     event.NewBus(),
		Auth:         api.NewAuthenticator(secret),
		Redis:        rc,
		PubsubPrefix: "quiztaker",
	})

	lb := domain.Leaderboard{
		QuizCode: "ABC123",
		Entries: []domain.LeaderboardEntry{
			{UserID: "u1", Username: "alice", Score: 2, TotalScore: 2, Percentage: 100},
			{UserID: "u2", Username: "bob", Score: 1, TotalScore: 2, Percentage: 50},
		},
	}
	require.NoError(t, a.PublishLeaderboardUpdated(ctx, domain.EventLeaderboardUpdated{Leaderboard: lb}))

	channels := map[string]bool{}
	for i := 0; i < 2; i++ {
		msg, err := sub.ReceiveMessage(ctx)
		require.NoError(t, err)
		channels[msg.Channel] = true

		var n struct {
			Event string             `json:"event"`
			Data  domain.Leaderboard `json:"data"`
		}
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		assert.Equal(t, domain.EventNameLeaderboardUpdated, n.Event)
		assert.Equal(t, "ABC123", n.Data.QuizCode)
		assert.Len(t, n.Data.Entries, 2)
	}
	assert.Equal(t, map[string]bool{"quiztaker:user:u1": true, "quiztaker:user:u2": true}, channels)
}

type env struct {
	router *gin.Engine
	auth   *api.Authenticator
	clock  *countdowntest.Clock
	quiz   *fakeQuiz
	score  *fakeScore
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		router: gin.New(),
		auth:   api.NewAuthenticator(secret),
		clock:  countdowntest.NewClock(epoch),
		quiz: &fakeQuiz{quizzes: map[string]domain.QuizWithQuestions{
			"ABC123": {
				Quiz: domain.Quiz{ID: "quiz-1", Code: "ABC123", Title: "Capitals", TimeLimitMinutes: 2},
				Questions: []domain.Question{
					{ID: "q1", Text: "Capital of France?", Options: []string{"Berlin", "Paris", "Rome"}, CorrectAnswerIndex: 1},
					{ID: "q2", Text: "Capital of Italy?", Options: []string{"Madrid", "Rome"}, CorrectAnswerIndex: 1},
				},
			},
			"EMPTY1": {
				Quiz: domain.Quiz{ID: "quiz-2", Code: "EMPTY1", Title: "Empty", TimeLimitMinutes: 2},
			},
		}},
	}
	e.score = &fakeScore{quiz: e.quiz}
	board := &fakeBoard{}

	eb := event.NewBus()
	m := attempt.NewManager(attempt.ManagerConfig{
		Gateway: gateway.NewLocal(gateway.LocalConfig{
			Quiz:        e.quiz,
			Score:       e.score,
			Leaderboard: board,
			Now:         e.clock.Now,
		}),
		EventBus:      eb,
		Timer:         e.clock.Config(),
		SubmitTimeout: time.Second,
	})
	t.Cleanup(m.Shutdown)

	api.New(api.Config{
		Router:      e.router,
		EventBus:    eb,
		Auth:        e.auth,
		Attempts:    m,
		Quiz:        e.quiz,
		Score:       e.score,
		Leaderboard: board,
		Now:         e.clock.Now,
	})

	return e
}

func (e *env) token(t *testing.T, userID string) string {
	t.Helper()

	tok, err := e.auth.Sign(userID, "alice-"+userID, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *env) do(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var b bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&b).Encode(body))
	}

	req := httptest.NewRequest(method, target, &b)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type fakeQuiz struct {
	quizzes    map[string]domain.QuizWithQuestions
	lastSearch domain.SearchRequest
}

func (f *fakeQuiz) CreateQuiz(_ context.Context, req quiz.CreateQuizRequest) (*domain.QuizWithQuestions, error) {
	q := req.Quiz
	q.ID, q.Code, q.HostedBy = "quiz-new", "NEW123", req.HostedBy
	return &domain.QuizWithQuestions{Quiz: q, Questions: req.Questions}, nil
}

func (f *fakeQuiz) GetQuizByCode(_ context.Context, code string) (*domain.QuizWithQuestions, error) {
	qw, ok := f.quizzes[domain.NormalizeCode(code)]
	if !ok {
		return nil, errors.NotFound("quiz not found: %s", code)
	}
	return &qw, nil
}

func (f *fakeQuiz) GetQuizByID(_ context.Context, id string) (*domain.QuizWithQuestions, error) {
	for _, qw := range f.quizzes {
		if qw.Quiz.ID == id {
			return &qw, nil
		}
	}
	return nil, errors.NotFound("quiz not found: %s", id)
}

func (f *fakeQuiz) SearchQuizzes(_ context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	f.lastSearch = req
	return &domain.SearchResponse{Quizzes: []domain.Quiz{}, Page: 1, Limit: 20}, nil
}

type fakeScore struct {
	quiz *fakeQuiz

	mu   sync.Mutex
	err  error
	reqs []score.SubmitAttemptRequest
}

func (f *fakeScore) SubmitAttempt(ctx context.Context, req score.SubmitAttemptRequest) (*domain.Result, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	err := f.err
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	qw, err := f.quiz.GetQuizByID(ctx, req.QuizID)
	if err != nil {
		return nil, err
	}
	g, err := score.Grade(qw.Questions, req.Answers)
	if err != nil {
		return nil, err
	}

	return &domain.Result{
		ID: "r1", UserID: req.UserID, Username: req.Username, QuizID: req.QuizID,
		Score: g.Score, TotalScore: g.TotalScore, Percentage: g.Percentage.InexactFloat64(),
		SubmitTime: req.SubmitTime, Answers: req.Answers,
	}, nil
}

func (f *fakeScore) Stats(context.Context, string) (*domain.UserStats, error) {
	return &domain.UserStats{TotalQuizzesTaken: 7}, nil
}

func (f *fakeScore) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func (f *fakeScore) last() score.SubmitAttemptRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

type fakeBoard struct{}

func (fakeBoard) GetLeaderboard(_ context.Context, code string) (*domain.Leaderboard, error) {
	return &domain.Leaderboard{
		QuizCode: code,
		Entries:  []domain.LeaderboardEntry{{UserID: "u1", Username: "alice", Score: 1, TotalScore: 2, Percentage: 50}},
	}, nil
}
