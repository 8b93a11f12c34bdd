package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/victornm/quiztaker/internal/attempt"
	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/errors"
	"github.com/victornm/quiztaker/internal/event"
	"github.com/victornm/quiztaker/internal/quiz"
	"github.com/victornm/quiztaker/internal/score"
)

type QuizService interface {
	CreateQuiz(ctx context.Context, req quiz.CreateQuizRequest) (*domain.QuizWithQuestions, error)
	GetQuizByCode(ctx context.Context, code string) (*domain.QuizWithQuestions, error)
	SearchQuizzes(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error)
}

type ScoreService interface {
	SubmitAttempt(ctx context.Context, req score.SubmitAttemptRequest) (*domain.Result, error)
	Stats(ctx context.Context, userID string) (*domain.UserStats, error)
}

type LeaderboardService interface {
	GetLeaderboard(ctx context.Context, code string) (*domain.Leaderboard, error)
}

type Redis interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

type Config struct {
	Router   gin.IRouter
	EventBus *event.Bus
	Auth     *Authenticator
	Attempts *attempt.Manager

	// Backend services. When Quiz is nil the backend routes are not served
	// and attempts are scored by a remote backend.
	Quiz        QuizService
	Score       ScoreService
	Leaderboard LeaderboardService

	Redis        Redis
	PubsubPrefix string

	// AllowOrigins restricts websocket upgrades. Empty allows any origin.
	AllowOrigins []string
	Now          func() time.Time
}

type API struct {
	auth     *Authenticator
	attempts *attempt.Manager

	qs QuizService
	ss ScoreService
	ls LeaderboardService

	redis   Redis
	prefix  string
	origins map[string]struct{}
	now     func() time.Time
}

func New(c Config) *API {
	if c.Now == nil {
		c.Now = time.Now
	}

	a := &API{
		auth:     c.Auth,
		attempts: c.Attempts,
		qs:       c.Quiz,
		ss:       c.Score,
		ls:       c.Leaderboard,
		redis:    c.Redis,
		prefix:   c.PubsubPrefix,
		origins:  make(map[string]struct{}, len(c.AllowOrigins)),
		now:      c.Now,
	}
	for _, o := range c.AllowOrigins {
		a.origins[o] = struct{}{}
	}

	a.registerAttemptRoutes(c.Router)
	if a.qs != nil {
		a.registerBackendRoutes(c.Router)
	}

	// Register event handlers
	if a.redis != nil {
		c.EventBus.Subscribe(domain.EventNameLeaderboardUpdated, func(ctx context.Context, e event.Event) error {
			return a.PublishLeaderboardUpdated(ctx, e.(domain.EventLeaderboardUpdated))
		})
	}

	return a
}

func (a *API) registerBackendRoutes(r gin.IRouter) {
	r.GET("/quizzes", a.SearchQuizzes)
	r.GET("/quizzes/:code", a.GetQuiz)
	r.GET("/quizzes/:code/leaderboard", a.GetLeaderboard)

	authed := r.Group("", a.auth.Middleware())
	authed.POST("/quizzes", a.CreateQuiz)
	authed.POST("/quizzes/submit", a.SubmitQuiz)
	authed.GET("/users/stats", a.GetUserStats)
}

type createQuizRequest struct {
	Quiz      domain.Quiz       `json:"quiz"`
	Questions []domain.Question `json:"questions"`
}

func (a *API) CreateQuiz(c *gin.Context) {
	var req createQuizRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidArgument("invalid request body: %v", err))
		return
	}

	qw, err := a.qs.CreateQuiz(c.Request.Context(), quiz.CreateQuizRequest{
		HostedBy:  userFrom(c).ID,
		Quiz:      req.Quiz,
		Questions: req.Questions,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, qw)
}

func (a *API) GetQuiz(c *gin.Context) {
	qw, err := a.qs.GetQuizByCode(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, qw)
}

func (a *API) SearchQuizzes(c *gin.Context) {
	req := domain.SearchRequest{
		Query:      c.Query("q"),
		Category:   c.Query("category"),
		Difficulty: c.Query("difficulty"),
		SortBy:     c.Query("sort_by"),
		Order:      c.Query("order"),
	}

	var err error
	if req.Limit, err = queryInt(c, "limit"); err != nil {
		writeError(c, err)
		return
	}
	if req.Page, err = queryInt(c, "page"); err != nil {
		writeError(c, err)
		return
	}

	resp, err := a.qs.SearchQuizzes(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a *API) SubmitQuiz(c *gin.Context) {
	var sub domain.Submission
	if err := c.ShouldBindJSON(&sub); err != nil {
		writeError(c, errors.InvalidArgument("invalid request body: %v", err))
		return
	}

	u := userFrom(c)
	res, err := a.ss.SubmitAttempt(c.Request.Context(), score.SubmitAttemptRequest{
		UserID:     u.ID,
		Username:   u.Name,
		QuizID:     sub.QuizID,
		Answers:    sub.Answers,
		SubmitTime: a.now(),
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, res)
}

func (a *API) GetLeaderboard(c *gin.Context) {
	l, err := a.ls.GetLeaderboard(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, l.Entries)
}

func (a *API) GetUserStats(c *gin.Context) {
	st, err := a.ss.Stats(c.Request.Context(), userFrom(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, st)
}

func queryInt(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}

	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.InvalidArgument("%s must be an integer", key)
	}
	return n, nil
}

// writeError responds with {"error": message} and the status of the error code.
func writeError(c *gin.Context, err error) {
	e := errors.Convert(err)
	if e.Code == errors.CodeInternal {
		slog.ErrorContext(c.Request.Context(), "api: request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}

	c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e.Message})
}
