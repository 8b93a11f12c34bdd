package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/victornm/quiztaker/internal/attempt"
	"github.com/victornm/quiztaker/internal/errors"
)

func (a *API) registerAttemptRoutes(r gin.IRouter) {
	g := r.Group("/attempts", a.auth.Middleware())
	g.POST("", a.StartAttempt)
	g.GET("/:id", a.GetAttempt)
	g.DELETE("/:id", a.CloseAttempt)
	g.PUT("/:id/answer", a.SelectAnswer)
	g.POST("/:id/navigate", a.GoToQuestion)
	g.POST("/:id/next", a.NextQuestion)
	g.POST("/:id/previous", a.PreviousQuestion)
	g.POST("/:id/submit", a.SubmitAttempt)
	g.GET("/:id/result", a.GetAttemptResult)
	g.GET("/:id/leaderboard", a.GetAttemptLeaderboard)
	g.GET("/:id/ws", a.StreamAttempt)
}

type startAttemptRequest struct {
	QuizCode string `json:"quizCode" binding:"required"`
}

func (a *API) StartAttempt(c *gin.Context) {
	var req startAttemptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidArgument("quizCode is required"))
		return
	}

	u := userFrom(c)
	at, err := a.attempts.Start(c.Request.Context(), attempt.StartRequest{
		QuizCode: req.QuizCode,
		UserID:   u.ID,
		Username: u.Name,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, at.Snapshot())
}

func (a *API) GetAttempt(c *gin.Context) {
	at, ok := a.attempt(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, at.Snapshot())
}

func (a *API) CloseAttempt(c *gin.Context) {
	if err := a.attempts.Close(c.Param("id"), userFrom(c).ID); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type selectAnswerRequest struct {
	Option *int `json:"option" binding:"required"`
}

func (a *API) SelectAnswer(c *gin.Context) {
	var req selectAnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidArgument("option is required"))
		return
	}

	a.mutate(c, func(at *attempt.Attempt) error {
		return at.SelectAnswer(*req.Option)
	})
}

type navigateRequest struct {
	Index *int `json:"index" binding:"required"`
}

func (a *API) GoToQuestion(c *gin.Context) {
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errors.InvalidArgument("index is required"))
		return
	}

	a.mutate(c, func(at *attempt.Attempt) error {
		return at.GoToQuestion(*req.Index)
	})
}

func (a *API) NextQuestion(c *gin.Context) {
	a.mutate(c, (*attempt.Attempt).Next)
}

func (a *API) PreviousQuestion(c *gin.Context) {
	a.mutate(c, (*attempt.Attempt).Previous)
}

type submitRequest struct {
	// Confirm acknowledges that unanswered questions will be submitted as the default answer.
	Confirm bool `json:"confirm"`
}

func (a *API) SubmitAttempt(c *gin.Context) {
	var req submitRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, errors.InvalidArgument("invalid request body: %v", err))
			return
		}
	}

	at, ok := a.attempt(c)
	if !ok {
		return
	}

	dr, err := at.Submit(c.Request.Context(), req.Confirm)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dr)
}

func (a *API) GetAttemptResult(c *gin.Context) {
	at, ok := a.attempt(c)
	if !ok {
		return
	}

	dr, err := at.Result()
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, dr)
}

func (a *API) GetAttemptLeaderboard(c *gin.Context) {
	entries, err := a.attempts.Leaderboard(c.Request.Context(), c.Param("id"), userFrom(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, entries)
}

// mutate applies op to the attempt and responds with the resulting snapshot.
func (a *API) mutate(c *gin.Context, op func(*attempt.Attempt) error) {
	at, ok := a.attempt(c)
	if !ok {
		return
	}

	if err := op(at); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, at.Snapshot())
}

func (a *API) attempt(c *gin.Context) (*attempt.Attempt, bool) {
	at, err := a.attempts.Get(c.Param("id"), userFrom(c).ID)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return at, true
}
