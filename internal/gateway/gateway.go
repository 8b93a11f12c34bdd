// Package gateway is the boundary between quiz attempts and the scoring backend.
package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/score"
)

// Gateway is what an attempt needs from the scoring backend.
type Gateway interface {
	// FetchQuizForTaking returns the quiz and its questions for a join code.
	FetchQuizForTaking(ctx context.Context, code string) (*domain.QuizWithQuestions, error)
	// SubmitAttempt sends the finalized answers and returns the authoritative result.
	SubmitAttempt(ctx context.Context, sub domain.Submission) (*domain.Result, error)
	// FetchLeaderboard returns the leaderboard of a quiz.
	FetchLeaderboard(ctx context.Context, code string) ([]domain.LeaderboardEntry, error)
}

type QuizFinder interface {
	GetQuizByCode(ctx context.Context, code string) (*domain.QuizWithQuestions, error)
}

type Scorer interface {
	SubmitAttempt(ctx context.Context, req score.SubmitAttemptRequest) (*domain.Result, error)
}

type LeaderboardReader interface {
	GetLeaderboard(ctx context.Context, code string) (*domain.Leaderboard, error)
}

type LocalConfig struct {
	Quiz        QuizFinder
	Score       Scorer
	Leaderboard LeaderboardReader
	Now         func() time.Time
}

// Local serves attempts from the backend services running in this process.
type Local struct {
	quiz  QuizFinder
	score Scorer
	board LeaderboardReader
	now   func() time.Time
}

func NewLocal(c LocalConfig) *Local {
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Local{
		quiz:  c.Quiz,
		score: c.Score,
		board: c.Leaderboard,
		now:   c.Now,
	}
}

func (l *Local) FetchQuizForTaking(ctx context.Context, code string) (*domain.QuizWithQuestions, error) {
	return l.quiz.GetQuizByCode(ctx, domain.NormalizeCode(code))
}

func (l *Local) SubmitAttempt(ctx context.Context, sub domain.Submission) (*domain.Result, error) {
	res, err := l.score.SubmitAttempt(ctx, score.SubmitAttemptRequest{
		UserID:     sub.UserID,
		Username:   sub.Username,
		QuizID:     sub.QuizID,
		Answers:    sub.Answers,
		SubmitTime: l.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: submit attempt: %w", err)
	}

	return res, nil
}

func (l *Local) FetchLeaderboard(ctx context.Context, code string) ([]domain.LeaderboardEntry, error) {
	lb, err := l.board.GetLeaderboard(ctx, domain.NormalizeCode(code))
	if err != nil {
		return nil, fmt.Errorf("gateway: fetch leaderboard: %w", err)
	}

	return lb.Entries, nil
}
