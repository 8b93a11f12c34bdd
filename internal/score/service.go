package score

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/errors"
	"github.com/victornm/quiztaker/internal/event"
)

const recentResults = 5

type QuizStore interface {
	GetQuizByID(ctx context.Context, id string) (*domain.QuizWithQuestions, error)
	CountByHost(ctx context.Context, userID string) (int, error)
}

type Config struct {
	EventBus *event.Bus
	DB       *pgxpool.Pool
	Quizzes  QuizStore
}

type Service struct {
	eb      *event.Bus
	db      *pgxpool.Pool
	quizzes QuizStore
}

func NewService(c Config) *Service {
	return &Service{
		eb:      c.EventBus,
		db:      c.DB,
		quizzes: c.Quizzes,
	}
}

type SubmitAttemptRequest struct {
	UserID     string
	Username   string
	QuizID     string
	Answers    []int
	SubmitTime time.Time
}

// SubmitAttempt grades the answers against the stored quiz and records the result.
func (s *Service) SubmitAttempt(ctx context.Context, req SubmitAttemptRequest) (*domain.Result, error) {
	if req.UserID == "" {
		return nil, errors.InvalidArgument("user id is required")
	}

	qw, err := s.quizzes.GetQuizByID(ctx, req.QuizID)
	if err != nil {
		return nil, err
	}

	g, err := Grade(qw.Questions, req.Answers)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	res := domain.Result{
		ID:         id.String(),
		UserID:     req.UserID,
		Username:   req.Username,
		QuizID:     qw.Quiz.ID,
		Score:      g.Score,
		TotalScore: g.TotalScore,
		Percentage: g.Percentage.InexactFloat64(),
		SubmitTime: req.SubmitTime.UTC(),
		Answers:    append([]int(nil), req.Answers...),
	}

	if err := s.insertResult(ctx, res, g.Percentage); err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventScoreUpdated{
		QuizCode: qw.Quiz.Code,
		Result:   res,
	})

	return &res, nil
}

func (s *Service) insertResult(ctx context.Context, res domain.Result, pct decimal.Decimal) error {
	const stmt = `
INSERT INTO results (id, user_id, username, quiz_id, score, total_score, percentage, answers, submit_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9);`

	_, err := s.db.Exec(ctx, stmt, res.ID, res.UserID, res.Username, res.QuizID,
		res.Score, res.TotalScore, pct, res.Answers, res.SubmitTime)

	var pgErr *pgconn.PgError
	const codeUniqueViolation = "23505"
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
		return errors.New(errors.CodeAlreadyExists, errors.WithCause(err))
	}

	if err != nil {
		return fmt.Errorf("insert result: %w", err)
	}

	return nil
}

type statRow struct {
	result     domain.Result
	percentage decimal.Decimal
	category   string
}

// Stats aggregates every result of a user.
func (s *Service) Stats(ctx context.Context, userID string) (*domain.UserStats, error) {
	const stmt = `
SELECT r.id, r.user_id, r.username, r.quiz_id, r.score, r.total_score, r.percentage, r.answers, r.submit_time, q.category
FROM results r
JOIN quizzes q ON q.id = r.quiz_id
WHERE r.user_id = $1
ORDER BY r.submit_time DESC;`

	rows, err := s.db.Query(ctx, stmt, userID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}

	stats, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (statRow, error) {
		var sr statRow
		if err := r.Scan(
			&sr.result.ID, &sr.result.UserID, &sr.result.Username, &sr.result.QuizID,
			&sr.result.Score, &sr.result.TotalScore, &sr.percentage, &sr.result.Answers,
			&sr.result.SubmitTime, &sr.category,
		); err != nil {
			return statRow{}, err
		}
		sr.result.Percentage = sr.percentage.InexactFloat64()
		return sr, nil
	})
	if err != nil {
		return nil, err
	}

	created, err := s.quizzes.CountByHost(ctx, userID)
	if err != nil {
		return nil, err
	}

	us := summarize(stats)
	us.TotalQuizzesCreated = created

	return &us, nil
}

// summarize expects rows ordered by submit time, newest first.
func summarize(rows []statRow) domain.UserStats {
	us := domain.UserStats{
		RecentResults:     make([]domain.Result, 0, recentResults),
		CategoryBreakdown: make(map[string]int),
	}

	percentages := make([]decimal.Decimal, 0, len(rows))
	sum := decimal.Zero
	highest := decimal.Zero

	for i, r := range rows {
		us.TotalQuizzesTaken++
		us.TotalPoints += r.result.Score
		if r.result.Score > us.HighestScore {
			us.HighestScore = r.result.Score
		}
		if r.percentage.GreaterThan(highest) {
			highest = r.percentage
		}
		sum = sum.Add(r.percentage)
		percentages = append(percentages, r.percentage)

		if r.category != "" {
			us.CategoryBreakdown[r.category]++
		}
		if i < recentResults {
			us.RecentResults = append(us.RecentResults, r.result)
		}
	}

	if len(rows) > 0 {
		us.AverageScore = sum.Div(decimal.NewFromInt(int64(len(rows)))).Round(2).InexactFloat64()
	}
	us.HighestPercentage = highest.InexactFloat64()
	us.ScoreDistribution = Distribution(percentages)

	return us
}
