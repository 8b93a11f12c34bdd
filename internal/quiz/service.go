// Package quiz stores quizzes and their questions.
package quiz

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/errors"
)

const (
	maxCodeAttempts     = 5
	codeUniqueViolation = "23505"
	codeConstraint      = "quizzes_code_key"
)

const quizColumns = `
	q.id, q.code, q.title, q.description, q.hosted_by, q.is_public, q.category, q.difficulty,
	q.time_limit_minutes, q.create_time, q.update_time,
	COALESCE(st.attempt_count, 0) AS attempt_count, COALESCE(st.avg_score, 0) AS avg_score`

const quizFrom = `
FROM quizzes q
LEFT JOIN (
	SELECT quiz_id, COUNT(*) AS attempt_count, ROUND(AVG(percentage), 2) AS avg_score
	FROM results
	GROUP BY quiz_id
) st ON st.quiz_id = q.id`

type Config struct {
	DB *pgxpool.Pool
	// NewCode generates join codes. Defaults to domain.GenerateCode.
	NewCode func() (string, error)
	Now     func() time.Time
}

type Service struct {
	db      *pgxpool.Pool
	newCode func() (string, error)
	now     func() time.Time
}

func NewService(c Config) *Service {
	if c.NewCode == nil {
		c.NewCode = domain.GenerateCode
	}
	if c.Now == nil {
		c.Now = time.Now
	}

	return &Service{
		db:      c.DB,
		newCode: c.NewCode,
		now:     c.Now,
	}
}

// CreateQuiz validates and stores a quiz under a fresh join code.
func (s *Service) CreateQuiz(ctx context.Context, req CreateQuizRequest) (*domain.QuizWithQuestions, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	for i := 0; i < maxCodeAttempts; i++ {
		code, err := s.newCode()
		if err != nil {
			return nil, err
		}

		qw, err := s.insertQuiz(ctx, req, code, now)
		if err == nil {
			return qw, nil
		}

		var pgErr *pgconn.PgError
		if !stderrors.As(err, &pgErr) || pgErr.Code != codeUniqueViolation || pgErr.ConstraintName != codeConstraint {
			return nil, err
		}

		slog.WarnContext(ctx, "quiz: join code taken, retrying", "code", code)
	}

	return nil, errors.New(errors.CodeAlreadyExists,
		errors.WithMessagef("could not allocate a unique quiz code after %d attempts", maxCodeAttempts))
}

func (s *Service) insertQuiz(ctx context.Context, req CreateQuizRequest, code string, now time.Time) (_ *domain.QuizWithQuestions, err error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate quiz ID: %w", err)
	}

	q := req.Quiz
	q.ID = id.String()
	q.Code = code
	q.HostedBy = req.HostedBy
	q.Title = strings.TrimSpace(q.Title)
	q.Description = strings.TrimSpace(q.Description)
	q.AttemptCount = 0
	q.AvgScore = 0
	q.CreateTime = now
	q.UpdateTime = now

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insQuizStmt = `
INSERT INTO quizzes (id, code, title, description, hosted_by, is_public, category, difficulty, time_limit_minutes, create_time, update_time)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11);`
		insQuestionStmt = `
INSERT INTO questions (id, quiz_id, position, text, options, correct_answer_index, explanation)
VALUES ($1, $2, $3, $4, $5, $6, $7);`
	)

	if _, err = tx.Exec(ctx, insQuizStmt, q.ID, q.Code, q.Title, q.Description, q.HostedBy,
		q.IsPublic, q.Category, q.Difficulty, q.TimeLimitMinutes, q.CreateTime, q.UpdateTime); err != nil {
		return nil, fmt.Errorf("insert quiz: %w", err)
	}

	questions := make([]domain.Question, len(req.Questions))
	b := &pgx.Batch{}
	for i, qs := range req.Questions {
		qid, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("generate question ID: %w", err)
		}

		qs.ID = qid.String()
		qs.QuizID = q.ID
		qs.Text = strings.TrimSpace(qs.Text)
		questions[i] = qs

		b.Queue(insQuestionStmt, qs.ID, qs.QuizID, i, qs.Text, qs.Options, qs.CorrectAnswerIndex, qs.Explanation)
	}

	if err = tx.SendBatch(ctx, b).Close(); err != nil {
		return nil, fmt.Errorf("insert questions: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return &domain.QuizWithQuestions{Quiz: q, Questions: questions}, nil
}

// GetQuizByCode returns a quiz by its join code, case-insensitively.
func (s *Service) GetQuizByCode(ctx context.Context, code string) (*domain.QuizWithQuestions, error) {
	code = domain.NormalizeCode(code)
	if !domain.ValidCode(code) {
		return nil, errors.InvalidArgument("invalid quiz code %q", code)
	}

	return s.getQuiz(ctx, "q.code = $1", code)
}

func (s *Service) GetQuizByID(ctx context.Context, id string) (*domain.QuizWithQuestions, error) {
	if id == "" {
		return nil, errors.InvalidArgument("quiz id is required")
	}

	return s.getQuiz(ctx, "q.id = $1", id)
}

func (s *Service) getQuiz(ctx context.Context, cond string, arg any) (*domain.QuizWithQuestions, error) {
	row := s.db.QueryRow(ctx, "SELECT"+quizColumns+quizFrom+"\nWHERE "+cond, arg)

	q, err := scanQuiz(row)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, errors.NotFound("quiz not found: %v", arg)
	}
	if err != nil {
		return nil, fmt.Errorf("get quiz: %w", err)
	}

	questions, err := s.listQuestions(ctx, q.ID)
	if err != nil {
		return nil, err
	}

	return &domain.QuizWithQuestions{Quiz: q, Questions: questions}, nil
}

func (s *Service) listQuestions(ctx context.Context, quizID string) ([]domain.Question, error) {
	const stmt = `
SELECT id, quiz_id, text, options, correct_answer_index, explanation
FROM questions
WHERE quiz_id = $1
ORDER BY position;`

	rows, err := s.db.Query(ctx, stmt, quizID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	return pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Question, error) {
		var q domain.Question
		err := r.Scan(&q.ID, &q.QuizID, &q.Text, &q.Options, &q.CorrectAnswerIndex, &q.Explanation)
		return q, err
	})
}

// SearchQuizzes lists public quizzes matching the request, one page at a time.
func (s *Service) SearchQuizzes(ctx context.Context, req domain.SearchRequest) (*domain.SearchResponse, error) {
	sq, err := buildSearch(req)
	if err != nil {
		return nil, err
	}

	var total int
	if err := s.db.QueryRow(ctx, "SELECT COUNT(*) FROM quizzes q WHERE "+sq.where, sq.args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count quizzes: %w", err)
	}

	args := append(append([]any(nil), sq.args...), sq.limit, sq.offset())
	stmt := fmt.Sprintf("SELECT%s%s\nWHERE %s\nORDER BY %s\nLIMIT $%d OFFSET $%d",
		quizColumns, quizFrom, sq.where, sq.orderBy, len(args)-1, len(args))

	rows, err := s.db.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("search quizzes: %w", err)
	}

	quizzes, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (domain.Quiz, error) {
		return scanQuiz(r)
	})
	if err != nil {
		return nil, err
	}

	return &domain.SearchResponse{
		Quizzes: quizzes,
		Total:   total,
		Page:    sq.page,
		Limit:   sq.limit,
	}, nil
}

// CountByHost returns the number of quizzes created by a user.
func (s *Service) CountByHost(ctx context.Context, userID string) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM quizzes WHERE hosted_by = $1`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count quizzes: %w", err)
	}
	return n, nil
}

func scanQuiz(row pgx.Row) (domain.Quiz, error) {
	var (
		q   domain.Quiz
		avg decimal.Decimal
	)

	err := row.Scan(&q.ID, &q.Code, &q.Title, &q.Description, &q.HostedBy, &q.IsPublic, &q.Category,
		&q.Difficulty, &q.TimeLimitMinutes, &q.CreateTime, &q.UpdateTime, &q.AttemptCount, &avg)
	if err != nil {
		return domain.Quiz{}, err
	}

	q.AvgScore = avg.InexactFloat64()
	return q, nil
}
