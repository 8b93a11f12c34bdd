package quiz

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/errors"
)

// Authoring limits.
const (
	MinTitle       = 3
	MaxTitle       = 100
	MinDescription = 10
	MaxDescription = 500
	MinTimeLimit   = 1
	MaxTimeLimit   = 120
	MinQuestions   = 1
	MaxQuestions   = 20
	MinQuestion    = 5
	MaxQuestion    = 200
	MinOptions     = 2
	MaxOptions     = 6
	MinExplanation = 5
	MaxExplanation = 300
)

type CreateQuizRequest struct {
	HostedBy  string
	Quiz      domain.Quiz
	Questions []domain.Question
}

func validateCreate(req CreateQuizRequest) error {
	q := req.Quiz

	if req.HostedBy == "" {
		return errors.InvalidArgument("host is required")
	}
	if err := checkLength("title", q.Title, MinTitle, MaxTitle); err != nil {
		return err
	}
	if err := checkLength("description", q.Description, MinDescription, MaxDescription); err != nil {
		return err
	}
	if strings.TrimSpace(q.Category) == "" {
		return errors.InvalidArgument("category is required")
	}
	if strings.TrimSpace(q.Difficulty) == "" {
		return errors.InvalidArgument("difficulty is required")
	}
	if q.TimeLimitMinutes < MinTimeLimit || q.TimeLimitMinutes > MaxTimeLimit {
		return errors.InvalidArgument("time limit must be between %d and %d minutes", MinTimeLimit, MaxTimeLimit)
	}
	if n := len(req.Questions); n < MinQuestions || n > MaxQuestions {
		return errors.InvalidArgument("a quiz must have between %d and %d questions, got %d", MinQuestions, MaxQuestions, n)
	}

	for i, qs := range req.Questions {
		if err := validateQuestion(i+1, qs); err != nil {
			return err
		}
	}

	return nil
}

func validateQuestion(n int, q domain.Question) error {
	if err := checkLength(questionField(n, "text"), q.Text, MinQuestion, MaxQuestion); err != nil {
		return err
	}
	if len(q.Options) < MinOptions || len(q.Options) > MaxOptions {
		return errors.InvalidArgument("question %d must have between %d and %d options", n, MinOptions, MaxOptions)
	}
	for j, o := range q.Options {
		if strings.TrimSpace(o) == "" {
			return errors.InvalidArgument("question %d option %d is empty", n, j+1)
		}
	}
	if q.CorrectAnswerIndex < 0 || q.CorrectAnswerIndex >= len(q.Options) {
		return errors.InvalidArgument("question %d correct answer index %d out of range", n, q.CorrectAnswerIndex)
	}
	return checkLength(questionField(n, "explanation"), q.Explanation, MinExplanation, MaxExplanation)
}

func questionField(n int, field string) string {
	return fmt.Sprintf("question %d %s", n, field)
}

func checkLength(field, v string, lo, hi int) error {
	n := utf8.RuneCountInString(strings.TrimSpace(v))
	if n < lo || n > hi {
		return errors.InvalidArgument("%s must be between %d and %d characters", field, lo, hi)
	}
	return nil
}
