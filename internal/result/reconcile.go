// Package result derives the per-question breakdown shown after a quiz attempt.
package result

import (
	stderrors "errors"
	"fmt"

	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/errors"
)

const (
	unknownQuizTitle       = "Unknown Quiz"
	unknownQuizDescription = "Quiz data unavailable"
)

// Reconcile combines the raw result of a submission with the quiz it was made
// for. answeredCorrectly[i] is true when the submitted answer for question i
// equals its correct answer index.
//
// Reconcile never fails: the returned DetailedResult is always well-formed. A
// non-nil error wraps errors.ErrReconciliationDegraded and is a warning that
// defaults were used for missing or malformed data.
func Reconcile(raw *domain.Result, quiz *domain.QuizWithQuestions) (domain.DetailedResult, error) {
	if raw == nil || quiz == nil || len(raw.Answers) == 0 || len(quiz.Questions) == 0 {
		return placeholder(raw, quiz), degraded("missing result or quiz data")
	}

	dr := domain.DetailedResult{
		Result:            *raw,
		Quiz:              quiz.Quiz,
		Questions:         quiz.Questions,
		AnsweredCorrectly: make([]bool, len(quiz.Questions)),
	}
	dr.Answers = append([]int(nil), raw.Answers...)

	for i, q := range quiz.Questions {
		if i >= len(raw.Answers) {
			break
		}
		dr.AnsweredCorrectly[i] = raw.Answers[i] == q.CorrectAnswerIndex
	}

	var warn error
	switch {
	case len(raw.Answers) < len(quiz.Questions):
		warn = degraded(fmt.Sprintf("%d answers for %d questions, missing answers marked incorrect", len(raw.Answers), len(quiz.Questions)))
	case len(raw.Answers) > len(quiz.Questions):
		warn = degraded(fmt.Sprintf("%d answers for %d questions, extra answers ignored", len(raw.Answers), len(quiz.Questions)))
	}
	dr.Degraded = warn != nil

	return dr, warn
}

func placeholder(raw *domain.Result, quiz *domain.QuizWithQuestions) domain.DetailedResult {
	dr := domain.DetailedResult{
		Quiz: domain.Quiz{
			Title:       unknownQuizTitle,
			Description: unknownQuizDescription,
		},
		Questions:         []domain.Question{},
		AnsweredCorrectly: []bool{},
		Degraded:          true,
	}
	dr.Answers = []int{}

	if raw != nil {
		dr.ID = raw.ID
		dr.UserID = raw.UserID
		dr.Username = raw.Username
		dr.QuizID = raw.QuizID
		dr.SubmitTime = raw.SubmitTime
	}
	if quiz != nil && quiz.Quiz.ID != "" {
		dr.QuizID = quiz.Quiz.ID
	}

	return dr
}

func degraded(reason string) error {
	return fmt.Errorf("%w: %s", errors.ErrReconciliationDegraded, reason)
}

// IsDegraded reports whether err is a reconciliation warning.
func IsDegraded(err error) bool {
	return stderrors.Is(err, errors.ErrReconciliationDegraded)
}
