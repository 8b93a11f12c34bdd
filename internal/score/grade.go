package score

import (
	"github.com/shopspring/decimal"

	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/errors"
)

var hundred = decimal.NewFromInt(100)

type Grading struct {
	Score      int
	TotalScore int
	// Percentage is rounded to 2 decimal places.
	Percentage decimal.Decimal
}

// Grade counts the answers that match the correct answer of their question.
// Every question is worth one point.
func Grade(questions []domain.Question, answers []int) (Grading, error) {
	if len(questions) == 0 {
		return Grading{}, errors.InvalidArgument("quiz has no questions")
	}
	if len(answers) != len(questions) {
		return Grading{}, errors.InvalidArgument("got %d answers for %d questions", len(answers), len(questions))
	}

	score := 0
	for i, q := range questions {
		if answers[i] == q.CorrectAnswerIndex {
			score++
		}
	}

	return Grading{
		Score:      score,
		TotalScore: len(questions),
		Percentage: percentage(score, len(questions)),
	}, nil
}

func percentage(score, total int) decimal.Decimal {
	return decimal.NewFromInt(int64(score)).Mul(hundred).Div(decimal.NewFromInt(int64(total))).Round(2)
}

var distributionBuckets = []struct {
	label string
	upper decimal.Decimal
}{
	{"0-20", decimal.NewFromInt(20)},
	{"21-40", decimal.NewFromInt(40)},
	{"41-60", decimal.NewFromInt(60)},
	{"61-80", decimal.NewFromInt(80)},
	{"81-100", hundred},
}

// Bucket returns the score distribution bucket of a percentage.
func Bucket(p decimal.Decimal) string {
	for _, b := range distributionBuckets {
		if p.LessThanOrEqual(b.upper) {
			return b.label
		}
	}
	return distributionBuckets[len(distributionBuckets)-1].label
}

// Distribution counts percentages per bucket. Every bucket is present.
func Distribution(percentages []decimal.Decimal) map[string]int {
	d := make(map[string]int, len(distributionBuckets))
	for _, b := range distributionBuckets {
		d[b.label] = 0
	}
	for _, p := range percentages {
		d[Bucket(p)]++
	}
	return d
}
