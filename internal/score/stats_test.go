package score

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/victornm/quiztaker/internal/domain"
)

func TestSummarize(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	row := func(id string, score, total int, pct, category string, ago time.Duration) statRow {
		return statRow{
			result: domain.Result{
				ID: id, UserID: "u1", Score: score, TotalScore: total,
				Percentage: decimal.RequireFromString(pct).InexactFloat64(),
				SubmitTime: now.Add(-ago),
			},
			percentage: decimal.RequireFromString(pct),
			category:   category,
		}
	}

	t.Run("no results should produce empty stats", func(t *testing.T) {
		got := summarize(nil)

		assert.Zero(t, got.TotalQuizzesTaken)
		assert.Zero(t, got.AverageScore)
		assert.Empty(t, got.RecentResults)
		assert.NotNil(t, got.RecentResults)
		assert.Empty(t, got.CategoryBreakdown)
		assert.Len(t, got.ScoreDistribution, 5)
	})

	t.Run("results should be aggregated", func(t *testing.T) {
		got := summarize([]statRow{
			row("r1", 3, 3, "100", "science", 1*time.Hour),
			row("r2", 1, 3, "33.33", "science", 2*time.Hour),
			row("r3", 5, 10, "50", "history", 3*time.Hour),
			row("r4", 0, 4, "0", "", 4*time.Hour),
			row("r5", 2, 4, "50", "history", 5*time.Hour),
			row("r6", 4, 5, "80", "math", 6*time.Hour),
		})

		assert.Equal(t, 6, got.TotalQuizzesTaken)
		assert.Equal(t, 15, got.TotalPoints)
		assert.Equal(t, 5, got.HighestScore)
		assert.Equal(t, 100.0, got.HighestPercentage)
		assert.Equal(t, 52.22, got.AverageScore)
		assert.Equal(t, map[string]int{"science": 2, "history": 2, "math": 1}, got.CategoryBreakdown)
		assert.Equal(t, map[string]int{"0-20": 1, "21-40": 1, "41-60": 2, "61-80": 1, "81-100": 1}, got.ScoreDistribution)

		var ids []string
		for _, r := range got.RecentResults {
			ids = append(ids, r.ID)
		}
		assert.Equal(t, []string{"r1", "r2", "r3", "r4", "r5"}, ids)
	})
}
