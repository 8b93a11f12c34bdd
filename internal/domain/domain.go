package domain

import (
	"time"
)

// Quiz is the descriptor of a quiz. It is immutable once an attempt starts.
type Quiz struct {
	ID               string    `json:"id"`
	Code             string    `json:"quizCode"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	HostedBy         string    `json:"hostedBy,omitempty"`
	IsPublic         bool      `json:"isPublic"`
	Category         string    `json:"category"`
	Difficulty       string    `json:"difficulty"`
	TimeLimitMinutes int       `json:"timeLimit"`
	AttemptCount     int       `json:"attemptCount"`
	AvgScore         float64   `json:"avgScore"`
	CreateTime       time.Time `json:"createdAt"`
	UpdateTime       time.Time `json:"updatedAt"`
}

// Question is a multiple-choice question. CorrectAnswerIndex is a 0-based index into Options.
type Question struct {
	ID                 string   `json:"id"`
	QuizID             string   `json:"quizId"`
	Text               string   `json:"questionText"`
	Options            []string `json:"options"`
	CorrectAnswerIndex int      `json:"correctAnswerIndex"`
	Explanation        string   `json:"explanationText"`
}

type QuizWithQuestions struct {
	Quiz      Quiz       `json:"quiz"`
	Questions []Question `json:"questions"`
}

// Submission is the finalized answer vector sent for scoring.
type Submission struct {
	UserID   string `json:"userId"`
	Username string `json:"username,omitempty"`
	QuizID   string `json:"quizId"`
	Answers  []int  `json:"answers"`
}

// Result is the authoritative outcome of a submission as returned by the scoring backend.
type Result struct {
	ID         string    `json:"id,omitempty"`
	UserID     string    `json:"userId"`
	Username   string    `json:"username,omitempty"`
	QuizID     string    `json:"quizId"`
	Score      int       `json:"score"`
	TotalScore int       `json:"totalScore"`
	Percentage float64   `json:"percentage"`
	SubmitTime time.Time `json:"submittedAt"`
	Answers    []int     `json:"answers"`
}

// DetailedResult is a Result with the per-question breakdown used by the results view.
// It is derived on demand and never persisted.
type DetailedResult struct {
	Result
	Quiz              Quiz       `json:"quiz"`
	Questions         []Question `json:"questions"`
	AnsweredCorrectly []bool     `json:"answeredCorrectly"`
	Degraded          bool       `json:"degraded,omitempty"`
}

// Leaderboard represents the results of a quiz, sorted by percentage in descending order.
type Leaderboard struct {
	QuizCode string             `json:"quizCode"`
	Entries  []LeaderboardEntry `json:"entries"`
}

type LeaderboardEntry struct {
	UserID     string    `json:"userId"`
	Username   string    `json:"username"`
	Score      int       `json:"score"`
	TotalScore int       `json:"totalScore"`
	Percentage float64   `json:"percentage"`
	SubmitTime time.Time `json:"submittedAt"`
}

type UserStats struct {
	TotalQuizzesTaken   int            `json:"totalQuizzesTaken"`
	TotalQuizzesCreated int            `json:"totalQuizzesCreated"`
	TotalPoints         int            `json:"totalPoints"`
	AverageScore        float64        `json:"averageScore"`
	HighestScore        int            `json:"highestScore"`
	HighestPercentage   float64        `json:"highestPercentage"`
	RecentResults       []Result       `json:"recentResults"`
	CategoryBreakdown   map[string]int `json:"categoryBreakdown"`
	ScoreDistribution   map[string]int `json:"scoreDistribution"`
}

type SearchRequest struct {
	Query      string
	Category   string
	Difficulty string
	SortBy     string
	Order      string
	Limit      int
	Page       int
}

type SearchResponse struct {
	Quizzes []Quiz `json:"quizzes"`
	Total   int    `json:"total"`
	Page    int    `json:"page"`
	Limit   int    `json:"limit"`
}
