package domain

const (
	EventNameScoreUpdated       = "score.updated"
	EventNameLeaderboardUpdated = "leaderboard.updated"

	EventNameAttemptStarted          = "attempt.started"
	EventNameAttemptCompleted        = "attempt.completed"
	EventNameAttemptSubmissionFailed = "attempt.submission_failed"
)

// Submit triggers.
const (
	TriggerManual  = "manual"
	TriggerExpired = "expired"
)

type EventScoreUpdated struct {
	QuizCode string
	Result   Result
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventLeaderboardUpdated struct {
	Leaderboard Leaderboard
}

func (EventLeaderboardUpdated) Name() string { return EventNameLeaderboardUpdated }

type EventAttemptStarted struct {
	AttemptID string
	UserID    string
	Quiz      Quiz
}

func (EventAttemptStarted) Name() string { return EventNameAttemptStarted }

type EventAttemptCompleted struct {
	AttemptID string
	Trigger   string
	Result    DetailedResult
}

func (EventAttemptCompleted) Name() string { return EventNameAttemptCompleted }

type EventAttemptSubmissionFailed struct {
	AttemptID string
	Trigger   string
	Err       error
}

func (EventAttemptSubmissionFailed) Name() string { return EventNameAttemptSubmissionFailed }
