package attempt

import (
	"github.com/victornm/quiztaker/internal/domain"
)

// Snapshot is the view of an attempt pushed to the client. It never exposes
// correct answers before the attempt is completed.
type Snapshot struct {
	ID               string                 `json:"id"`
	State            State                  `json:"state"`
	QuizCode         string                 `json:"quizCode"`
	QuizTitle        string                 `json:"quizTitle"`
	CurrentIndex     int                    `json:"currentQuestionIndex"`
	TotalQuestions   int                    `json:"totalQuestions"`
	Answered         []bool                 `json:"answered"`
	Question         *QuestionView          `json:"question,omitempty"`
	SelectedAnswer   int                    `json:"selectedAnswer"`
	RemainingSeconds int                    `json:"remainingSeconds"`
	LowTime          bool                   `json:"lowTime"`
	Unanswered       int                    `json:"unanswered"`
	Result           *domain.DetailedResult `json:"result,omitempty"`
}

type QuestionView struct {
	ID      string   `json:"id"`
	Text    string   `json:"questionText"`
	Options []string `json:"options"`
}

func (a *Attempt) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Attempt) snapshotLocked() Snapshot {
	s := Snapshot{
		ID:               a.id,
		State:            a.state,
		QuizCode:         a.quiz.Quiz.Code,
		QuizTitle:        a.quiz.Quiz.Title,
		CurrentIndex:     a.current,
		TotalQuestions:   len(a.quiz.Questions),
		Answered:         make([]bool, len(a.selected)),
		SelectedAnswer:   Unanswered,
		RemainingSeconds: a.remaining,
		Unanswered:       a.unansweredLocked(),
		Result:           a.result,
	}

	for i, sel := range a.selected {
		s.Answered[i] = sel != Unanswered
	}

	if a.current < len(a.quiz.Questions) {
		q := a.quiz.Questions[a.current]
		s.Question = &QuestionView{
			ID:      q.ID,
			Text:    q.Text,
			Options: append([]string(nil), q.Options...),
		}
		s.SelectedAnswer = a.selected[a.current]
	}

	s.LowTime = a.state == StateActive && s.RemainingSeconds < lowTimeThreshold

	return s
}

// Subscribe returns a stream of snapshots starting with the current one. The
// stream is closed when the attempt completes or is closed, or when cancel is
// called. A slow reader only misses intermediate snapshots.
func (a *Attempt) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, observerBuffer)

	a.mu.Lock()
	defer a.mu.Unlock()

	ch <- a.snapshotLocked()
	if a.closed || a.state == StateCompleted {
		close(ch)
		return ch, func() {}
	}

	a.observers[ch] = struct{}{}

	cancel := func() {
		a.mu.Lock()
		defer a.mu.Unlock()

		if _, ok := a.observers[ch]; ok {
			delete(a.observers, ch)
			close(ch)
		}
	}

	return ch, cancel
}

func (a *Attempt) broadcastLocked() {
	if len(a.observers) == 0 {
		return
	}

	s := a.snapshotLocked()
	for ch := range a.observers {
		select {
		case ch <- s:
		default:
			// Drop the oldest snapshot to make room for the latest.
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
}

func (a *Attempt) closeObserversLocked() {
	for ch := range a.observers {
		delete(a.observers, ch)
		close(ch)
	}
}
