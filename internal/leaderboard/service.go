package leaderboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quiztaker/internal/domain"
	"github.com/victornm/quiztaker/internal/event"
)

const (
	publishInterval = 200 * time.Millisecond
	publishTimeout  = 5 * time.Second
)

type Config struct {
	EventBus *event.Bus
	Redis    redis.UniversalClient
	Prefix   string
}

type Service struct {
	eb     *event.Bus
	redis  redis.UniversalClient
	prefix string

	// trailing tracks publishes deferred to the end of a throttle window.
	trailing sync.WaitGroup
}

func NewService(c Config) *Service {
	s := &Service{
		eb:     c.EventBus,
		redis:  c.Redis,
		prefix: c.Prefix,
	}

	s.eb.Subscribe(domain.EventNameScoreUpdated, func(ctx context.Context, e event.Event) error {
		return s.UpdateLeaderboard(ctx, e.(domain.EventScoreUpdated))
	})

	return s
}

// GetLeaderboard returns the latest result of every user who took the quiz,
// best percentage first, earlier submissions first on ties.
func (s *Service) GetLeaderboard(ctx context.Context, code string) (*domain.Leaderboard, error) {
	code = domain.NormalizeCode(code)

	members, err := s.redis.ZRevRange(ctx, s.getLeaderboardKey(code), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard: %w", err)
	}

	entries := make([]domain.LeaderboardEntry, 0, len(members))
	if len(members) == 0 {
		return &domain.Leaderboard{QuizCode: code, Entries: entries}, nil
	}

	raw, err := s.redis.HMGet(ctx, s.getEntriesKey(code), members...).Result()
	if err != nil {
		return nil, fmt.Errorf("get leaderboard entries: %w", err)
	}

	for i, v := range raw {
		str, ok := v.(string)
		if !ok {
			// Entry not written yet, only the ranking is known.
			entries = append(entries, domain.LeaderboardEntry{UserID: members[i]})
			continue
		}

		var e domain.LeaderboardEntry
		if err := json.Unmarshal([]byte(str), &e); err != nil {
			return nil, fmt.Errorf("decode leaderboard entry: user=%s: %w", members[i], err)
		}
		entries = append(entries, e)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Percentage != entries[j].Percentage {
			return entries[i].Percentage > entries[j].Percentage
		}
		return entries[i].SubmitTime.Before(entries[j].SubmitTime)
	})

	return &domain.Leaderboard{
		QuizCode: code,
		Entries:  entries,
	}, nil
}

// UpdateLeaderboard overwrites the user's entry with their latest result.
func (s *Service) UpdateLeaderboard(ctx context.Context, e domain.EventScoreUpdated) error {
	code := domain.NormalizeCode(e.QuizCode)
	r := e.Result

	entry, err := json.Marshal(domain.LeaderboardEntry{
		UserID:     r.UserID,
		Username:   r.Username,
		Score:      r.Score,
		TotalScore: r.TotalScore,
		Percentage: r.Percentage,
		SubmitTime: r.SubmitTime,
	})
	if err != nil {
		return err
	}

	if _, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, s.getLeaderboardKey(code), redis.Z{
			Score:  r.Percentage,
			Member: r.UserID,
		})
		p.HSet(ctx, s.getEntriesKey(code), r.UserID, entry)
		return nil
	}); err != nil {
		return fmt.Errorf("update leaderboard: %w", err)
	}

	return s.schedulePublishLeaderboard(ctx, code, r.SubmitTime)
}

// schedulePublishLeaderboard publishes the leaderboard at most once per
// publishInterval and quiz. An update that lands inside the window is carried
// by one trailing publish at the end of it, so the last results of a burst
// always reach subscribers. The window and the trailing slot are Redis keys,
// shared by every instance using the same prefix.
func (s *Service) schedulePublishLeaderboard(ctx context.Context, code string, at time.Time) error {
	ok, err := s.redis.SetNX(ctx, s.getLeaderboardTimeKey(code), at.UnixMilli(), publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx: %w", err)
	}

	if ok {
		return s.publishLeaderboard(ctx, code, at)
	}

	pendingKey := s.getPendingPublishKey(code)
	ok, err = s.redis.SetNX(ctx, pendingKey, at.UnixMilli(), 2*publishInterval).Result()
	if err != nil {
		return fmt.Errorf("setnx pending: %w", err)
	}

	if !ok {
		// A trailing publish is already scheduled and will read this update.
		return nil
	}

	ctx = context.WithoutCancel(ctx)
	s.trailing.Add(1)
	time.AfterFunc(publishInterval, func() {
		defer s.trailing.Done()

		ctx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		if err := s.redis.Del(ctx, pendingKey).Err(); err != nil {
			slog.WarnContext(ctx, "leaderboard: clear pending publish failed", "quiz_code", code, "error", err)
		}

		if err := s.publishLeaderboard(ctx, code, time.Now()); err != nil {
			slog.ErrorContext(ctx, "leaderboard: trailing publish failed", "quiz_code", code, "error", err)
		}
	})

	return nil
}

// Stop waits for the scheduled trailing publishes. Call it before stopping
// the event bus.
func (s *Service) Stop() {
	s.trailing.Wait()
}

func (s *Service) publishLeaderboard(ctx context.Context, code string, at time.Time) error {
	l, err := s.GetLeaderboard(ctx, code)
	if err != nil {
		return fmt.Errorf("get leaderboard failed: quiz=%s: %w", code, err)
	}

	s.eb.Publish(ctx, domain.EventLeaderboardUpdated{
		Leaderboard: *l,
	})

	return s.redis.Set(ctx, s.getLeaderboardTimeKey(code), at.UnixMilli(), publishInterval).Err()
}

func (s *Service) getLeaderboardKey(code string) string {
	return fmt.Sprintf("%s:%s:leaderboard", s.prefix, code)
}

func (s *Service) getEntriesKey(code string) string {
	return fmt.Sprintf("%s:%s:entries", s.prefix, code)
}

func (s *Service) getLeaderboardTimeKey(code string) string {
	return fmt.Sprintf("%s:%s:time", s.prefix, code)
}

func (s *Service) getPendingPublishKey(code string) string {
	return fmt.Sprintf("%s:%s:pending", s.prefix, code)
}
