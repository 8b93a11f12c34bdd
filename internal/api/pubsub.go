package api

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/victornm/quiztaker/internal/domain"
)

const maxConcurrent = 100

type Notification struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// PublishLeaderboardUpdated notifies every user on the leaderboard through
// their own channel.
func (a *API) PublishLeaderboardUpdated(ctx context.Context, e domain.EventLeaderboardUpdated) error {
	l := e.Leaderboard

	var eg errgroup.Group
	eg.SetLimit(maxConcurrent)

	for _, entry := range l.Entries {
		eg.Go(func() error {
			return a.publishNotification(ctx, entry.UserID, e.Name(), l)
		})
	}

	return eg.Wait()
}

func (a *API) publishNotification(ctx context.Context, userID, event string, data any) error {
	n := Notification{
		Event: event,
		Data:  data,
	}

	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("pubsub: marshal %s: %v", event, err)
	}

	return a.redis.Publish(ctx, a.userChannel(userID), b).Err()
}

func (a *API) userChannel(userID string) string {
	return fmt.Sprintf("%s:user:%s", a.prefix, userID)
}
