// Package presence keeps a Redis set of identities per channel so the HTTP
// surface can answer "who is here" without touching the registry.
package presence

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/mahaj/staff-chat/pkg/model"
)

type Tracker struct {
	rdb *redis.Client
}

func NewTracker(addr string) *Tracker {
	return &Tracker{rdb: redis.NewClient(&redis.Options{Addr: addr})}
}

func key(ch model.Channel) string {
	return "presence:" + string(ch)
}

// Join is nil-safe: a gateway without Redis configured simply has no presence
// surface.
func (t *Tracker) Join(ctx context.Context, ch model.Channel, identity string) error {
	if t == nil {
		return nil
	}
	return t.rdb.SAdd(ctx, key(ch), identity).Err()
}

func (t *Tracker) Leave(ctx context.Context, ch model.Channel, identity string) error {
	if t == nil {
		return nil
	}
	return t.rdb.SRem(ctx, key(ch), identity).Err()
}

func (t *Tracker) Members(ctx context.Context, ch model.Channel) ([]string, error) {
	if t == nil {
		return nil, nil
	}
	return t.rdb.SMembers(ctx, key(ch)).Result()
}

func (t *Tracker) Close() error {
	if t == nil {
		return nil
	}
	return t.rdb.Close()
}
