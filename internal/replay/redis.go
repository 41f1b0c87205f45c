package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SetNXer is the subset of the go-redis client the store needs.
type SetNXer interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// Redis is a Store shared by every verifier instance pointing at the same server.
type Redis struct {
	client SetNXer
}

func NewRedis(client SetNXer) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Consume(ctx context.Context, challenge string, ttl time.Duration) error {
	ok, err := r.client.SetNX(ctx, key(challenge), time.Now().UTC().Unix(), ttl).Result()
	if err != nil {
		return fmt.Errorf("record challenge: %w", err)
	}
	if !ok {
		return ErrReplayed
	}
	return nil
}
