package replay

import (
	"context"
	"errors"
	"time"

	"github.com/bluele/gcache"

	pkgsync "web3id/pkg/platform/sync"
)

// DefaultMemoryCapacity bounds the in-process store. The least recently
// used entries are evicted first once it is full.
const DefaultMemoryCapacity = 100_000

// Memory is an in-process Store backed by an LRU cache with per-entry expiry.
type Memory struct {
	locks *pkgsync.ShardedMutex
	cache gcache.Cache
}

type MemoryOption func(*gcache.CacheBuilder)

// WithClock swaps the cache clock, for tests.
func WithClock(clock gcache.Clock) MemoryOption {
	return func(b *gcache.CacheBuilder) {
		b.Clock(clock)
	}
}

func NewMemory(capacity int, opts ...MemoryOption) *Memory {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	builder := gcache.New(capacity).LRU()
	for _, opt := range opts {
		opt(builder)
	}
	return &Memory{locks: pkgsync.NewShardedMutex(), cache: builder.Build()}
}

func (m *Memory) Consume(ctx context.Context, challenge string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	k := key(challenge)
	m.locks.Lock(k)
	defer m.locks.Unlock(k)

	_, err := m.cache.Get(k)
	switch {
	case err == nil:
		return ErrReplayed
	case !errors.Is(err, gcache.KeyNotFoundError):
		return err
	}
	return m.cache.SetWithExpire(k, time.Now().UTC(), ttl)
}

