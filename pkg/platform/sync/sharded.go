package sync

import (
	"hash/maphash"
	"sync"
)

const shardCount = 64

// ShardedMutex serializes work per key without a global lock. Keys are
// spread over a fixed set of mutexes, so unrelated keys rarely contend.
type ShardedMutex struct {
	seed   maphash.Seed
	shards [shardCount]sync.Mutex
}

func NewShardedMutex() *ShardedMutex {
	return &ShardedMutex{seed: maphash.MakeSeed()}
}

// Lock acquires the lock for key's shard.
func (m *ShardedMutex) Lock(key string) {
	m.shards[m.shardFor(key)].Lock()
}

// Unlock releases the lock for key's shard.
func (m *ShardedMutex) Unlock(key string) {
	m.shards[m.shardFor(key)].Unlock()
}

// Empty keys map to shard 0.
func (m *ShardedMutex) shardFor(key string) int {
	if key == "" {
		return 0
	}
	return int(maphash.String(m.seed, key) % shardCount)
}

// Gate admits a single holder and refuses everyone else immediately
// instead of queueing them. The zero value is open.
type Gate struct {
	mu sync.Mutex
}

// TryEnter returns a leave func and true when the gate was free.
func (g *Gate) TryEnter() (func(), bool) {
	if !g.mu.TryLock() {
		return nil, false
	}
	var once sync.Once
	return func() { once.Do(g.mu.Unlock) }, true
}
