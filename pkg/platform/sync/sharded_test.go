package sync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShardedMutex_LockUnlock(t *testing.T) {
	m := NewShardedMutex()

	m.Lock("challenge-1")
	m.Unlock("challenge-1")

	m.Lock("")
	m.Unlock("")
}

func TestShardedMutex_SameKeySerializes(t *testing.T) {
	m := NewShardedMutex()
	counter := 0
	var wg sync.WaitGroup

	for range 100 {
		wg.Go(func() {
			m.Lock("same-key")
			defer m.Unlock("same-key")
			counter++
		})
	}
	wg.Wait()

	assert.Equal(t, 100, counter)
}

func TestShardedMutex_ShardDistribution(t *testing.T) {
	m := NewShardedMutex()
	shards := make(map[int]bool)
	for _, key := range []string{"a1", "b2", "c3", "d4", "e5", "f6", "g7", "h8"} {
		shard := m.shardFor(key)
		assert.Equal(t, shard, m.shardFor(key), "shard must be stable")
		shards[shard] = true
	}

	assert.GreaterOrEqual(t, len(shards), 3, "expected keys to distribute across multiple shards")
	assert.Equal(t, 0, m.shardFor(""))
}

func TestGate(t *testing.T) {
	var g Gate

	leave, ok := g.TryEnter()
	require.True(t, ok)

	_, ok = g.TryEnter()
	assert.False(t, ok, "second holder must be refused")

	leave()
	leave()

	leave, ok = g.TryEnter()
	require.True(t, ok, "gate must reopen after leave")
	leave()
}
