package syncutil

import (
	"context"
	"sync"
)

// ContextShardedMutex is ShardedMutex with context-aware acquisition. Claim
// adjudication holds a lock across scoring calls that can take seconds, so
// waiters must be able to give up when their request context is cancelled.
type ContextShardedMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

// NewContextShardedMutex creates a new context-aware sharded mutex.
func NewContextShardedMutex() *ContextShardedMutex {
	m := &ContextShardedMutex{}
	m.init()
	return m
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{} // Start unlocked.
		}
	})
}

// LockContext acquires the shard for key or gives up when ctx is done.
// On success it returns an unlock function the caller MUST invoke; on
// cancellation it returns nil and the context error.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	ch := m.shards[shardIndex(key)]

	select {
	case <-ch:
		return func() { ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
