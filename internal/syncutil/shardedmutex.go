// Package syncutil provides per-key locking used to serialize claim
// adjudication and device state transitions without unbounded lock maps.
package syncutil

import (
	"hash/fnv"
	"sync"
)

// shardCount is the fixed number of lock shards. Keys that hash to the same
// shard contend with each other, which is acceptable for short critical
// sections like a single read-modify-write against a store.
const shardCount = 256

// ShardedMutex is a fixed pool of mutexes keyed by string. Memory stays
// bounded no matter how many device or claim IDs pass through it.
type ShardedMutex struct {
	shards [shardCount]sync.Mutex
}

// Lock acquires the shard for key and returns its unlock function.
func (s *ShardedMutex) Lock(key string) func() {
	mu := &s.shards[shardIndex(key)]
	mu.Lock()
	return mu.Unlock
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
