// Package syncutil provides keyed locking primitives used to serialize
// per-account mutations.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ContextShardedMutex provides a fixed-size pool of channel-based mutexes
// keyed by string, with context cancellation while waiting. Bounded memory
// regardless of how many keys are seen, at the cost of occasional false
// sharing between keys that hash to the same shard. A caller whose context
// expires while queued for a shard gets the context error instead of the
// lock, leaving the guarded state untouched.
type ContextShardedMutex struct {
	shards [shardCount]chanMutex
	once   sync.Once
}

// chanMutex is a mutex implemented via a buffered channel, allowing select{}
// against a context cancellation channel.
type chanMutex struct {
	ch chan struct{}
}

func (m *ContextShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i].ch = make(chan struct{}, 1)
			m.shards[i].ch <- struct{}{} // start unlocked
		}
	})
}

// LockContext acquires the mutex for the given key, respecting context
// cancellation. On success it returns an unlock function the caller must
// invoke; on cancellation it returns nil and the context error.
func (m *ContextShardedMutex) LockContext(ctx context.Context, key string) (func(), error) {
	m.init()
	shard := &m.shards[m.shardIdx(key)]

	select {
	case <-shard.ch:
		return func() { shard.ch <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LockPairContext acquires the mutexes for two keys in a fixed global
// order, so concurrent opposite-direction acquisitions of the same pair
// cannot deadlock. If both keys land on the same shard a single lock is
// taken. On cancellation any shard already held is released before the
// context error is returned.
func (m *ContextShardedMutex) LockPairContext(ctx context.Context, a, b string) (func(), error) {
	m.init()
	ia, ib := m.shardIdx(a), m.shardIdx(b)
	if ia == ib {
		return m.lockShard(ctx, ia, nil)
	}
	// Always lock the lower shard index first.
	if ia > ib {
		ia, ib = ib, ia
	}
	unlockFirst, err := m.lockShard(ctx, ia, nil)
	if err != nil {
		return nil, err
	}
	return m.lockShard(ctx, ib, unlockFirst)
}

// lockShard acquires one shard; held is released on cancellation and
// chained into the returned unlock otherwise.
func (m *ContextShardedMutex) lockShard(ctx context.Context, idx uint32, held func()) (func(), error) {
	shard := &m.shards[idx]
	select {
	case <-shard.ch:
		if held == nil {
			return func() { shard.ch <- struct{}{} }, nil
		}
		return func() {
			shard.ch <- struct{}{}
			held()
		}, nil
	case <-ctx.Done():
		if held != nil {
			held()
		}
		return nil, ctx.Err()
	}
}

func (m *ContextShardedMutex) shardIdx(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}
