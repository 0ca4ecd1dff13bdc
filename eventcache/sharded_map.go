package eventcache

import (
	"github.com/cespare/xxhash/v2"

	"github.com/zhongshixi/eventcache/treap"
)

// shardedMap is a map that is sharded into multiple locked maps
//
// keys are already uniformly distributed digests, xxhash folds the 64 bytes
// down to the shard number so get/put/remove on different keys rarely share a lock
type shardedMap[V any] struct {
	shards []*lockedMap[V]

	numShards uint64
}

func newShardedMap[V any](numShards uint64) *shardedMap[V] {
	sm := &shardedMap[V]{
		shards:    make([]*lockedMap[V], numShards),
		numShards: numShards,
	}

	for i := range sm.shards {
		sm.shards[i] = newLockedMap[V]()
	}
	return sm
}

func (sm *shardedMap[V]) shard(key treap.ID) *lockedMap[V] {
	return sm.shards[xxhash.Sum64(key[:])%sm.numShards]
}

func (sm *shardedMap[V]) Get(key treap.ID) (V, bool) {
	return sm.shard(key).load(key)
}

func (sm *shardedMap[V]) Put(key treap.ID, v V) {
	sm.shard(key).store(key, v)
}

func (sm *shardedMap[V]) Remove(key treap.ID) (V, bool) {
	return sm.shard(key).delete(key)
}

func (sm *shardedMap[V]) Len() int {
	n := 0
	for _, shard := range sm.shards {
		n += shard.len()
	}
	return n
}

func (sm *shardedMap[V]) Clear() {
	for _, shard := range sm.shards {
		shard.reset()
	}
}
