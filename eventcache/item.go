package eventcache

import (
	"time"

	"github.com/zhongshixi/eventcache/treap"
)

type Action int

const (
	ActionNone Action = iota
	ActionPut
	ActionRemove
	ActionTouch
	ActionWait
)

type Item[V any] struct {
	// core data
	Key      treap.ID
	Name     string
	Value    V
	ExpireAt time.Time
	Cost     int
	Action   Action

	// Done is closed once an ActionWait item is reached by the processing goroutine
	Done chan struct{}
}

// ID is the storage key the eviction index orders items by.
func (i *Item[V]) ID() treap.ID {
	return i.Key
}

// EventTime is the expiry instant in unix nanoseconds, the item with the
// smallest one is the next to be evicted.
func (i *Item[V]) EventTime() uint64 {
	if i.ExpireAt.IsZero() || i.ExpireAt.Before(time.Unix(0, 0)) {
		return 0
	}
	return uint64(i.ExpireAt.UnixNano())
}

type EvictionReason int

const (
	ReasonCapacity EvictionReason = iota + 1
	ReasonExpired
)

func (r EvictionReason) String() string {
	switch r {
	case ReasonCapacity:
		return "capacity"
	case ReasonExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// EvictedItem is what OnEvict receives for every item the cache drops on its own.
type EvictedItem[V any] struct {
	Key      string
	Value    V
	ExpireAt time.Time
	Cost     int
	Reason   EvictionReason
}
