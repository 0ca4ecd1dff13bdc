package eventcache

import (
	"fmt"
	"sync"
	"time"

	"github.com/zhongshixi/eventcache/treap"
)

// evictionPolicy tracks every admitted item and orders them by expiry in a
// treap, so the next victim is always the index root.
//
// the treap does no locking, every method here holds mu for the full call
type evictionPolicy[V any] struct {
	mu sync.Mutex

	maxCost int
	curCost int

	itemTracker map[treap.ID]*Item[V]
	expiryIndex *treap.Index[*Item[V], uint64]
}

func newEvictionPolicy[V any](maxCost int, opts ...treap.Option) *evictionPolicy[V] {
	return &evictionPolicy[V]{
		maxCost:     maxCost,
		curCost:     0,
		itemTracker: make(map[treap.ID]*Item[V]),
		expiryIndex: treap.New[*Item[V], uint64](opts...),
	}
}

// the tracker and the index always hold the same set of items, an index error
// means they drifted apart
func mustIndex(err error) {
	if err != nil {
		panic(fmt.Errorf("eviction index out of sync with tracker: %w", err))
	}
}

func (ep *evictionPolicy[V]) update(item *Item[V]) ([]*Item[V], bool) {
	prevItem := ep.itemTracker[item.Key]

	// if the new cost is greater than the previous cost, then we may need to evict some items
	addedCost := item.Cost - prevItem.Cost
	prevItem.Cost = item.Cost
	prevItem.Value = item.Value

	// a moved expiry needs the item repositioned in the index
	if !prevItem.ExpireAt.Equal(item.ExpireAt) {
		prevItem.ExpireAt = item.ExpireAt
		mustIndex(ep.expiryIndex.DecreaseKey(prevItem))
	}

	ep.curCost += addedCost
	if ep.curCost <= ep.maxCost {
		return nil, true
	}

	items := ep.evictUntilRoomLeft()

	// that means the item is not kept since it was the next to expire
	if _, ok := ep.itemTracker[item.Key]; !ok {
		return items, false
	}

	return items, true
}

// Insert admits item, or updates the tracked item with the same key, and
// returns whatever had to be evicted to stay within maxCost. The bool is false
// when item itself did not survive.
func (ep *evictionPolicy[V]) Insert(item *Item[V]) ([]*Item[V], bool) {
	if item == nil {
		return nil, false
	}

	if item.Cost > ep.maxCost {
		return nil, false
	}

	ep.mu.Lock()
	defer ep.mu.Unlock()

	if _, ok := ep.itemTracker[item.Key]; ok {
		return ep.update(item)
	}

	evictedItems := make([]*Item[V], 0)

	mustIndex(ep.expiryIndex.Insert(item))
	ep.curCost += item.Cost
	ep.itemTracker[item.Key] = item

	if ep.curCost > ep.maxCost {
		evictedItems = append(evictedItems, ep.evictUntilRoomLeft()...)
	}

	// that means the item is not kept since it was the next to expire
	if _, ok := ep.itemTracker[item.Key]; !ok {
		return evictedItems, false
	}

	return evictedItems, true
}

// Touch moves the expiry of a tracked item, it reports false for unknown keys.
func (ep *evictionPolicy[V]) Touch(key treap.ID, expireAt time.Time) bool {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	item, ok := ep.itemTracker[key]
	if !ok {
		return false
	}

	item.ExpireAt = expireAt
	mustIndex(ep.expiryIndex.DecreaseKey(item))
	return true
}

func (ep *evictionPolicy[V]) evictUntilRoomLeft() []*Item[V] {
	evicted := make([]*Item[V], 0)
	for ep.curCost > ep.maxCost {
		item, ok := ep.expiryIndex.Top()
		if !ok {
			break
		}

		ep.drop(item)
		evicted = append(evicted, item)
	}

	return evicted
}

func (ep *evictionPolicy[V]) drop(item *Item[V]) {
	mustIndex(ep.expiryIndex.EraseItem(item))
	delete(ep.itemTracker, item.Key)
	ep.curCost -= item.Cost
}

func (ep *evictionPolicy[V]) Remove(key treap.ID) (*Item[V], bool) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	item, ok := ep.itemTracker[key]
	if !ok {
		return nil, false
	}
	ep.drop(item)
	return item, true
}

// EvictExpiredItems drops every item whose expiry is at or before ts. Only
// the expired items and the first live one are visited.
func (ep *evictionPolicy[V]) EvictExpiredItems(ts time.Time) []*Item[V] {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	evicted := make([]*Item[V], 0)
	for {
		item, ok := ep.expiryIndex.Top()
		if !ok || item.ExpireAt.After(ts) {
			break
		}

		ep.drop(item)
		evicted = append(evicted, item)
	}

	return evicted
}

// Peek returns the name and expiry of the item that would be evicted next.
// Tracked items are only touched under mu, so the fields are copied here.
func (ep *evictionPolicy[V]) Peek() (string, time.Time, bool) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	item, ok := ep.expiryIndex.Top()
	if !ok {
		return "", time.Time{}, false
	}
	return item.Name, item.ExpireAt, true
}

// ForEach visits tracked items in key order while holding the policy lock.
func (ep *evictionPolicy[V]) ForEach(fn func(*Item[V]) bool) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.expiryIndex.ForEach(fn)
}

// reset the eviction policy by unlinking every item from the index and lets GC handle the rest
func (ep *evictionPolicy[V]) Clear() {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.expiryIndex.Clear(nil)
	ep.itemTracker = make(map[treap.ID]*Item[V])
	ep.curCost = 0
}

func (ep *evictionPolicy[V]) Size() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return len(ep.itemTracker)
}

func (ep *evictionPolicy[V]) Cost() int {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	return ep.curCost
}
