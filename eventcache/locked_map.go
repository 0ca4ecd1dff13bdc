package eventcache

import (
	"sync"

	"github.com/zhongshixi/eventcache/treap"
)

// lockedMap is one shard of the value lookup. It stores plain values, never
// the items tracked by the eviction policy, so Get shares no memory with the
// processing goroutine.
type lockedMap[V any] struct {
	mu   sync.RWMutex
	vals map[treap.ID]V
}

func newLockedMap[V any]() *lockedMap[V] {
	return &lockedMap[V]{
		vals: make(map[treap.ID]V),
	}
}

// load may return a value that already expired but was not collected yet
func (m *lockedMap[V]) load(key treap.ID) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.vals[key]
	return v, ok
}

func (m *lockedMap[V]) store(key treap.ID, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals[key] = v
}

func (m *lockedMap[V]) delete(key treap.ID) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.vals[key]
	if !ok {
		return zeroValue[V](), false
	}
	delete(m.vals, key)
	return v, true
}

func (m *lockedMap[V]) len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vals)
}

func (m *lockedMap[V]) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vals = make(map[treap.ID]V)
}
