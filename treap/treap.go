package treap

import (
	"bytes"
	"errors"
	"math/rand/v2"

	"golang.org/x/exp/constraints"
)

// IDSize is the width of an item identifier in bytes.
const IDSize = 64

// ID is the fixed-length opaque identifier items are ordered by.
type ID [IDSize]byte

var (
	ErrNullArgument = errors.New("treap: absent item")
	ErrNotFound     = errors.New("treap: element does not exist")
)

// Item is what the index needs from the things it links: an identifier that
// stays stable while linked and an event time that only changes between calls
// to DecreaseKey. The zero value of an Item type is treated as absent.
type Item[P constraints.Unsigned] interface {
	comparable
	ID() ID
	EventTime() P
}

type node[T any] struct {
	item  T
	left  *node[T]
	right *node[T]
}

// Index is a treap ordered by ID along the search-tree dimension and by
// EventTime (smallest first) along the heap dimension, so the item with the
// smallest event time is always the root.
//
// Index does no locking of its own; callers serialize access.
type Index[T Item[P], P constraints.Unsigned] struct {
	root  *node[T]
	count int

	compare func(a, b ID) int
	source  rand.Source
}

type Option func(*options)

type options struct {
	compare func(a, b ID) int
	source  rand.Source
}

// WithCompare replaces the raw byte comparison used to order identifiers.
func WithCompare(fn func(a, b ID) int) Option {
	return func(o *options) { o.compare = fn }
}

// WithSource sets the random source used to break event time ties.
func WithSource(src rand.Source) Option {
	return func(o *options) { o.source = src }
}

// globalSource draws from the math/rand/v2 top-level generator.
type globalSource struct{}

func (globalSource) Uint64() uint64 { return rand.Uint64() }

func compareIDs(a, b ID) int {
	return bytes.Compare(a[:], b[:])
}

func New[T Item[P], P constraints.Unsigned](opts ...Option) *Index[T, P] {
	o := options{
		compare: compareIDs,
		source:  globalSource{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Index[T, P]{
		compare: o.compare,
		source:  o.source,
	}
}

// wins reports whether a should sit above b. The smaller event time wins and
// equal event times are decided by a coin flip.
func (x *Index[T, P]) wins(a, b *node[T]) bool {
	pa, pb := a.item.EventTime(), b.item.EventTime()
	if pa != pb {
		return pa < pb
	}
	return x.source.Uint64()&1 == 1
}

func isAbsent[T comparable](item T) bool {
	var zero T
	return item == zero
}

// split partitions t into l holding identifiers below id and r holding the
// rest. Priorities are not consulted.
func (x *Index[T, P]) split(t *node[T], id ID) (l, r *node[T]) {
	ls, rs := &l, &r
	for t != nil {
		if x.compare(t.item.ID(), id) < 0 {
			*ls = t
			ls = &t.right
			t = t.right
		} else {
			*rs = t
			rs = &t.left
			t = t.left
		}
	}
	*ls, *rs = nil, nil
	return l, r
}

// merge joins two subtrees where every identifier in l is below every
// identifier in r.
func (x *Index[T, P]) merge(l, r *node[T]) *node[T] {
	var t *node[T]
	slot := &t
	for l != nil && r != nil {
		if x.wins(l, r) {
			*slot = l
			slot = &l.right
			l = l.right
		} else {
			*slot = r
			slot = &r.left
			r = r.left
		}
	}
	if l != nil {
		*slot = l
	} else {
		*slot = r
	}
	return t
}

// Insert links item into the index. The caller guarantees that no item with
// the same identifier is linked already.
func (x *Index[T, P]) Insert(item T) error {
	if isAbsent(item) {
		return ErrNullArgument
	}

	n := &node[T]{item: item}
	id := item.ID()

	slot := &x.root
	for *slot != nil {
		t := *slot
		if x.wins(n, t) {
			break
		}
		if x.compare(id, t.item.ID()) < 0 {
			slot = &t.left
		} else {
			slot = &t.right
		}
	}

	n.left, n.right = x.split(*slot, id)
	*slot = n
	x.count++
	return nil
}

// Find returns the item linked under id.
func (x *Index[T, P]) Find(id ID) (T, bool) {
	for t := x.root; t != nil; {
		c := x.compare(t.item.ID(), id)
		switch {
		case c == 0:
			return t.item, true
		case c > 0:
			t = t.left
		default:
			t = t.right
		}
	}

	var zero T
	return zero, false
}

// Erase unlinks the item stored under id and returns it.
func (x *Index[T, P]) Erase(id ID) (T, error) {
	slot := &x.root
	for {
		t := *slot
		if t == nil {
			var zero T
			return zero, ErrNotFound
		}

		c := x.compare(t.item.ID(), id)
		if c == 0 {
			*slot = x.merge(t.left, t.right)
			t.left, t.right = nil, nil
			x.count--
			return t.item, nil
		}
		if c > 0 {
			slot = &t.left
		} else {
			slot = &t.right
		}
	}
}

// EraseItem unlinks the item stored under item's identifier.
func (x *Index[T, P]) EraseItem(item T) error {
	if isAbsent(item) {
		return ErrNullArgument
	}
	_, err := x.Erase(item.ID())
	return err
}

// DecreaseKey repositions an already linked item whose event time has been
// changed by the caller. It is a full erase followed by an insert.
func (x *Index[T, P]) DecreaseKey(item T) error {
	if err := x.EraseItem(item); err != nil {
		return err
	}
	return x.Insert(item)
}

// Top returns the item with the smallest event time without unlinking it.
func (x *Index[T, P]) Top() (T, bool) {
	if x.root == nil {
		var zero T
		return zero, false
	}
	return x.root.item, true
}

func (x *Index[T, P]) Empty() bool {
	return x.root == nil
}

// Len returns the number of linked items.
func (x *Index[T, P]) Len() int {
	return x.count
}
