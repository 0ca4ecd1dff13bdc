package treap

// staticDepth covers the parent stack for any realistic treap height so
// iteration does not allocate in the common case.
const staticDepth = 128

// parentStack holds the nodes still to be visited during iteration.
type parentStack[T any] struct {
	index    int
	items    [staticDepth]*node[T]
	overflow []*node[T]
}

func (s *parentStack[T]) Len() int {
	return s.index
}

func (s *parentStack[T]) Push(n *node[T]) {
	if s.index < staticDepth {
		s.items[s.index] = n
		s.index++
		return
	}

	s.overflow = append(s.overflow[:s.index-staticDepth], n)
	s.index++
}

func (s *parentStack[T]) Pop() *node[T] {
	if s.index == 0 {
		return nil
	}

	s.index--
	if s.index < staticDepth {
		n := s.items[s.index]
		s.items[s.index] = nil
		return n
	}

	n := s.overflow[s.index-staticDepth]
	s.overflow[s.index-staticDepth] = nil
	return n
}

// ForEach calls fn for every linked item in ascending identifier order until
// fn returns false.
func (x *Index[T, P]) ForEach(fn func(T) bool) {
	var parents parentStack[T]
	for n := x.root; n != nil; n = n.left {
		parents.Push(n)
	}
	for parents.Len() > 0 {
		n := parents.Pop()
		if !fn(n.item) {
			return
		}

		for n := n.right; n != nil; n = n.left {
			parents.Push(n)
		}
	}
}

// Clear unlinks every item, handing each one to release when it is not nil.
// Children are always released before their parent.
func (x *Index[T, P]) Clear(release func(T)) {
	var pending, done parentStack[T]
	if x.root != nil {
		pending.Push(x.root)
	}
	for pending.Len() > 0 {
		n := pending.Pop()
		done.Push(n)
		if n.left != nil {
			pending.Push(n.left)
		}
		if n.right != nil {
			pending.Push(n.right)
		}
	}

	for done.Len() > 0 {
		n := done.Pop()
		n.left, n.right = nil, nil
		if release != nil {
			release(n.item)
		}
	}

	x.root = nil
	x.count = 0
}
