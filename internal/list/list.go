// Package list implements an intrusive, non-owning singly-linked FIFO.
//
// Nodes carry their own link field and expose it through NextLink, so moving
// a node between lists never allocates. A node must be in at most one list
// at a time; the list does not check this.
package list

// Node is the constraint satisfied by *T when T embeds a link to the next
// node.
type Node[T any] interface {
	*T
	NextLink() **T
}

// List is a singly-linked queue of *T. The zero value is an empty list.
// List is not safe for concurrent use.
type List[T any, P Node[T]] struct {
	first *T
	last  *T
	n     int
}

func next[T any, P Node[T]](item *T) **T {
	return P(item).NextLink()
}

// Empty reports whether the list has no nodes.
func (l *List[T, P]) Empty() bool { return l.first == nil }

// Len returns the number of nodes.
func (l *List[T, P]) Len() int { return l.n }

// PushBack appends item.
func (l *List[T, P]) PushBack(item *T) {
	*next[T, P](item) = nil
	if l.last != nil {
		*next[T, P](l.last) = item
	}
	l.last = item
	if l.first == nil {
		l.first = item
	}
	l.n++
}

// PushFront prepends item.
func (l *List[T, P]) PushFront(item *T) {
	*next[T, P](item) = l.first
	l.first = item
	if l.last == nil {
		l.last = item
	}
	l.n++
}

// PopFront removes and returns the first node, or nil.
func (l *List[T, P]) PopFront() *T {
	item := l.first
	if item == nil {
		return nil
	}
	link := next[T, P](item)
	l.first = *link
	*link = nil
	if l.last == item {
		l.last = nil
	}
	l.n--
	return item
}

// PeekFront returns the first node without removing it, or nil.
func (l *List[T, P]) PeekFront() *T { return l.first }

// Remove unlinks item, whose predecessor is before (nil when item is first).
func (l *List[T, P]) Remove(item, before *T) {
	link := next[T, P](item)
	if before != nil {
		*next[T, P](before) = *link
	}
	if l.first == item {
		l.first = *link
	}
	if l.last == item {
		l.last = before
	}
	*link = nil
	l.n--
}

// Each calls fn for every node from front to back. fn must not modify the
// list.
func (l *List[T, P]) Each(fn func(item *T)) {
	for item := l.first; item != nil; item = *next[T, P](item) {
		fn(item)
	}
}

// Sweep walks the list once. Nodes for which match returns true are
// unlinked and handed to drop, which may push them onto another list. Nodes
// that do not match keep their relative order.
func (l *List[T, P]) Sweep(match func(item *T) bool, drop func(item *T)) {
	var before *T
	for item := l.first; item != nil; {
		following := *next[T, P](item)
		if match(item) {
			l.Remove(item, before)
			drop(item)
		} else {
			before = item
		}
		item = following
	}
}
