// Package list implements an intrusive doubly-linked list.
//
// PushBack and PushFront allocate one Elem node per push, holding the
// value; the caller keeps the returned *Elem (qmgr's entries, peers and
// jobs store it as a field), so Remove and MoveToList work in O(1)
// without a reverse lookup from value to node. MoveToList - moving an
// element from one list to another, the common operation throughout
// qmgr's entry/peer/queue/job bookkeeping - does not allocate.
package list

// Elem is one list node, returned by PushBack/PushFront and kept by the
// caller for O(1) removal. The zero value is a valid, unlinked element.
type Elem[T any] struct {
	next, prev *Elem[T]
	list       *List[T]
	val        T
}

// Value returns the value this element was pushed with.
func (e *Elem[T]) Value() T { return e.val }

// Linked reports whether the element currently belongs to a list.
func (e *Elem[T]) Linked() bool { return e.list != nil }

// List is a circular intrusive doubly-linked list with a sentinel root,
// giving O(1) PushBack/PushFront/Remove and branch-free empty checks.
type List[T any] struct {
	root Elem[T]
	n    int
}

// New returns an initialized, empty list.
func New[T any]() *List[T] {
	l := &List[T]{}
	l.root.next = &l.root
	l.root.prev = &l.root
	return l
}

// Init (re)initializes a List for use as a zero value field, e.g. in a
// struct literal that can't call New. Must be called before first use
// if the List is not constructed via New.
func (l *List[T]) Init() *List[T] {
	l.root.next = &l.root
	l.root.prev = &l.root
	l.n = 0
	return l
}

// Len returns the number of elements currently on the list.
func (l *List[T]) Len() int { return l.n }

// Front returns the first element, or nil if the list is empty.
func (l *List[T]) Front() *Elem[T] {
	if l.n == 0 {
		return nil
	}
	return l.root.next
}

// Back returns the last element, or nil if the list is empty.
func (l *List[T]) Back() *Elem[T] {
	if l.n == 0 {
		return nil
	}
	return l.root.prev
}

// Next returns the element following e, or nil if e is the last element.
func (e *Elem[T]) Next() *Elem[T] {
	if n := e.next; e.list != nil && n != &e.list.root {
		return n
	}
	return nil
}

// Prev returns the element preceding e, or nil if e is the first element.
func (e *Elem[T]) Prev() *Elem[T] {
	if p := e.prev; e.list != nil && p != &e.list.root {
		return p
	}
	return nil
}

// PushBack appends a new element holding val and returns it.
func (l *List[T]) PushBack(val T) *Elem[T] {
	e := &Elem[T]{val: val}
	l.insert(e, l.root.prev)
	return e
}

// PushFront prepends a new element holding val and returns it.
func (l *List[T]) PushFront(val T) *Elem[T] {
	e := &Elem[T]{val: val}
	l.insert(e, &l.root)
	return e
}

func (l *List[T]) insert(e, at *Elem[T]) {
	n := at.next
	at.next = e
	e.prev = at
	e.next = n
	n.prev = e
	e.list = l
	l.n++
}

// Remove unlinks e from whichever list it currently belongs to. It is a
// no-op if e is not linked. Panics if e belongs to a different list than
// the receiver, catching the "entry on wrong list" class of programming
// error called out by the scheduler's invariants.
func (l *List[T]) Remove(e *Elem[T]) {
	if e.list == nil {
		return
	}
	if e.list != l {
		panic("list: remove: element does not belong to this list")
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next = nil
	e.prev = nil
	e.list = nil
	l.n--
}

// MoveToList unlinks e from its current list (if any) and appends it to
// dst. This is the primitive behind Entry.select/unselect (moving between
// a destination queue's todo and busy lists).
func MoveToList[T any](e *Elem[T], dst *List[T]) {
	if e.list != nil {
		e.list.Remove(e)
	}
	dst.insert(e, dst.root.prev)
}
