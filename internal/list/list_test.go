package list

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushBackOrder(t *testing.T) {
	l := New[string]()
	a := l.PushBack("a")
	b := l.PushBack("b")
	c := l.PushBack("c")

	require.Equal(t, 3, l.Len())
	require.Equal(t, a, l.Front())
	require.Equal(t, c, l.Back())
	require.Equal(t, b, a.Next())
	require.Equal(t, c, b.Next())
	require.Nil(t, c.Next())
	require.Nil(t, a.Prev())
}

func TestRemoveMiddle(t *testing.T) {
	l := New[int]()
	a := l.PushBack(1)
	b := l.PushBack(2)
	c := l.PushBack(3)

	l.Remove(b)

	require.Equal(t, 2, l.Len())
	require.Equal(t, c, a.Next())
	require.Equal(t, a, c.Prev())
	require.False(t, b.Linked())
}

func TestRemoveWrongListPanics(t *testing.T) {
	l1 := New[int]()
	l2 := New[int]()
	e := l1.PushBack(1)

	require.Panics(t, func() { l2.Remove(e) })
}

func TestRemoveNotLinkedIsNoop(t *testing.T) {
	l := New[int]()
	e := &Elem[int]{}
	require.NotPanics(t, func() { l.Remove(e) })
}

func TestMoveToList(t *testing.T) {
	todo := New[int]()
	busy := New[int]()

	e := todo.PushBack(7)
	require.Equal(t, 1, todo.Len())

	MoveToList(e, busy)

	require.Equal(t, 0, todo.Len())
	require.Equal(t, 1, busy.Len())
	require.Equal(t, e, busy.Front())
	require.Equal(t, 7, e.Value())
}

func TestRoundTripCreateDone(t *testing.T) {
	l := New[int]()
	var elems []*Elem[int]
	for i := 0; i < 10; i++ {
		elems = append(elems, l.PushBack(i))
	}
	require.Equal(t, 10, l.Len())

	for _, e := range elems {
		l.Remove(e)
	}
	require.Equal(t, 0, l.Len())
	require.Nil(t, l.Front())
	require.Nil(t, l.Back())
}
