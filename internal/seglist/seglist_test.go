package seglist

import (
	"testing"

	"github.com/nmxmxh/vmem/internal/seg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushBackOrdering(t *testing.T) {
	var l List
	a := &seg.Segment{Base: 0, Size: 0x100}
	b := &seg.Segment{Base: 0x100, Size: 0x100}
	l.PushBack(a)
	l.PushBack(b)

	require.Equal(t, 2, l.Len())
	assert.Same(t, a, l.Front())
	assert.Same(t, b, l.Back())
	assert.Same(t, b, Successor(a))
	assert.Same(t, a, Predecessor(b))
}

func TestInsertAfterAndBefore(t *testing.T) {
	var l List
	a := &seg.Segment{Base: 0, Size: 0x100}
	c := &seg.Segment{Base: 0x200, Size: 0x100}
	l.PushBack(a)
	l.PushBack(c)

	b := &seg.Segment{Base: 0x100, Size: 0x100}
	l.InsertAfter(a, b)
	require.Equal(t, 3, l.Len())
	assert.Same(t, b, Successor(a))
	assert.Same(t, c, Successor(b))

	d := &seg.Segment{Base: 0x200 - 0x10, Size: 0x10}
	l.InsertBefore(c, d)
	assert.Same(t, d, Predecessor(c))
	assert.Same(t, b, Predecessor(d))
}

func TestRemoveMiddleAndEnds(t *testing.T) {
	var l List
	a := &seg.Segment{Base: 0, Size: 0x10}
	b := &seg.Segment{Base: 0x10, Size: 0x10}
	c := &seg.Segment{Base: 0x20, Size: 0x10}
	l.PushBack(a)
	l.PushBack(b)
	l.PushBack(c)

	l.Remove(b)
	assert.Equal(t, 2, l.Len())
	assert.Same(t, c, Successor(a))
	assert.Same(t, a, Predecessor(c))

	l.Remove(a)
	assert.Same(t, c, l.Front())
	assert.Nil(t, Predecessor(c))

	l.Remove(c)
	assert.Equal(t, 0, l.Len())
	assert.Nil(t, l.Front())
	assert.Nil(t, l.Back())
}

func TestEachVisitsInOrder(t *testing.T) {
	var l List
	for i := 0; i < 5; i++ {
		l.PushBack(&seg.Segment{Base: uint64(i) * 0x10, Size: 0x10})
	}
	var bases []uint64
	l.Each(func(s *seg.Segment) { bases = append(bases, s.Base) })
	assert.Equal(t, []uint64{0, 0x10, 0x20, 0x30, 0x40}, bases)
}
