// Package seglist implements the address-ordered doubly
// linked sequence of every segment belonging to an arena (spans, free
// extents, and allocated extents alike). Ordering is maintained by
// insertion discipline — the engine always knows the correct neighbour
// when inserting, since it has just split a segment or is appending a new
// span at the tail — not by a key comparison on every operation.
package seglist

import "github.com/nmxmxh/vmem/internal/seg"

// List is the address-ordered sequence for one arena.
type List struct {
	head, tail *seg.Segment
	len        int
}

// Len returns the number of segments currently linked.
func (l *List) Len() int { return l.len }

// Front returns the lowest-address segment, or nil if the list is empty.
func (l *List) Front() *seg.Segment { return l.head }

// Back returns the highest-address segment, or nil if the list is empty.
func (l *List) Back() *seg.Segment { return l.tail }

// PushBack appends s as the new highest-address segment. Used when
// installing a new span at the tail of the arena.
func (l *List) PushBack(s *seg.Segment) {
	s.BPrev = l.tail
	s.BNext = nil
	if l.tail != nil {
		l.tail.BNext = s
	} else {
		l.head = s
	}
	l.tail = s
	l.len++
}

// InsertAfter links s immediately after ref. ref must already be a member
// of this list.
func (l *List) InsertAfter(ref, s *seg.Segment) {
	s.BPrev = ref
	s.BNext = ref.BNext
	if ref.BNext != nil {
		ref.BNext.BPrev = s
	} else {
		l.tail = s
	}
	ref.BNext = s
	l.len++
}

// InsertBefore links s immediately before ref. ref must already be a
// member of this list.
func (l *List) InsertBefore(ref, s *seg.Segment) {
	s.BNext = ref
	s.BPrev = ref.BPrev
	if ref.BPrev != nil {
		ref.BPrev.BNext = s
	} else {
		l.head = s
	}
	ref.BPrev = s
	l.len++
}

// Remove unlinks s from the list. s's own BPrev/BNext are left stale; the
// caller is expected to recycle s through the segment pool right after.
func (l *List) Remove(s *seg.Segment) {
	if s.BPrev != nil {
		s.BPrev.BNext = s.BNext
	} else {
		l.head = s.BNext
	}
	if s.BNext != nil {
		s.BNext.BPrev = s.BPrev
	} else {
		l.tail = s.BPrev
	}
	l.len--
}

// Predecessor returns the address-adjacent segment immediately before s,
// or nil if s is the first segment.
func Predecessor(s *seg.Segment) *seg.Segment { return s.BPrev }

// Successor returns the address-adjacent segment immediately after s, or
// nil if s is the last segment.
func Successor(s *seg.Segment) *seg.Segment { return s.BNext }

// Each calls fn for every segment in address order. fn must not mutate
// the list's linkage while iterating.
func (l *List) Each(fn func(*seg.Segment)) {
	for s := l.head; s != nil; s = s.BNext {
		fn(s)
	}
}
