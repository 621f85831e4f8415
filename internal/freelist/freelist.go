// Package freelist implements an array of K=64 buckets, one
// per power-of-two size class, each an intrusive list of FREE segments.
// bucket_of(size) = floor(log2(size)); insertion is always at the bucket
// head. A bits-and-blooms/bitset.BitSet tracks which buckets are
// non-empty so the instant-fit/best-fit upward scan can jump straight to
// the next occupied bucket instead of probing all 64 in turn.
package freelist

import (
	"math/bits"

	"github.com/bits-and-blooms/bitset"
	"github.com/nmxmxh/vmem/internal/seg"
)

// K is the number of size-class buckets, one per bit of a 64-bit word.
const K = 64

// Index is the free-list structure for one arena.
type Index struct {
	buckets  [K]*seg.Segment
	occupied *bitset.BitSet
}

// New constructs an empty free-list index.
func New() *Index {
	return &Index{occupied: bitset.New(K)}
}

// BucketOf returns floor(log2(size)) for size >= 1.
func BucketOf(size uint64) int {
	if size == 0 {
		return 0
	}
	return bits.Len64(size) - 1
}

// Insert adds a FREE segment to the bucket matching its size, at the
// bucket's head. s.Kind must already be seg.Free.
func (idx *Index) Insert(s *seg.Segment) {
	b := BucketOf(s.Size)
	s.Bucket = b
	s.FreePrev = nil
	s.FreeNext = idx.buckets[b]
	if idx.buckets[b] != nil {
		idx.buckets[b].FreePrev = s
	}
	idx.buckets[b] = s
	idx.occupied.Set(uint(b))
}

// Remove unlinks s from its bucket. s must currently be linked (i.e. was
// passed to Insert and not yet removed).
func (idx *Index) Remove(s *seg.Segment) {
	b := s.Bucket
	if s.FreePrev != nil {
		s.FreePrev.FreeNext = s.FreeNext
	} else {
		idx.buckets[b] = s.FreeNext
	}
	if s.FreeNext != nil {
		s.FreeNext.FreePrev = s.FreePrev
	}
	s.FreePrev, s.FreeNext = nil, nil
	if idx.buckets[b] == nil {
		idx.occupied.Clear(uint(b))
	}
}

// Bucket returns the head of bucket i's intrusive list, or nil if empty.
func (idx *Index) Bucket(i int) *seg.Segment { return idx.buckets[i] }

// NextOccupied returns the lowest bucket index >= from that currently
// holds at least one FREE segment, and false if none does.
func (idx *Index) NextOccupied(from int) (int, bool) {
	if from < 0 {
		from = 0
	}
	if from >= K {
		return 0, false
	}
	i, ok := idx.occupied.NextSet(uint(from))
	if !ok || i >= K {
		return 0, false
	}
	return int(i), true
}

// Each walks every bucket from lowest to highest, calling fn with each
// bucket's index and head.
func (idx *Index) Each(fn func(bucket int, head *seg.Segment)) {
	for i := 0; i < K; i++ {
		if idx.buckets[i] != nil {
			fn(i, idx.buckets[i])
		}
	}
}
