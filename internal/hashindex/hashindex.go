// Package hashindex implements a fixed-width open hash table
// keyed by segment base address, chained per bucket, used by Free to
// recover a segment's size and metadata in O(1). The mixing function is
// the 64-bit finalizer of Murmur3 (spaolacci/murmur3), chosen for good
// uniformity over the low bits of aligned addresses, which a naive mod
// or mask would leave clustered. A bloom filter sits in front of the
// chains, so that in most cases the caller-bug free-of-unknown-address is
// rejected in O(1) without walking any chain.
package hashindex

import (
	"encoding/binary"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/nmxmxh/vmem/internal/seg"
	"github.com/spaolacci/murmur3"
)

// Index is the allocated-segment hash table for one arena. Its width is
// fixed at construction; no dynamic resize is required.
type Index struct {
	table   []*seg.Segment
	mask    uint64
	count   int
	filter  *bloom.BloomFilter
	maxSeen uint // bloom filter capacity estimate; the filter is never rebuilt
}

// New constructs a hash index sized for roughly capacityHint concurrent
// allocations. The table width is rounded up to a power of two so the
// mixing hash can be masked instead of modded.
func New(capacityHint int) *Index {
	width := uint64(64)
	for width < uint64(capacityHint) {
		width <<= 1
	}
	return &Index{
		table:   make([]*seg.Segment, width),
		mask:    width - 1,
		filter:  bloom.NewWithEstimates(uint(capacityHint)*4+1024, 0.01),
		maxSeen: uint(capacityHint)*4 + 1024,
	}
}

func keyBytes(base uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], base)
	return b[:]
}

func (idx *Index) bucketOf(base uint64) uint64 {
	return murmur3.Sum64(keyBytes(base)) & idx.mask
}

// Insert records an ALLOCATED segment by its base address. s.Kind must
// already be seg.Allocated.
func (idx *Index) Insert(s *seg.Segment) {
	b := idx.bucketOf(s.Base)
	s.HashNext = idx.table[b]
	idx.table[b] = s
	idx.filter.Add(keyBytes(s.Base))
	idx.count++
}

// Lookup returns the ALLOCATED segment with the given base, or nil if
// none is recorded. The bloom filter provides a fast negative path; a
// positive bloom answer still walks the chain since bloom filters have
// false positives but never false negatives.
func (idx *Index) Lookup(base uint64) *seg.Segment {
	if !idx.filter.Test(keyBytes(base)) {
		return nil
	}
	for s := idx.table[idx.bucketOf(base)]; s != nil; s = s.HashNext {
		if s.Base == base {
			return s
		}
	}
	return nil
}

// Remove unlinks the segment with the given base from its chain. It is a
// caller bug to remove a base that Lookup would not find; callers must
// check Lookup first.
func (idx *Index) Remove(base uint64) {
	b := idx.bucketOf(base)
	var prev *seg.Segment
	for s := idx.table[b]; s != nil; s = s.HashNext {
		if s.Base == base {
			if prev != nil {
				prev.HashNext = s.HashNext
			} else {
				idx.table[b] = s.HashNext
			}
			s.HashNext = nil
			idx.count--
			return
		}
		prev = s
	}
}

// Count returns the number of allocated segments currently indexed.
func (idx *Index) Count() int { return idx.count }

// Each calls fn for every indexed segment, bucket by bucket. Order is
// unspecified; used only for diagnostics.
func (idx *Index) Each(fn func(*seg.Segment)) {
	for _, head := range idx.table {
		for s := head; s != nil; s = s.HashNext {
			fn(s)
		}
	}
}
