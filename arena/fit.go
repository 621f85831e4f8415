package arena

import (
	"github.com/nmxmxh/vmem/internal/freelist"
	"github.com/nmxmxh/vmem/internal/seg"
)

// alignUpWithPhase returns the smallest r >= x such that (r - phase) mod
// align == 0. align must be a power of two. Subtraction and the modulus
// test are both done in wraparound uint64 arithmetic, which stays correct
// even when phase > x because align is a power of two dividing 2^64.
func alignUpWithPhase(x, phase, align uint64) uint64 {
	rem := (x - phase) & (align - 1)
	if rem == 0 {
		return x
	}
	return x + (align - rem)
}

// roundUp rounds x up to the nearest positive multiple of quantum.
// quantum must be a power of two.
func roundUp(x, quantum uint64) uint64 {
	if x == 0 {
		return quantum
	}
	return (x + quantum - 1) &^ (quantum - 1)
}

// SegFit computes the lowest address within seg at which a size-byte
// allocation satisfying align/phase/nocross/minaddr/maxaddr can start.
// minaddr/maxaddr of 0 are unconstrained. The minaddr/maxaddr window is
// intersected into the segment, never widened past it.
func SegFit(s *seg.Segment, size, align, phase, nocross, minaddr, maxaddr uint64) (start uint64, ok bool) {
	start = s.Base
	if minaddr > start {
		start = minaddr
	}

	start = alignUpWithPhase(start, phase, align)
	if start < s.Base {
		start += align
	}

	if nocross != 0 {
		for i := 0; i < 4 && start/nocross != (start+size-1)/nocross; i++ {
			start = alignUpWithPhase(start+1, phase, nocross)
			start = alignUpWithPhase(start, phase, align)
		}
		if start/nocross != (start+size-1)/nocross {
			return 0, false
		}
	}

	end := s.End()
	if maxaddr != 0 && maxaddr < end {
		end = maxaddr
	}
	if start < s.Base || start+size < start || start+size > end {
		return 0, false
	}
	return start, true
}

// instantFitStartBucket returns the bucket instant-fit begins scanning
// from: bucket_of(size) when size is itself an exact power of two (every
// segment in that bucket is already big enough), or bucket_of(size)+1
// otherwise, since a segment merely in size's own class may be too small
// once alignment and phase are accounted for.
func instantFitStartBucket(size uint64) int {
	b := freelist.BucketOf(size)
	if size&(size-1) != 0 {
		b++
	}
	return b
}
