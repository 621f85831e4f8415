// Package arena implements the allocator engine, gluing together the
// segment pool (internal/segpool), the address-ordered segment list
// (internal/seglist), the free-list index (internal/freelist), and the
// allocated hash index (internal/hashindex) behind a small set of public
// operations: Create, Add, XAlloc, Alloc, Free, Destroy, Dump.
package arena

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
	"github.com/nmxmxh/vmem/internal/freelist"
	"github.com/nmxmxh/vmem/internal/hashindex"
	"github.com/nmxmxh/vmem/internal/seg"
	"github.com/nmxmxh/vmem/internal/seglist"
	"github.com/nmxmxh/vmem/internal/segpool"
	"github.com/nmxmxh/vmem/vmemconfig"
	"github.com/nmxmxh/vmem/vmemerr"
	"github.com/nmxmxh/vmem/vmemlog"
	"github.com/sony/gobreaker"
	"github.com/yasserelgammal/rate-limiter/limiter"
	"github.com/yasserelgammal/rate-limiter/store"
)

// Arena apportions an integer-addressed universe using boundary-tag
// coalescing and instant-fit/best-fit search. One mutex guards every
// structure below: all public operations acquire it at entry and release
// it at exit, and none suspends on external I/O while holding it — the
// one exception is importFromSource's call into a source arena, which
// takes the source arena's lock strictly after this one (child before
// parent) to avoid a lock-order cycle.
type Arena struct {
	mu sync.Mutex

	name string
	id   string

	quantum uint64
	source  Source
	opts    vmemconfig.Options

	pool segpool.Pool
	list seglist.List
	free *freelist.Index
	hash *hashindex.Index

	logger *vmemlog.Logger

	limiter      *limiter.TokenBucket
	limiterStore store.Store
	breaker      *gobreaker.CircuitBreaker

	destroyed bool
}

// Create allocates and initializes an arena. If source is nil and size >
// 0, an initial span covering [base, base+size) is installed via Add.
// pool may be nil, in which case a Hosted pool (plain Go-heap-backed) is
// used; pass a *segpool.Freestanding for the self-hosting bootstrap case,
// where the arena's own records are drawn from pages the arena itself
// manages.
func Create(name string, base, size, quantum uint64, source Source, pool segpool.Pool, opts vmemconfig.Options) (*Arena, error) {
	if quantum == 0 || quantum&(quantum-1) != 0 {
		return nil, vmemerr.Wrap(fmt.Errorf("quantum=%#x", quantum), "arena: quantum must be a power of two")
	}
	if pool == nil {
		pool = segpool.Hosted{}
	}
	opts = opts.WithDefaults(name)

	a := &Arena{
		name:    name,
		id:      uuid.NewString(),
		quantum: quantum,
		source:  source,
		opts:    opts,
		pool:    pool,
		free:    freelist.New(),
		hash:    hashindex.New(opts.HashIndexCapacityHint),
		logger:  opts.Logger,
	}

	if opts.RateLimit.Enabled {
		a.limiterStore = store.NewMemoryStore(time.Minute)
		lim, err := limiter.NewTokenBucket(limiter.Config{
			Rate:     opts.RateLimit.RatePerSecond,
			Duration: time.Second,
			Burst:    opts.RateLimit.Burst,
		}, a.limiterStore)
		if err != nil {
			return nil, vmemerr.Wrap(err, "arena: rate limiter init failed")
		}
		a.limiter = lim
	}

	if opts.Breaker.Enabled {
		threshold := opts.Breaker.ConsecutiveFailures
		if threshold == 0 {
			threshold = 3
		}
		a.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    name + "-import",
			Timeout: opts.Breaker.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(cbName string, from, to gobreaker.State) {
				a.logger.Warn("import circuit breaker state change",
					vmemlog.String("breaker", cbName),
					vmemlog.String("from", from.String()),
					vmemlog.String("to", to.String()))
			},
		})
	}

	if source == nil && size > 0 {
		a.mu.Lock()
		a.addLocked(base, size, false)
		a.mu.Unlock()
	}

	a.logger.Info("arena created",
		vmemlog.String("name", name),
		vmemlog.String("id", a.id),
		vmemlog.Uint64("quantum", quantum))
	return a, nil
}

// Name returns the arena's human-readable name.
func (a *Arena) Name() string { return a.name }

// ID returns the arena's instance identifier, stable for its lifetime and
// unique per process. It plays no role in the allocation algorithm; it
// exists so Dump/log output from multiple arenas in one process can be
// told apart.
func (a *Arena) ID() string { return a.id }

// Add installs a new span covering [base, base+size). It is a caller bug
// (panics with a *vmemerr.Violation) for the span to overlap any existing
// span in this arena, for base/size not to be quantum-aligned, or for the
// new span's base not to exceed every existing segment's address — Add
// always appends the span at the tail of the segment list, so spans must
// be installed in increasing address order for the list to stay totally
// ordered by base.
func (a *Arena) Add(base, size uint64, flags Flags) *seg.Segment {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addLocked(base, size, false)
}

func (a *Arena) addLocked(base, size uint64, imported bool) *seg.Segment {
	if size == 0 || size%a.quantum != 0 || base%a.quantum != 0 {
		vmemerr.Panic("Add", "span [%#x,%#x) is not quantum-aligned (quantum=%#x)", base, base+size, a.quantum)
	}
	if tail := a.list.Back(); tail != nil && base < tail.End() {
		vmemerr.Panic("Add", "span [%#x,%#x) is not ordered after the existing tail ending at %#x", base, base+size, tail.End())
	}
	a.list.Each(func(s *seg.Segment) {
		if s.Kind != seg.Span {
			return
		}
		if base < s.End() && s.Base < base+size {
			vmemerr.Panic("Add", "span [%#x,%#x) overlaps existing span [%#x,%#x)", base, base+size, s.Base, s.End())
		}
	})

	span, err := a.pool.Acquire()
	if err != nil {
		vmemerr.Panic("Add", "segment pool exhausted: %v", err)
	}
	span.Base, span.Size, span.Kind, span.Imported = base, size, seg.Span, imported
	a.list.PushBack(span)

	free, err := a.pool.Acquire()
	if err != nil {
		vmemerr.Panic("Add", "segment pool exhausted: %v", err)
	}
	free.Base, free.Size, free.Kind = base, size, seg.Free
	a.list.InsertAfter(span, free)
	a.free.Insert(free)

	a.logger.Debug("span added",
		vmemlog.Uint64("base", base), vmemlog.Uint64("size", size), vmemlog.Bool("imported", imported))
	return span
}

// XAllocParams bundles XAlloc's constraint parameters.
type XAllocParams struct {
	Size    uint64
	Align   uint64
	Phase   uint64
	NoCross uint64
	MinAddr uint64
	MaxAddr uint64
	Flags   Flags
}

// XAlloc is the central allocation operation. It returns vmemerr.ErrNoMem
// — and only that — when no segment satisfies the request and the source
// (if any) can't supply more. Every other precondition violation panics.
func (a *Arena) XAlloc(ctx context.Context, p XAllocParams) (uint64, error) {
	if p.Size == 0 {
		vmemerr.Panic("XAlloc", "size must be > 0")
	}
	size := roundUp(p.Size, a.quantum)

	align := p.Align
	if align == 0 {
		align = a.quantum
	}
	if align%a.quantum != 0 || align&(align-1) != 0 {
		vmemerr.Panic("XAlloc", "align %#x must be a power-of-two multiple of quantum %#x", align, a.quantum)
	}
	if p.Phase%a.quantum != 0 {
		vmemerr.Panic("XAlloc", "phase %#x must be a multiple of quantum %#x", p.Phase, a.quantum)
	}

	fit := vmemconfig.InstantFit
	if p.Flags&BestFit != 0 {
		fit = vmemconfig.BestFit
	}

	if p.Flags&Bootstrap != 0 {
		if fp, ok := a.pool.(*segpool.Freestanding); ok {
			if err := fp.Refill(); err != nil {
				a.logger.Warn("xalloc: bootstrap refill failed", vmemlog.Err(err))
				return 0, vmemerr.ErrNoMem
			}
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.destroyed {
		vmemerr.Panic("XAlloc", "arena %q is destroyed", a.name)
	}

	lead, err := a.pool.Acquire()
	if err != nil {
		return 0, vmemerr.ErrNoMem
	}
	trail, err := a.pool.Acquire()
	if err != nil {
		a.pool.Release(lead)
		return 0, vmemerr.ErrNoMem
	}
	defer func() {
		if lead != nil {
			a.pool.Release(lead)
		}
		if trail != nil {
			a.pool.Release(trail)
		}
	}()

	for attempt := 0; ; attempt++ {
		chosen, start := a.findFit(fit, size, align, p.Phase, p.NoCross, p.MinAddr, p.MaxAddr)
		if chosen != nil {
			base := a.splitAndAllocate(chosen, start, size, &lead, &trail)
			return base, nil
		}
		if a.source == nil || attempt > 0 {
			return 0, vmemerr.ErrNoMem
		}
		if err := a.importFromSource(ctx, size); err != nil {
			return 0, vmemerr.ErrNoMem
		}
	}
}

// Alloc is shorthand for XAlloc with no alignment, phase, nocross, or
// address-range constraints. If flags names neither InstantFit nor
// BestFit, the arena's configured default is applied.
func (a *Arena) Alloc(ctx context.Context, size uint64, flags Flags) (uint64, error) {
	if flags&(InstantFit|BestFit) == 0 {
		if a.opts.DefaultFit == vmemconfig.BestFit {
			flags |= BestFit
		} else {
			flags |= InstantFit
		}
	}
	return a.XAlloc(ctx, XAllocParams{Size: size, Flags: flags})
}

func (a *Arena) findFit(fit vmemconfig.FitPolicy, size, align, phase, nocross, minaddr, maxaddr uint64) (*seg.Segment, uint64) {
	if fit == vmemconfig.BestFit {
		return a.findBestFit(size, align, phase, nocross, minaddr, maxaddr)
	}
	return a.findInstantFit(size, align, phase, nocross, minaddr, maxaddr)
}

func (a *Arena) findInstantFit(size, align, phase, nocross, minaddr, maxaddr uint64) (*seg.Segment, uint64) {
	b := instantFitStartBucket(size)
	for {
		nb, ok := a.free.NextOccupied(b)
		if !ok {
			return nil, 0
		}
		for s := a.free.Bucket(nb); s != nil; s = s.FreeNext {
			if start, ok := SegFit(s, size, align, phase, nocross, minaddr, maxaddr); ok {
				return s, start
			}
		}
		b = nb + 1
		if b >= freelist.K {
			return nil, 0
		}
	}
}

func (a *Arena) findBestFit(size, align, phase, nocross, minaddr, maxaddr uint64) (*seg.Segment, uint64) {
	start := freelist.BucketOf(size)
	for b := start; b < freelist.K; b++ {
		nb, ok := a.free.NextOccupied(b)
		if !ok {
			return nil, 0
		}
		b = nb
		var best *seg.Segment
		var bestStart uint64
		for s := a.free.Bucket(b); s != nil; s = s.FreeNext {
			if fitStart, ok := SegFit(s, size, align, phase, nocross, minaddr, maxaddr); ok {
				if best == nil || s.Size < best.Size {
					best, bestStart = s, fitStart
				}
			}
		}
		if best != nil {
			return best, bestStart
		}
	}
	return nil, 0
}

// splitAndAllocate carves size bytes starting at fitStart out of s,
// recycling lead/trail leftovers from the pre-acquired pair, and records
// the resulting ALLOCATED segment in the hash index. It returns the
// allocated base address.
func (a *Arena) splitAndAllocate(s *seg.Segment, fitStart, size uint64, lead, trail **seg.Segment) uint64 {
	a.free.Remove(s)

	if fitStart > s.Base {
		leadSeg := *lead
		*lead = nil
		leadSeg.Base, leadSeg.Size, leadSeg.Kind = s.Base, fitStart-s.Base, seg.Free
		a.list.InsertBefore(s, leadSeg)
		a.free.Insert(leadSeg)
	}

	s.Size -= fitStart - s.Base
	s.Base = fitStart

	tailSize := s.Size - size
	if tailSize > 0 {
		trailSeg := *trail
		*trail = nil
		trailSeg.Base, trailSeg.Size, trailSeg.Kind = fitStart+size, tailSize, seg.Free
		a.list.InsertAfter(s, trailSeg)
		a.free.Insert(trailSeg)
		s.Size = size
	}
	s.Kind = seg.Allocated

	a.hash.Insert(s)
	return s.Base
}

// Free returns an ALLOCATED segment at address to the arena, coalescing
// with any address-adjacent FREE neighbours. It is a caller bug (panics)
// to free an address this arena did not hand out, or to pass a size that
// (after quantum rounding) doesn't match the segment's recorded size.
func (a *Arena) Free(address, size uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := a.hash.Lookup(address)
	if s == nil {
		vmemerr.Panic("Free", "no allocated segment at base %#x", address)
	}
	if rounded := roundUp(size, a.quantum); s.Size != rounded {
		vmemerr.Panic("Free", "size mismatch at base %#x: segment has %#x, freed %#x", address, s.Size, rounded)
	}

	a.hash.Remove(address)
	s.Kind = seg.Free

	if pred := seglist.Predecessor(s); pred != nil && pred.Kind == seg.Free {
		a.free.Remove(pred)
		a.list.Remove(pred)
		s.Base = pred.Base
		s.Size += pred.Size
		a.pool.Release(pred)
	}
	if succ := seglist.Successor(s); succ != nil && succ.Kind == seg.Free {
		a.free.Remove(succ)
		a.list.Remove(succ)
		s.Size += succ.Size
		a.pool.Release(succ)
	}

	a.free.Insert(s)

	if span := seglist.Predecessor(s); span != nil && span.Kind == seg.Span &&
		span.Base == s.Base && span.Size == s.Size && span.Imported && a.source != nil {
		a.free.Remove(s)
		a.list.Remove(s)
		a.list.Remove(span)
		if err := a.source.Release(context.Background(), span.Base, span.Size); err != nil {
			a.logger.Warn("release to source failed", vmemlog.Uint64("base", span.Base), vmemlog.Err(err))
		}
		a.pool.Release(s)
		a.pool.Release(span)
	}
}

// Destroy releases every imported span back to the source arena and
// recycles all segment records. It is a caller bug to destroy an arena
// with outstanding allocations.
func (a *Arena) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.hash.Count() > 0 {
		vmemerr.Panic("Destroy", "arena %q destroyed with %d outstanding allocations", a.name, a.hash.Count())
	}

	a.list.Each(func(s *seg.Segment) {
		if s.Kind == seg.Span && s.Imported && a.source != nil {
			if err := a.source.Release(context.Background(), s.Base, s.Size); err != nil {
				a.logger.Warn("destroy: release to source failed", vmemlog.Uint64("base", s.Base), vmemlog.Err(err))
			}
		}
	})

	for s := a.list.Front(); s != nil; {
		next := s.BNext
		a.pool.Release(s)
		s = next
	}

	a.destroyed = true
	a.logger.Info("arena destroyed", vmemlog.String("name", a.name))
}

func (a *Arena) importFromSource(ctx context.Context, size uint64) error {
	if a.limiter != nil && !a.limiter.Allow(a.name) {
		return vmemerr.New("arena: import rate-limited")
	}

	doImport := func() (uint64, uint64, error) {
		return a.source.Import(ctx, size)
	}

	var base, gotSize uint64
	var err error
	if a.breaker != nil {
		var res any
		res, err = a.breaker.Execute(func() (any, error) {
			b, s2, ierr := doImport()
			if ierr != nil {
				return nil, ierr
			}
			return importResult{base: b, size: s2}, nil
		})
		if err == nil {
			ir := res.(importResult)
			base, gotSize = ir.base, ir.size
		}
	} else {
		base, gotSize, err = doImport()
	}
	if err != nil {
		a.logger.Warn("import from source failed", vmemlog.Err(err))
		return err
	}

	a.addLocked(base, gotSize, true)
	return nil
}

// Dump writes a diagnostic, non-bit-exact listing of every segment in
// address order followed by the hash index contents.
func (a *Arena) Dump(w io.Writer) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := fmt.Fprintf(w, "arena %q (%s) quantum=%#x\n", a.name, a.id, a.quantum); err != nil {
		return err
	}

	var writeErr error
	a.list.Each(func(s *seg.Segment) {
		if writeErr != nil {
			return
		}
		suffix := ""
		if s.Kind == seg.Span && s.Imported {
			suffix = " (imported)"
		}
		_, writeErr = fmt.Fprintf(w, "[%#x, %#x] (%s)%s\n", s.Base, s.End(), s.Kind, suffix)
	})
	if writeErr != nil {
		return writeErr
	}

	if _, err := fmt.Fprintf(w, "-- hash index (%d entries) --\n", a.hash.Count()); err != nil {
		return err
	}
	a.hash.Each(func(s *seg.Segment) {
		if writeErr != nil {
			return
		}
		_, writeErr = fmt.Fprintf(w, "  base=%#x size=%#x\n", s.Base, s.Size)
	})
	return writeErr
}

// DumpBrotli writes the same diagnostic listing as Dump, brotli-compressed,
// so a long-running arena's segment dump can be captured to a bounded log
// sink without unbounded line growth.
func (a *Arena) DumpBrotli(w io.Writer) error {
	bw := brotli.NewWriter(w)
	if err := a.Dump(bw); err != nil {
		bw.Close()
		return err
	}
	return bw.Close()
}
