// Package segpool supplies and recycles the boundary-tag records used by
// an arena. Two realizations share the Pool
// interface: Hosted, which defers to the Go heap/GC, and Freestanding,
// which maintains a process-global intrusive free-list bootstrapped from a
// static reserve so an arena can describe its own allocations without
// re-entering a page allocator on every request.
package segpool

import (
	"sync"

	"github.com/nmxmxh/vmem/internal/seg"
	"github.com/nmxmxh/vmem/vmemerr"
	"github.com/nmxmxh/vmem/vmemlog"
)

// Low-water mark: once the freestanding pool's free count drops to this
// level, the next Acquire triggers a refill before handing out a record.
const NFreeSegsMin = 8

// refillBatch is how many records one refill pulls from the page source,
// roughly one page's worth of records at a time.
const refillBatch = 64

// bootstrapReserve is installed once, before any arena operation, so the
// very first Acquire calls never have to refill.
const bootstrapReserve = 128

// PageSource supplies raw backing storage for segment records in
// freestanding mode. It is deliberately abstract: page-source plumbing
// stops at this callback contract, so Freestanding only asks it for
// capacity, and satisfies the actual record storage from Go's
// garbage-collected heap rather than casting raw page bytes into Segment
// records.
type PageSource interface {
	// AllocPages reserves n contiguous 4096-byte pages and returns how
	// many bytes of record storage that buys. Implementations that don't
	// care about real paging (e.g. tests) can just return n*4096, nil.
	AllocPages(n int) (uint64, error)
}

// Pool is the capability an arena's engine uses to obtain and recycle
// segment records. Acquire must never fail during an XAlloc call that has
// already passed admission — callers pre-acquire the worst-case number of
// records before mutating arena state.
type Pool interface {
	Acquire() (*seg.Segment, error)
	Release(*seg.Segment)
}

// Hosted realizes Pool directly on top of the Go heap: Acquire allocates,
// Release lets the garbage collector reclaim. This is the simplest
// conforming implementation and the default for library callers who don't
// need the freestanding pool's self-hosting bootstrap story.
type Hosted struct{}

func (Hosted) Acquire() (*seg.Segment, error) { return &seg.Segment{}, nil }
func (Hosted) Release(s *seg.Segment)         { s.Reset() }

// Freestanding is a process-global intrusive free-list of segment
// records, guarded by its own lock so that a refill can pull from a page
// source that is itself an arena layered on this one without re-entering
// any arena's lock.
type Freestanding struct {
	mu         sync.Mutex
	free       *seg.Segment // PoolNext-linked intrusive stack
	count      int
	pageSource PageSource
	logger     *vmemlog.Logger
}

// NewFreestanding constructs a freestanding pool and immediately installs
// the static bootstrap reserve. Bootstrap must run exactly once before any
// arena operation that uses this pool.
func NewFreestanding(pageSource PageSource, logger *vmemlog.Logger) (*Freestanding, error) {
	if logger == nil {
		logger = vmemlog.Default("segpool")
	}
	p := &Freestanding{pageSource: pageSource, logger: logger}
	if err := p.bootstrap(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Freestanding) bootstrap() error {
	if _, err := p.pageSource.AllocPages(reservePages()); err != nil {
		return vmemerr.Wrap(err, "segpool: bootstrap page reservation failed")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < bootstrapReserve; i++ {
		p.pushLocked(&seg.Segment{})
	}
	p.logger.Debug("segpool bootstrapped", vmemlog.Int("reserve", bootstrapReserve))
	return nil
}

func reservePages() int {
	// One record's worth of storage is negligible; round the reserve up
	// to whole 4KB pages purely to exercise the page-source contract.
	const recordsPerPage = 4096 / 64
	return (bootstrapReserve + recordsPerPage - 1) / recordsPerPage
}

// Acquire returns a free segment record, refilling first if the pool has
// fallen to or below NFreeSegsMin.
func (p *Freestanding) Acquire() (*seg.Segment, error) {
	p.mu.Lock()
	if p.count <= NFreeSegsMin {
		p.mu.Unlock()
		if err := p.Refill(); err != nil {
			return nil, err
		}
		p.mu.Lock()
	}
	s := p.popLocked()
	p.mu.Unlock()
	if s == nil {
		return nil, vmemerr.New("segpool: exhausted after refill")
	}
	return s, nil
}

// Release returns a record to the free-list. Release never fails.
func (p *Freestanding) Release(s *seg.Segment) {
	s.Reset()
	p.mu.Lock()
	p.pushLocked(s)
	p.mu.Unlock()
}

// Refill pulls one page's worth of fresh records from the page source.
// Refill takes only the pool's own lock, never an arena's lock, so a page
// source layered on top of this same arena can safely call back in.
func (p *Freestanding) Refill() error {
	if _, err := p.pageSource.AllocPages(1); err != nil {
		return vmemerr.Wrap(err, "segpool: refill page reservation failed")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := 0; i < refillBatch; i++ {
		p.pushLocked(&seg.Segment{})
	}
	p.logger.Debug("segpool refilled", vmemlog.Int("added", refillBatch), vmemlog.Int("free", p.count))
	return nil
}

// FreeCount reports the number of records currently on the free-list.
func (p *Freestanding) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count
}

func (p *Freestanding) pushLocked(s *seg.Segment) {
	s.PoolNext = p.free
	p.free = s
	p.count++
}

func (p *Freestanding) popLocked() *seg.Segment {
	s := p.free
	if s == nil {
		return nil
	}
	p.free = s.PoolNext
	s.PoolNext = nil
	p.count--
	return s
}
