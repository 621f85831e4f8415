package arena

// Flags is the bitmask accepted by XAlloc, Alloc, and Add.
type Flags uint32

const (
	// InstantFit selects the O(1) fit policy: the head of the first
	// sufficiently large size-class bucket.
	InstantFit Flags = 1 << iota
	// BestFit selects the tight-packing fit policy: the smallest
	// segment in the first bucket that yields any fit.
	BestFit
	// Bootstrap refills the segment pool before allocating, acknowledging
	// that the caller may itself be the backing store for the pool's own
	// page source.
	Bootstrap
	// Sleep and NoSleep are accepted and carried through for hosted
	// implementations that may block waiting on a source arena; the core
	// engine never interprets them.
	Sleep
	NoSleep
)
