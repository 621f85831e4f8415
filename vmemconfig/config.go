// Package vmemconfig holds the functional-options-style configuration
// structs used to construct an arena, in the same shape as the teacher
// kernel's LoggerConfig/GossipConfig structs: a plain struct with
// defaults filled in by a constructor, not a builder chain.
package vmemconfig

import (
	"time"

	"github.com/nmxmxh/vmem/vmemlog"
)

// FitPolicy selects how XAlloc searches the free-list index.
type FitPolicy int

const (
	// InstantFit takes the first segment in the first sufficiently large
	// bucket: O(1) search, the default.
	InstantFit FitPolicy = iota
	// BestFit scans buckets from the smallest eligible upward and keeps
	// the tightest fit within the first bucket that yields any fit:
	// slower, less fragmentation.
	BestFit
)

// RateLimitConfig tunes the token bucket guarding calls into a source
// arena's Import. A zero-value RateLimitConfig disables rate limiting.
type RateLimitConfig struct {
	Enabled       bool
	RatePerSecond int64
	Burst         int64
}

// BreakerConfig tunes the circuit breaker wrapping Import calls. A
// zero-value BreakerConfig disables the breaker (every Import attempt
// goes straight through).
type BreakerConfig struct {
	Enabled             bool
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// Options configures Create. The zero value is usable: hosted segment
// pool, instant-fit default, no rate limiting or breaker, a default
// logger.
type Options struct {
	// DefaultFit is used by Alloc when its flags name neither InstantFit
	// nor BestFit.
	DefaultFit FitPolicy

	// QuantumCacheMax is a quantum-cache size threshold. No quantum-cache
	// layer is implemented by this module and XAlloc never reads this
	// field; it is only carried in the arena's options.
	QuantumCacheMax uint64

	// HashIndexCapacityHint sizes the allocated hash table and its bloom
	// filter. Zero means a small default.
	HashIndexCapacityHint int

	RateLimit RateLimitConfig
	Breaker   BreakerConfig

	Logger *vmemlog.Logger
}

// WithDefaults returns a copy of o with zero-valued fields filled in.
func (o Options) WithDefaults(name string) Options {
	if o.HashIndexCapacityHint <= 0 {
		o.HashIndexCapacityHint = 256
	}
	if o.Logger == nil {
		o.Logger = vmemlog.Default(name)
	}
	return o
}
