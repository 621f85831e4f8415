// Package vmemerr classifies vmem's two disjoint error families: resource
// exhaustion, a normal and recoverable outcome returned from XAlloc/Alloc,
// and caller-bug preconditions (overlap, double-free, freeing an unknown
// address, a non-power-of-two alignment), which are never turned into
// error returns because any recovery would leave the arena in an
// inconsistent state. Arena creation does not check the source graph for
// cycles.
package vmemerr

import (
	"errors"
	"fmt"
)

// ErrNoMem is the sole error XAlloc and Alloc ever return. It signals
// resource exhaustion, not a caller bug, and callers are expected to
// handle it as a normal outcome.
var ErrNoMem = errors.New("vmem: no memory")

// New creates a new error with a message, matching the teacher's
// NewError helper.
func New(msg string) error {
	return fmt.Errorf("%s", msg)
}

// Wrap wraps an error with additional context, matching the teacher's
// WrapError helper.
func Wrap(err error, msg string) error {
	if err == nil {
		return fmt.Errorf("%s", msg)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Violation represents a caller-bug precondition: overlapping Add, double
// free, an unknown address passed to Free, or a bad alignment. No
// Violation is raised for a cyclic source graph; Create does not look for
// one. Production builds may still choose to
// recover the panic that carries one of these and log it, but the arena
// that raised it must be treated as unusable afterward; these are not
// recoverable error paths.
type Violation struct {
	Op      string
	Message string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("vmem: caller bug in %s: %s", v.Op, v.Message)
}

// Panic raises a Violation. Every call site that asserts an invariant or
// a caller-bug precondition goes through this so the panic value is
// always recognizable via errors.As.
func Panic(op, format string, args ...any) {
	panic(&Violation{Op: op, Message: fmt.Sprintf(format, args...)})
}

// IsViolation reports whether err (typically recovered from a panic) is a
// vmem caller-bug violation.
func IsViolation(err error) bool {
	var v *Violation
	return errors.As(err, &v)
}
