package arena

import "context"

// Source is the capability an arena uses to obtain spans from an upstream
// arena, and to return them. Locking, retry, and transport are this
// package's concern, not the source's.
type Source interface {
	// Import obtains a new extent of at least size from the source arena.
	// It may return more than size; the caller installs whatever it gets
	// back as one span.
	Import(ctx context.Context, size uint64) (base uint64, gotSize uint64, err error)
	// Release returns an extent previously obtained from Import.
	Release(ctx context.Context, base, size uint64) error
}

// importResult carries an Import's two return values through
// gobreaker.Execute, which only has room for a single interface{}.
type importResult struct {
	base, size uint64
}
