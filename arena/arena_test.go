package arena

import (
	"bytes"
	"context"
	"testing"

	"github.com/nmxmxh/vmem/vmemconfig"
	"github.com/nmxmxh/vmem/vmemerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestArena(t *testing.T, size uint64) *Arena {
	t.Helper()
	a, err := Create("test", 0x10000, size, 0x1000, nil, nil, vmemconfig.Options{})
	require.NoError(t, err)
	return a
}

func TestAllocExactFitNoSplit(t *testing.T) {
	a := newTestArena(t, 0x1000)
	base, err := a.Alloc(context.Background(), 0x1000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10000), base)

	_, err = a.Alloc(context.Background(), 0x1000, 0)
	assert.ErrorIs(t, err, vmemerr.ErrNoMem)
}

func TestAllocSplitsLeavesRemainderFree(t *testing.T) {
	a := newTestArena(t, 0x2000)
	base, err := a.Alloc(context.Background(), 0x1000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10000), base)

	base2, err := a.Alloc(context.Background(), 0x1000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x11000), base2)
}

func TestFreeCoalescesAdjacentNeighbours(t *testing.T) {
	a := newTestArena(t, 0x3000)
	b1, err := a.Alloc(context.Background(), 0x1000, 0)
	require.NoError(t, err)
	b2, err := a.Alloc(context.Background(), 0x1000, 0)
	require.NoError(t, err)
	b3, err := a.Alloc(context.Background(), 0x1000, 0)
	require.NoError(t, err)

	a.Free(b1, 0x1000)
	a.Free(b3, 0x1000)
	a.Free(b2, 0x1000)

	// fully coalesced back into one 0x3000 free extent: a fourth allocation
	// of the whole arena should now succeed. Best fit is used because
	// instant fit starts one size class above 0x3000's own bucket.
	base, err := a.Alloc(context.Background(), 0x3000, BestFit)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10000), base)
}

func TestAllocExhaustionReturnsErrNoMem(t *testing.T) {
	a := newTestArena(t, 0x1000)
	_, err := a.Alloc(context.Background(), 0x2000, 0)
	assert.ErrorIs(t, err, vmemerr.ErrNoMem)
}

func TestFreeUnknownAddressPanics(t *testing.T) {
	a := newTestArena(t, 0x1000)
	assert.Panics(t, func() { a.Free(0xdeadbeef, 0x1000) })
}

func TestDoubleFreePanics(t *testing.T) {
	a := newTestArena(t, 0x1000)
	base, err := a.Alloc(context.Background(), 0x1000, 0)
	require.NoError(t, err)
	a.Free(base, 0x1000)
	assert.Panics(t, func() { a.Free(base, 0x1000) })
}

func TestFreeWrongSizePanics(t *testing.T) {
	a := newTestArena(t, 0x2000)
	base, err := a.Alloc(context.Background(), 0x1000, 0)
	require.NoError(t, err)
	assert.Panics(t, func() { a.Free(base, 0x2000) })
}

func TestAddOverlapPanics(t *testing.T) {
	a := newTestArena(t, 0x1000)
	assert.Panics(t, func() { a.Add(0x10000, 0x1000, 0) })
}

func TestAddOutOfOrderPanics(t *testing.T) {
	a := newTestArena(t, 0x1000)
	assert.Panics(t, func() { a.Add(0, 0x1000, 0) })
}

func TestAddUnalignedPanics(t *testing.T) {
	a := newTestArena(t, 0)
	assert.Panics(t, func() { a.Add(0x10001, 0x1000, 0) })
	assert.Panics(t, func() { a.Add(0x10000, 0x1001, 0) })
}

func TestDestroyWithOutstandingAllocationPanics(t *testing.T) {
	a := newTestArena(t, 0x1000)
	_, err := a.Alloc(context.Background(), 0x1000, 0)
	require.NoError(t, err)
	assert.Panics(t, func() { a.Destroy() })
}

func TestDestroyClean(t *testing.T) {
	a := newTestArena(t, 0x1000)
	assert.NotPanics(t, func() { a.Destroy() })
}

func TestBestFitPrefersTighterSegment(t *testing.T) {
	a := newTestArena(t, 0)
	// two free spans of different size, installed in address order: a
	// small 0x2000 extent followed by a large 0x10000 one.
	a.Add(0x10000, 0x2000, 0)
	a.Add(0x20000, 0x10000, 0)

	base, err := a.XAlloc(context.Background(), XAllocParams{Size: 0x1800, Flags: BestFit})
	require.NoError(t, err)
	assert.Equal(t, uint64(0x10000), base, "best fit should prefer the smaller sufficient segment")
}

func TestXAllocRejectsNonPowerOfTwoAlign(t *testing.T) {
	a := newTestArena(t, 0x1000)
	assert.Panics(t, func() {
		a.XAlloc(context.Background(), XAllocParams{Size: 0x100, Align: 0x300})
	})
}

func TestXAllocRejectsUnalignedPhase(t *testing.T) {
	a := newTestArena(t, 0x1000)
	assert.Panics(t, func() {
		a.XAlloc(context.Background(), XAllocParams{Size: 0x100, Phase: 0x1})
	})
}

type fakeSource struct {
	imports   int
	base      uint64
	size      uint64
	alwaysErr bool
}

func (f *fakeSource) Import(ctx context.Context, size uint64) (uint64, uint64, error) {
	f.imports++
	if f.alwaysErr {
		return 0, 0, vmemerr.New("source exhausted")
	}
	base := f.base
	f.base += size
	return base, size, nil
}

func (f *fakeSource) Release(ctx context.Context, base, size uint64) error {
	return nil
}

func TestXAllocImportsFromSourceWhenExhausted(t *testing.T) {
	src := &fakeSource{base: 0x100000, size: 0x1000}
	a, err := Create("child", 0, 0, 0x1000, src, nil, vmemconfig.Options{})
	require.NoError(t, err)

	base, err := a.Alloc(context.Background(), 0x1000, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x100000), base)
	assert.Equal(t, 1, src.imports)
}

func TestXAllocNoMemWhenSourceFails(t *testing.T) {
	src := &fakeSource{base: 0x100000, size: 0x1000, alwaysErr: true}
	a, err := Create("child", 0, 0, 0x1000, src, nil, vmemconfig.Options{})
	require.NoError(t, err)

	_, err = a.Alloc(context.Background(), 0x1000, 0)
	assert.ErrorIs(t, err, vmemerr.ErrNoMem)
}

func TestDumpWritesSegments(t *testing.T) {
	a := newTestArena(t, 0x2000)
	_, err := a.Alloc(context.Background(), 0x800, 0)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, a.Dump(&buf))
	assert.Contains(t, buf.String(), "ALLOCATED")
	assert.Contains(t, buf.String(), "FREE")
}
