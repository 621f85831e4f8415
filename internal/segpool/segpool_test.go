package segpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostedAcquireRelease(t *testing.T) {
	var p Hosted
	s, err := p.Acquire()
	require.NoError(t, err)
	require.NotNil(t, s)
	s.Base = 0x1000
	p.Release(s)
	assert.Equal(t, uint64(0), s.Base)
}

type fakePageSource struct {
	calls int
	fail  bool
}

func (f *fakePageSource) AllocPages(n int) (uint64, error) {
	f.calls++
	if f.fail {
		return 0, assert.AnError
	}
	return uint64(n) * 4096, nil
}

func TestFreestandingBootstrapReserve(t *testing.T) {
	src := &fakePageSource{}
	p, err := NewFreestanding(src, nil)
	require.NoError(t, err)
	assert.Equal(t, bootstrapReserve, p.FreeCount())
	assert.Equal(t, 1, src.calls)
}

func TestFreestandingRefillsBelowLowWaterMark(t *testing.T) {
	src := &fakePageSource{}
	p, err := NewFreestanding(src, nil)
	require.NoError(t, err)

	// drain down to the low-water mark without triggering a refill
	drained := bootstrapReserve - NFreeSegsMin
	for i := 0; i < drained; i++ {
		_, err := p.Acquire()
		require.NoError(t, err)
	}
	assert.Equal(t, NFreeSegsMin, p.FreeCount())
	callsBefore := src.calls

	_, err = p.Acquire()
	require.NoError(t, err)
	assert.Greater(t, src.calls, callsBefore, "acquiring at the low-water mark should trigger a refill")
}

func TestFreestandingBootstrapFailurePropagates(t *testing.T) {
	src := &fakePageSource{fail: true}
	_, err := NewFreestanding(src, nil)
	assert.Error(t, err)
}

func TestFreestandingReleaseResetsRecord(t *testing.T) {
	src := &fakePageSource{}
	p, err := NewFreestanding(src, nil)
	require.NoError(t, err)

	s, err := p.Acquire()
	require.NoError(t, err)
	s.Base = 0xabc

	p.Release(s)
	assert.Equal(t, uint64(0), s.Base)
}
