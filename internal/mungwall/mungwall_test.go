package mungwall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskforge/execmem/internal/faults"
	"github.com/duskforge/execmem/internal/region"
)

func newTestRegion(t *testing.T, size int) *region.Region {
	t.Helper()
	mem := make([]byte, size)
	return region.New(0x2000, mem, 0, 0, "test", true)
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	r := newTestRegion(t, 1024)
	front := FrontSize(region.BlockSize)

	raw, ok := r.Allocate(RawSize(64, front), region.AllocOptions{})
	require.True(t, ok)

	user := Wrap(r, raw, RawSize(64, front), 64, front)
	assert.Equal(t, raw+region.Addr(front), user)

	gotRaw, gotRawSize := Unwrap(r, user, 64)
	assert.Equal(t, raw, gotRaw)
	assert.Equal(t, RawSize(64, front), gotRawSize)
}

func TestUnwrapDetectsCorruption(t *testing.T) {
	r := newTestRegion(t, 1024)
	front := FrontSize(region.BlockSize)

	raw, ok := r.Allocate(RawSize(64, front), region.AllocOptions{})
	require.True(t, ok)
	user := Wrap(r, raw, RawSize(64, front), 64, front)

	// Scribble one byte just past the user's 64 bytes, inside the back
	// guard word, the way spec.md §8 scenario 4 corrupts the allocation.
	r.Write(user+64, []byte{0xFF})

	var caught *faults.Fault
	func() {
		defer func() {
			if v := recover(); v != nil {
				caught = v.(*faults.Fault)
			}
		}()
		Unwrap(r, user, 64)
	}()

	require.NotNil(t, caught, "corrupted high guard word must raise a fault")
	assert.Contains(t, caught.Detail, "FoundHi")
	assert.Contains(t, caught.Detail, "ExpectLo")
}

func TestUnwrapDetectsLowGuardCorruption(t *testing.T) {
	r := newTestRegion(t, 1024)
	front := FrontSize(region.BlockSize)

	raw, ok := r.Allocate(RawSize(32, front), region.AllocOptions{})
	require.True(t, ok)
	user := Wrap(r, raw, RawSize(32, front), 32, front)

	r.Write(user-Word, []byte{0, 0, 0, 0, 0, 0, 0, 0})

	assert.Panics(t, func() { Unwrap(r, user, 32) })
}

func TestFrontSizeRespectsAlignment(t *testing.T) {
	assert.Equal(t, uint64(region.BlockSize), FrontSize(region.BlockSize))
	assert.Equal(t, uint64(128), FrontSize(128))
	assert.Equal(t, uint64(3*Word), FrontSize(1))
}

func TestWrapKeepsUserPointerAligned(t *testing.T) {
	r := newTestRegion(t, 4096)
	front := FrontSize(128)

	raw, ok := r.AllocateAligned(RawSize(48, front), 7, region.AllocOptions{})
	require.True(t, ok)

	user := Wrap(r, raw, RawSize(48, front), 48, front)
	assert.Zero(t, uint64(user)%128, "front padding sized to the alignment keeps the user pointer aligned too")
}
