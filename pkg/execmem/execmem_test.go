package execmem

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskforge/execmem/internal/region"
)

func (a *Allocator) soleRegion() *region.Region {
	return a.regions.Head().Owner().r
}

func TestFillAndDrainViaAllocator(t *testing.T) {
	a := New(Config{DebugFill: true})
	a.AddRegion(0x1000, make([]byte, 256), Any, 0, "main")

	addr, ok := a.Alloc(1, Any)
	require.True(t, ok)
	assert.Equal(t, a.soleRegion().Total-region.BlockSize, a.soleRegion().Free)

	a.Free(addr, 1)
	assert.Equal(t, a.soleRegion().Total, a.soleRegion().Free)
}

func TestAllocMatchesRequirementBits(t *testing.T) {
	a := New(Config{})
	a.AddRegion(0x1000, make([]byte, 256), Fast, 10, "fast")
	a.AddRegion(0x2000, make([]byte, 256), Public, 5, "public")

	addr, ok := a.Alloc(32, Public)
	require.True(t, ok)
	assert.Equal(t, uint32(Public), a.TypeOf(addr))
}

func TestAllocHonoursRegionPriorityOrder(t *testing.T) {
	a := New(Config{})
	a.AddRegion(0x1000, make([]byte, 64), Any, 1, "low")
	a.AddRegion(0x2000, make([]byte, 64), Any, 10, "high")

	addr, ok := a.Alloc(32, Any)
	require.True(t, ok)
	assert.True(t, addr >= 0x2000 && addr < 0x2000+64, "the higher-priority region should be tried first")
}

func TestMungwallRoundTrip(t *testing.T) {
	a := New(Config{Mungwall: true, DebugFill: true})
	a.AddRegion(0x1000, make([]byte, 1024), Any, 0, "main")

	addr, ok := a.Alloc(64, Any)
	require.True(t, ok)
	a.Free(addr, 64) // must not panic: guard bands intact
}

func TestMungwallDetectsCorruption(t *testing.T) {
	a := New(Config{Mungwall: true, DebugFill: true})
	a.AddRegion(0x1000, make([]byte, 1024), Any, 0, "main")

	addr, ok := a.Alloc(64, Any)
	require.True(t, ok)

	r := a.soleRegion()
	r.Write(addr+64, []byte{0x01}) // scribble into the high guard word

	var caught *Fault
	func() {
		defer func() {
			if v := recover(); v != nil {
				caught = v.(*Fault)
			}
		}()
		a.Free(addr, 64)
	}()
	require.NotNil(t, caught, "corrupted guard band must abort with a diagnostic")
	assert.Contains(t, caught.Detail, "FoundHi")
}

func TestAllocAlignSatisfiesMask(t *testing.T) {
	a := New(Config{Mungwall: true})
	a.AddRegion(0x1000, make([]byte, 4096), Any, 0, "main")

	addr, ok := a.AllocAlign(48, 7, Any)
	require.True(t, ok)
	assert.Zero(t, uint64(addr)%128)
}

func TestAllocAbsReturnsExactAddress(t *testing.T) {
	a := New(Config{Mungwall: true})
	a.AddRegion(0x1000, make([]byte, 1024), Any, 0, "main")

	target := Addr(0x1000 + 256)
	addr, ok := a.AllocAbs(32, target, Any)
	require.True(t, ok)
	assert.Equal(t, target, addr)
}

func TestAllocVecRoundTrip(t *testing.T) {
	a := New(Config{DebugFill: true})
	a.AddRegion(0x1000, make([]byte, 1024), Any, 0, "main")

	ptr, ok := a.AllocVec(40, Any)
	require.True(t, ok)
	a.FreeVec(ptr) // must not panic
}

// TestAllocVecRoundTripWithMungwall pins FreeVec passing the same size to
// free that AllocVec passed to alloc (the full size+Word length, not the
// caller-visible size): Wrap placed HiMagic at raw+front+full, so Unwrap
// must be asked to verify the guard at that same offset or it reports
// corruption on every round trip.
func TestAllocVecRoundTripWithMungwall(t *testing.T) {
	a := New(Config{Mungwall: true})
	a.AddRegion(0x1000, make([]byte, 1024), Any, 0, "main")

	ptr, ok := a.AllocVec(40, Any)
	require.True(t, ok)
	assert.NotPanics(t, func() { a.FreeVec(ptr) })
}

func TestAllocOfZeroIsAFault(t *testing.T) {
	a := New(Config{})
	a.AddRegion(0x1000, make([]byte, 256), Any, 0, "main")
	assert.Panics(t, func() { a.Alloc(0, Any) })
}

func TestAvailMemVariants(t *testing.T) {
	a := New(Config{})
	a.AddRegion(0x1000, make([]byte, 1024), Any, 0, "main")
	a.Alloc(64, Any)

	assert.Equal(t, uint64(1024-64), a.AvailMem(Any))
	assert.Equal(t, uint64(1024), a.AvailMem(Any|Total))
	assert.Equal(t, uint64(1024-64), a.AvailMem(Any|Largest))
}

func TestRemRegionRequiresIdle(t *testing.T) {
	a := New(Config{})
	a.AddRegion(0x1000, make([]byte, 256), Any, 0, "main")
	addr, _ := a.Alloc(32, Any)

	assert.False(t, a.RemRegion("main"), "region still holds a live allocation")
	a.Free(addr, 32)
	assert.True(t, a.RemRegion("main"))
}

// countingHandler returns TryAgain on its first call, DidNothing on every
// call after that, tracking call count itself the way a handler closing
// over its own state (rather than an opaque user-data pointer) should.
type countingHandler struct{ calls int }

func (h *countingHandler) Handle(MemHandlerData) int {
	h.calls++
	if h.calls == 1 {
		return TryAgain
	}
	return DidNothing
}

// freeingHandler frees a previously-allocated block through
// MemHandlerData.Reclaim, the reentrance-safe path a handler must use
// instead of calling back into the Allocator's own Alloc/Free while its
// mutex is already held.
type freeingHandler struct {
	addr Addr
	size uint64
}

func (h *freeingHandler) Handle(data MemHandlerData) int {
	data.Reclaim(h.addr, h.size)
	return AllDone
}

func TestHandlerChainRetryProtocol(t *testing.T) {
	a := New(Config{})
	a.AddRegion(0x1000, make([]byte, 256), Any, 0, "main")

	// Fill the region to zero free with four 64 B blocks.
	var blocks []Addr
	for i := 0; i < 4; i++ {
		addr, ok := a.Alloc(64, Any)
		require.True(t, ok)
		blocks = append(blocks, addr)
	}
	assert.Zero(t, a.AvailMem(Any))

	hi := &countingHandler{}
	lo := &freeingHandler{addr: blocks[2], size: 64}
	a.AddHandler(10, "hi", 0, hi)
	a.AddHandler(5, "lo", 0, lo)

	addr, ok := a.Alloc(64, Any)
	require.True(t, ok, "handler-5 freeing a block must let the retry succeed")
	assert.Equal(t, blocks[2], addr)
	assert.Equal(t, 2, hi.calls, "handler-10 must be invoked twice: TryAgain then DidNothing")
}

func TestBatchAllocEntriesAllOrNothing(t *testing.T) {
	a := New(Config{})
	a.AddRegion(0x1000, make([]byte, 256), Any, 0, "main")
	total := a.soleRegion().Total

	entries := []*MemEntry{
		{SizeIn: 16, ReqsIn: Any},
		{SizeIn: 32, ReqsIn: Any},
		{SizeIn: total, ReqsIn: Any}, // can never fit alongside the first two
	}

	ok := a.AllocEntries(entries)
	assert.False(t, ok)
	assert.Equal(t, total, a.soleRegion().Free, "a failed batch must roll back every prior success")
}

func TestBatchAllocEntriesSucceeds(t *testing.T) {
	a := New(Config{})
	a.AddRegion(0x1000, make([]byte, 256), Any, 0, "main")

	entries := []*MemEntry{
		{SizeIn: 16, ReqsIn: Any},
		{SizeIn: 32, ReqsIn: Any},
	}
	require.True(t, a.AllocEntries(entries))
	for _, e := range entries {
		assert.NotZero(t, e.AddrOut)
	}

	a.FreeEntries(entries)
	assert.Equal(t, a.soleRegion().Total, a.soleRegion().Free)
}
