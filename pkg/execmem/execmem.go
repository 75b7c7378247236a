// Package execmem is the central allocator façade: it holds a
// priority-ordered list of Regions and a priority-ordered list of
// low-memory Handlers, dispatches allocation requests across regions by
// attribute mask, installs mungwall guard bands, and drives the handler
// chain on exhaustion. Region (internal/region) stays a pure freelist;
// everything attribute- and guard-band-related lives here, exactly the
// split the source draws between MemHeader and the exec.library entry
// points built on top of it.
package execmem

import (
	"encoding/binary"
	"log"
	"sync"

	"github.com/duskforge/execmem/internal/execlist"
	"github.com/duskforge/execmem/internal/faults"
	"github.com/duskforge/execmem/internal/mungwall"
	"github.com/duskforge/execmem/internal/region"
)

// Addr is the flat address space every Region and the Allocator share.
type Addr = region.Addr

// Allocation quantum, guard words, and debug fill patterns.
const (
	BlockSize  = region.BlockSize
	BlockExp   = region.BlockExp
	MungwallLo = mungwall.LoMagic
	MungwallHi = mungwall.HiMagic
	AllocFill  = region.AllocFill
	FreeFill   = region.FreeFill
)

// Config is the allocator's per-instance configuration, replacing the
// source's process-wide mutable debug flag: two Allocators in the same
// process can run with different settings.
type Config struct {
	// DebugFill fills allocated blocks with ALLOC_FILL and freed blocks
	// with FREE_FILL, the way a debug build of the source does.
	DebugFill bool
	// Mungwall wraps every public allocation in guard bands and verifies
	// them on free.
	Mungwall bool
	// Logger, if set, receives one line per region/handler registration
	// and per handler-chain retry. Nil disables logging entirely.
	Logger *log.Logger
}

func (a *Allocator) logf(format string, args ...any) {
	if a.cfg.Logger != nil {
		a.cfg.Logger.Printf(format, args...)
	}
}

type regionEntry struct {
	r    *region.Region
	node *execlist.Node[*regionEntry]
}

// Allocator is the central façade described in spec.md §4.3. All public
// methods acquire mu for their entire duration, including panics raised
// through faults — callers recovering from a Fault in a test still leave
// the Allocator in a consistent, unlocked state.
type Allocator struct {
	mu       sync.Mutex
	cfg      Config
	regions  *execlist.List[*regionEntry]
	handlers *execlist.List[*handlerEntry]
	cursor   *execlist.Node[*handlerEntry]
}

// New returns an Allocator with no regions and no handlers registered.
func New(cfg Config) *Allocator {
	return &Allocator{
		cfg:      cfg,
		regions:  execlist.New[*regionEntry](),
		handlers: execlist.New[*handlerEntry](),
	}
}

// AddRegion registers mem as a new Region under the allocator's
// management. mem is owned by the caller for the region's entire
// registration lifetime; the Allocator never copies or reallocates it.
func (a *Allocator) AddRegion(base Addr, mem []byte, attrs uint32, priority int32, name string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	re := &regionEntry{r: region.New(base, mem, attrs, priority, name, a.cfg.DebugFill)}
	re.node = execlist.NewNode[*regionEntry](re)
	a.regions.AddSorted(re.node, func(e *regionEntry) int { return -int(e.r.Priority) })
	a.logf("execmem: region %q registered (%d bytes, attrs=0x%x, priority=%d)", name, len(mem), attrs, priority)
}

// RemRegion unregisters the named region, returning false if no such
// region exists or it still holds live allocations (spec.md §3:
// remRegion only succeeds when free == total).
func (a *Allocator) RemRegion(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.regions.FindByName(name, func(e *regionEntry) string { return e.r.Name })
	if n == nil || !n.Owner().r.Idle() {
		return false
	}
	execlist.Unlink(n)
	return true
}

// AddHandler registers a reclaim handler at the given priority.
func (a *Allocator) AddHandler(priority int32, name string, flags uint32, h Handler) {
	a.mu.Lock()
	defer a.mu.Unlock()

	he := &handlerEntry{priority: priority, name: name, flags: flags, handler: h}
	he.node = execlist.NewNode[*handlerEntry](he)
	a.handlers.AddSorted(he.node, func(e *handlerEntry) int { return -int(e.priority) })
	a.logf("execmem: handler %q registered (flags=0x%x, priority=%d)", name, flags, priority)
}

// RemHandler unregisters the named handler, returning false if none
// matched. If the handler being removed is the current chain cursor, the
// cursor resets to nil so the next allocation attempt starts the chain
// over from its new head.
func (a *Allocator) RemHandler(name string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := a.handlers.FindByName(name, func(e *handlerEntry) string { return e.name })
	if n == nil {
		return false
	}
	if a.cursor == n {
		a.cursor = nil
	}
	execlist.Unlink(n)
	return true
}

// regionsMatching calls fn for each region matching reqs, in priority
// order, until fn returns true (meaning it is done).
func (a *Allocator) regionsMatching(reqs uint32, fn func(*region.Region) bool) {
	for n := a.regions.Head(); n != nil; n = a.regions.Next(n) {
		r := n.Owner().r
		if !matchesRequirement(r.Attrs, reqs) {
			continue
		}
		if fn(r) {
			return
		}
	}
}

// retryLoop is the shared shape of every allocation path: try every
// matching region; on total failure, run one step of the handler chain
// and retry the region walk again regardless of what the handler did
// (spec.md §4.3.4 step 5). Only a chain that reports AllDone AND whose
// following retry still fails ends the loop with failure; TryAgain always
// loops back for another handler step.
func (a *Allocator) retryLoop(flags uint32, size uint64, alignExp uint, try func(*region.Region) (Addr, bool)) (Addr, bool) {
	attempt := func() (Addr, bool) {
		var addr Addr
		var ok bool
		a.regionsMatching(flags, func(r *region.Region) bool {
			addr, ok = try(r)
			return ok
		})
		return addr, ok
	}

	for {
		if addr, ok := attempt(); ok {
			return addr, true
		}
		if flags&NoExpunge != 0 {
			return 0, false
		}
		a.logf("execmem: region walk failed for size=%d flags=0x%x, running handler chain", size, flags)
		if a.callHandlers(size, alignExp, flags) == AllDone {
			return attempt()
		}
	}
}

// Alloc implements spec.md §4.3.3's alloc: mungwall padding, matching
// regions in priority order, handler-chain retry on exhaustion.
func (a *Allocator) Alloc(size uint64, flags uint32) (Addr, bool) {
	if size == 0 {
		faults.Raise("alloc", 0, 0, "zero-size allocation request")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.alloc(size, flags)
}

func (a *Allocator) alloc(size uint64, flags uint32) (Addr, bool) {
	opts := region.AllocOptions{Reverse: flags&Reverse != 0, Clear: flags&Clear != 0}
	front := a.frontSize(region.BlockSize)
	raw := mungwall.RawSize(size, front)
	if !a.cfg.Mungwall {
		raw = size
	}

	addr, ok := a.retryLoop(flags, size, 0, func(r *region.Region) (Addr, bool) {
		return r.Allocate(raw, opts)
	})
	if !ok {
		return 0, false
	}
	return a.wrap(addr, size, front), true
}

// AllocAbs implements allocAbs in ABS mode: loc is a required starting
// address for the user pointer, shifted down by the front guard block so
// the raw allocation lands exactly where mungwall's front padding needs
// it to.
func (a *Allocator) AllocAbs(size uint64, loc Addr, flags uint32) (Addr, bool) {
	if size == 0 {
		faults.Raise("allocAbs", uint64(loc), 0, "zero-size allocation request")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	opts := region.AllocOptions{Reverse: flags&Reverse != 0, Clear: flags&Clear != 0}
	front := a.frontSize(region.BlockSize)
	raw := mungwall.RawSize(size, front)
	rawLoc := loc
	if a.cfg.Mungwall {
		rawLoc = loc - Addr(front)
	} else {
		raw = size
	}

	addr, ok := a.retryLoop(flags, size, 0, func(r *region.Region) (Addr, bool) {
		return r.AllocateAt(raw, rawLoc, opts)
	})
	if !ok {
		return 0, false
	}
	return a.wrap(addr, size, front), true
}

// AllocAlign implements allocAlign: forces ALIGN and the given exponent.
func (a *Allocator) AllocAlign(size uint64, alignExp uint, flags uint32) (Addr, bool) {
	if size == 0 {
		faults.Raise("allocAlign", 0, 0, "zero-size allocation request")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	flags |= Align
	opts := region.AllocOptions{Reverse: flags&Reverse != 0, Clear: flags&Clear != 0}
	front := a.frontSize(uint64(1) << alignExp)
	raw := mungwall.RawSize(size, front)
	if !a.cfg.Mungwall {
		raw = size
	}

	addr, ok := a.retryLoop(flags, size, alignExp, func(r *region.Region) (Addr, bool) {
		return r.AllocateAligned(raw, alignExp, opts)
	})
	if !ok {
		return 0, false
	}
	return a.wrap(addr, size, front), true
}

// AllocVec allocates size+Word bytes via Alloc, stores the full
// allocation size in the leading word, and returns a pointer past it.
// Pair with FreeVec.
func (a *Allocator) AllocVec(size uint64, flags uint32) (Addr, bool) {
	if size == 0 {
		faults.Raise("allocVec", 0, 0, "zero-size allocation request")
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	full := size + mungwall.Word
	raw, ok := a.alloc(full, flags)
	if !ok {
		return 0, false
	}
	a.writeVecHeader(raw, full)
	return raw + mungwall.Word, true
}

// Free releases a block obtained from Alloc/AllocAbs/AllocAlign. size
// must match the size originally requested; with mungwall enabled the
// true padded size is recovered from the guard bands and size is used
// only to verify the back guard's position.
func (a *Allocator) Free(addr Addr, size uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free(addr, size)
}

func (a *Allocator) free(addr Addr, size uint64) {
	r := a.ownerOf(addr)
	if r == nil {
		faults.Raise("free", uint64(addr), size, "address belongs to no registered region")
	}

	if !a.cfg.Mungwall {
		r.Deallocate(addr, size)
		return
	}
	raw, rawSize := mungwall.Unwrap(r, addr, size)
	r.Deallocate(raw, rawSize)
}

// FreeVec releases a block obtained from AllocVec.
func (a *Allocator) FreeVec(ptr Addr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r := a.ownerOf(ptr - mungwall.Word)
	if r == nil {
		faults.Raise("freeVec", uint64(ptr), 0, "address belongs to no registered region")
	}
	full := a.readVecHeader(ptr)
	a.free(ptr-mungwall.Word, full)
}

// DebugWrite writes data directly into an allocation's backing bytes,
// bypassing every size and guard-band check. It exists for debug/demo
// tooling (cmd/execmemctl's corruption demo) that needs to simulate a
// bounds violation from outside the allocator; production call paths
// have no use for it.
func (a *Allocator) DebugWrite(addr Addr, data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r := a.ownerOf(addr)
	if r == nil {
		faults.Raise("debugWrite", uint64(addr), uint64(len(data)), "address belongs to no registered region")
	}
	r.Write(addr, data)
}

// AvailMem implements spec.md §4.3.3's availMem: sum of free bytes across
// matching regions, or (with Largest) the largest single chunk, or (with
// Total) the sum of region capacities.
func (a *Allocator) AvailMem(flags uint32) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var total, largest uint64
	a.regionsMatching(flags, func(r *region.Region) bool {
		if flags&Largest != 0 {
			if sum := r.FreeBytesSum(); sum != r.Free {
				faults.Raise("availMem", uint64(r.Lower), 0, "region %q freelist sum %d disagrees with free counter %d", r.Name, sum, r.Free)
			}
			if lf := r.LargestFree(); lf > largest {
				largest = lf
			}
			return false
		}
		if flags&Total != 0 {
			total += r.Total
		} else {
			total += r.Free
		}
		return false
	})
	if flags&Largest != 0 {
		return largest
	}
	return total
}

// TypeOf returns the attrs of the region owning ptr, or 0 if none does.
func (a *Allocator) TypeOf(ptr Addr) uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r := a.ownerOf(ptr); r != nil {
		return r.Attrs
	}
	return 0
}

func (a *Allocator) ownerOf(addr Addr) *region.Region {
	for n := a.regions.Head(); n != nil; n = a.regions.Next(n) {
		if r := n.Owner().r; r.Contains(addr) {
			return r
		}
	}
	return nil
}

func (a *Allocator) frontSize(blockAlign uint64) uint64 {
	if !a.cfg.Mungwall {
		return 0
	}
	return mungwall.FrontSize(blockAlign)
}

func (a *Allocator) wrap(raw Addr, size, front uint64) Addr {
	if !a.cfg.Mungwall {
		return raw
	}
	return mungwall.Wrap(a.regionFor(raw), raw, mungwall.RawSize(size, front), size, front)
}

// regionFor is wrap's helper: the raw address it's given always belongs
// to whichever region just handed it out, found the same way ownerOf
// would, but callers here already hold the mutex.
func (a *Allocator) regionFor(addr Addr) *region.Region {
	r := a.ownerOf(addr)
	if r == nil {
		faults.Raise("alloc", uint64(addr), 0, "allocator returned an address outside every region (internal inconsistency)")
	}
	return r
}

func (a *Allocator) writeVecHeader(addr Addr, full uint64) {
	r := a.regionFor(addr)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], full)
	r.Write(addr, buf[:])
}

func (a *Allocator) readVecHeader(ptr Addr) uint64 {
	r := a.regionFor(ptr - mungwall.Word)
	buf := r.Read(ptr-mungwall.Word, mungwall.Word)
	return binary.BigEndian.Uint64(buf)
}
