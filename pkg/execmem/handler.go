package execmem

import "github.com/duskforge/execmem/internal/execlist"

// Handler status codes a Handler's Handle method returns.
const (
	DidNothing = 0
	AllDone    = -1
	TryAgain   = 1
)

// MemHandlerData is passed to a Handler on each invocation: the request
// that failed, plus the handler's own flags from registration.
//
// Reclaim is the handler's only safe way to give memory back. Handle runs
// with the Allocator's mutex already held by the caller that triggered the
// chain (spec §4.3.4/§5: handlers MUST NOT re-enter the Allocator), so a
// handler must never call Alloc/Free/AllocVec/FreeVec/AllocEntries on the
// Allocator it was registered on — doing so deadlocks against the same
// non-reentrant mutex. Reclaim releases addr/size directly against the
// owning region without taking the lock again.
type MemHandlerData struct {
	Size         uint64
	AlignExp     uint
	Flags        uint32
	HandlerFlags uint32
	Reclaim      func(addr Addr, size uint64)
}

// Handler is the typed capability the source's opaque-user-data callback
// becomes: a handler carries whatever state it needs inside its own
// implementation instead of threading a void pointer through the
// Allocator.
type Handler interface {
	Handle(data MemHandlerData) int
}

type handlerEntry struct {
	priority int32
	name     string
	flags    uint32
	handler  Handler
	recycle  bool
	node     *execlist.Node[*handlerEntry]
}

// callHandlers implements the reclaim protocol of spec §4.3.4. It advances
// a.cursor across the priority-sorted handler list, moving on to the next
// handler whenever one returns DidNothing, until a handler returns TryAgain
// or AllDone; it returns AllDone once the chain is exhausted.
func (a *Allocator) callHandlers(size uint64, alignExp uint, flags uint32) int {
	if a.handlers.IsEmpty() {
		return AllDone
	}

	if a.cursor == nil {
		a.cursor = a.handlers.Head()
		a.cursor.Owner().recycle = false
	} else if !a.cursor.Owner().recycle {
		a.cursor = a.handlers.Next(a.cursor)
		if a.cursor == nil {
			return AllDone
		}
	}

	for {
		he := a.cursor.Owner()
		data := MemHandlerData{Size: size, AlignExp: alignExp, Flags: flags, HandlerFlags: he.flags, Reclaim: a.free}
		switch he.handler.Handle(data) {
		case TryAgain:
			he.recycle = true
			return TryAgain
		case AllDone:
			he.recycle = false
			a.cursor = nil
			return AllDone
		default: // DidNothing, or any code the handler has no business returning
			he.recycle = false
			a.cursor = a.handlers.Next(a.cursor)
			if a.cursor == nil {
				return AllDone
			}
		}
	}
}

// SystemMemHandler is the do-nothing handler: a stub that always declines
// to free anything. Callers that want real reclaim behaviour supply their
// own Handler. New does not install SystemMemHandler; a caller that wants
// it as the chain tail adds it with AddHandler.
type SystemMemHandler struct{}

// Handle always returns DidNothing.
func (SystemMemHandler) Handle(MemHandlerData) int { return DidNothing }
