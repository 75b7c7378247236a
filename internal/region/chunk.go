package region

import "github.com/duskforge/execmem/internal/execlist"

// FreeChunk is a maximal run of free bytes inside a Region. Unlike the
// source, where a chunk's link fields live inside the free memory it
// describes, FreeChunk is an ordinary Go heap value — a small bookkeeping
// arena separate from the Region's backing []byte — per the "arena of
// nodes indexed by handle" alternative spec.md's design notes call out
// for this exact situation. bytes is always a BlockSize multiple.
type FreeChunk struct {
	addr  Addr
	bytes uint64
	node  *execlist.Node[*FreeChunk]
}

func newFreeChunk(addr Addr, bytes uint64) *FreeChunk {
	fc := &FreeChunk{addr: addr, bytes: bytes}
	fc.node = execlist.NewNode[*FreeChunk](fc)
	return fc
}

// Addr returns the chunk's starting address.
func (fc *FreeChunk) Addr() Addr { return fc.addr }

// Bytes returns the chunk's size.
func (fc *FreeChunk) Bytes() uint64 { return fc.bytes }

// End returns the address immediately past the chunk.
func (fc *FreeChunk) End() Addr { return fc.addr + Addr(fc.bytes) }
