package execmem

// MemEntry is one request within a MemEntries batch: ReqsIn/FlagsIn
// mirror the arguments to Alloc, AddrOut is filled in on success.
type MemEntry struct {
	ReqsIn  uint32
	FlagsIn uint32
	SizeIn  uint64
	AddrOut Addr
}

// AllocEntries implements spec.md §4.3.5's allocEntry: attempts each
// entry in order, and on any failure rolls back every prior success
// before returning false — the batch is all-or-nothing. The whole batch
// runs under one acquisition of the allocator's mutex (per spec.md §4.3's
// "all public operations acquire the mutex for their duration"), so a
// concurrent caller can never observe the region mid-batch.
func (a *Allocator) AllocEntries(entries []*MemEntry) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, e := range entries {
		addr, ok := a.alloc(e.SizeIn, e.ReqsIn|e.FlagsIn)
		if !ok {
			a.rollback(entries[:i])
			return false
		}
		e.AddrOut = addr
	}
	return true
}

// FreeEntries implements freeEntry: releases every entry in reverse
// order, mirroring the order allocEntry's rollback uses, under one
// acquisition of the mutex.
func (a *Allocator) FreeEntries(entries []*MemEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rollback(entries)
}

// rollback assumes the caller already holds a.mu.
func (a *Allocator) rollback(done []*MemEntry) {
	for i := len(done) - 1; i >= 0; i-- {
		a.free(done[i].AddrOut, done[i].SizeIn)
		done[i].AddrOut = 0
	}
}
