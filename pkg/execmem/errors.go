package execmem

import (
	"fmt"

	"github.com/duskforge/execmem/internal/faults"
)

// Fault is a programming fault — double-free, a corrupted guard band, an
// out-of-bounds free, a zero-size request. Faults are always raised via
// panic; there is no recovery path inside the allocator itself.
type Fault = faults.Fault

// OOMError describes a soft failure: an allocation request that no region
// and no handler could satisfy. Unlike Fault, it is never panicked. The
// Allocator's own allocation methods report soft failure as a false ok
// result and do not construct an OOMError.
type OOMError struct {
	Size  uint64
	Flags uint32
}

func (e *OOMError) Error() string {
	return fmt.Sprintf("execmem: out of memory (size=%d, flags=0x%x)", e.Size, e.Flags)
}
