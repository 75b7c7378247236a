package region

// Addr is a location inside the flat address space the allocator manages.
// It is not a real process pointer: each Region is assigned a disjoint
// [Lower, Upper) range by whoever registers it (see pkg/execmem's
// AddRegion), and all arithmetic stays inside that simulated space. This
// sidesteps the unsafe, GC-unsafe pointer-to-integer games the source
// relies on while preserving every address-based operation the spec
// describes (absolute allocation, address-range ownership lookup, and so
// on).
type Addr uint64

const (
	// BlockSize is the allocation and alignment quantum.
	BlockSize = 32
	// BlockExp is log2(BlockSize).
	BlockExp = 5
	// BlockMask is BlockSize-1, the mask for rounding to the quantum.
	BlockMask Addr = BlockSize - 1

	// AllocFill fills a freshly allocated block in debug builds.
	AllocFill uint64 = 0xAAAAAAAAAAAAAAAA
	// FreeFill fills a freshly freed block in debug builds.
	FreeFill uint64 = 0x5555555555555555
)

func alignUpMask(v, mask Addr) Addr {
	return (v + mask) &^ mask
}

func alignDownMask(v, mask Addr) Addr {
	return v &^ mask
}

// AlignUpSize rounds a byte count up to the next BlockSize multiple.
func AlignUpSize(size uint64) uint64 {
	return uint64(alignUpMask(Addr(size), BlockMask))
}

// AlignDownAddr rounds an address down to the enclosing BlockSize boundary.
func AlignDownAddr(a Addr) Addr {
	return alignDownMask(a, BlockMask)
}
