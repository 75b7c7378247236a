// Package mungwall implements the Allocator-layer guard bands described in
// spec.md §4.3.2: every public allocation gets an extra front block
// carrying the raw address, the true padded size, and a low magic word,
// plus a high magic word immediately after the user's bytes. Region stays
// a pure freelist (spec.md §4.2.4); mungwall is what turns a Region
// allocation into a bounds-checked user allocation.
//
// The source's literal offsets (user-W for the low magic, user-2W/-3W for
// the recovered size/address) only line up with a front padding block
// that is itself at least 3*Word and anchors those three fields flush
// against the user pointer — so that's the layout used here: any extra
// padding from a larger block size or alignment requirement goes at the
// *start* of the front block, not between the fields and the user
// pointer.
package mungwall

import (
	"encoding/binary"
	"fmt"

	"github.com/davecgh/go-spew/spew"

	"github.com/duskforge/execmem/internal/faults"
	"github.com/duskforge/execmem/internal/region"
)

const (
	// Word is the width of an address, size, or magic field.
	Word = 8

	// LoMagic guards the start of a user allocation.
	LoMagic uint64 = 0xDEADBEEFDEADBEEF
	// HiMagic guards the end of a user allocation.
	HiMagic uint64 = 0xCAFECAFECAFECAFE
)

// FrontSize returns the front padding block size for a given minimum
// block alignment (region.BlockSize for a plain allocation, or 1<<alignExp
// for an aligned one): big enough to hold the three guard fields, and at
// least as large as the caller's alignment requirement.
func FrontSize(blockAlign uint64) uint64 {
	if blockAlign < 3*Word {
		return 3 * Word
	}
	return blockAlign
}

// RawSize returns the padded backing-allocation size mungwall needs for a
// user request of userSize bytes given a front padding of front bytes.
func RawSize(userSize, front uint64) uint64 {
	return front + userSize + Word
}

// Wrap installs the guard bands around a raw allocation [raw, raw+rawSize)
// and returns the user-visible pointer, raw+front.
func Wrap(r *region.Region, raw region.Addr, rawSize uint64, userSize uint64, front uint64) region.Addr {
	user := raw + region.Addr(front)
	writeWord(r, raw+region.Addr(front-3*Word), uint64(raw))
	writeWord(r, raw+region.Addr(front-2*Word), rawSize)
	writeWord(r, raw+region.Addr(front-Word), LoMagic)
	writeWord(r, user+region.Addr(userSize), HiMagic)
	return user
}

// Unwrap verifies both guard words around a user allocation and recovers
// the raw address and padded size mungwall originally allocated. It
// raises a faults.Fault — with a spew dump of the surrounding bytes
// attached — if either magic word has been corrupted, satisfying
// spec.md §8 scenario 4's "assertion with both magic words reported."
func Unwrap(r *region.Region, user region.Addr, userSize uint64) (raw region.Addr, rawSize uint64) {
	lo := readWord(r, user-Word)
	hi := readWord(r, user+region.Addr(userSize))

	if lo != LoMagic || hi != HiMagic {
		detail := spew.Sdump(struct {
			UserPtr      region.Addr
			UserSize     uint64
			FoundLo      uint64
			ExpectLo     uint64
			FoundHi      uint64
			ExpectHi     uint64
			BytesAtFront []byte
			BytesAtBack  []byte
		}{
			UserPtr:      user,
			UserSize:     userSize,
			FoundLo:      lo,
			ExpectLo:     LoMagic,
			FoundHi:      hi,
			ExpectHi:     HiMagic,
			BytesAtFront: r.Read(user-Word, Word),
			BytesAtBack:  r.Read(user+region.Addr(userSize), Word),
		})
		faults.RaiseDetailed("free", uint64(user), userSize, detail,
			"mungwall guard corrupted (lo=0x%x want 0x%x, hi=0x%x want 0x%x)", lo, LoMagic, hi, HiMagic)
	}

	raw = region.Addr(readWord(r, user-3*Word))
	rawSize = readWord(r, user-2*Word)
	return raw, rawSize
}

func writeWord(r *region.Region, addr region.Addr, v uint64) {
	var buf [Word]byte
	binary.BigEndian.PutUint64(buf[:], v)
	r.Write(addr, buf[:])
}

func readWord(r *region.Region, addr region.Addr) uint64 {
	buf := r.Read(addr, Word)
	return binary.BigEndian.Uint64(buf)
}

// String renders a magic word the way diagnostics want it printed.
func String(v uint64) string { return fmt.Sprintf("0x%016x", v) }
