// Package faults carries the single "programming fault" error type shared
// by internal/region, internal/mungwall, and pkg/execmem. Faults are the
// spec's second error channel (spec.md §7): double-free, out-of-bounds
// free, corrupted guard words, zero-size requests, and similarly
// ill-formed calls abort the process with a diagnostic rather than
// returning a value, because there is no sane recovery for the caller to
// attempt.
package faults

import "fmt"

// Fault is a programming fault: a precondition the caller was responsible
// for upholding was violated. Fault is always raised via panic, never
// returned as an error value — callers that want to turn a specific fault
// into a recovered error in a test should use recover() and a type
// assertion, the same way the teacher's test suites assert on panics.
type Fault struct {
	Op      string // which operation detected the fault, e.g. "deallocate"
	Addr    uint64
	Size    uint64
	Message string
	Detail  string // optional diagnostic dump, e.g. mungwall's spew.Dump output
}

func (f *Fault) Error() string {
	if f.Detail != "" {
		return fmt.Sprintf("execmem: fault in %s at 0x%x (size=%d): %s\n%s",
			f.Op, f.Addr, f.Size, f.Message, f.Detail)
	}
	return fmt.Sprintf("execmem: fault in %s at 0x%x (size=%d): %s", f.Op, f.Addr, f.Size, f.Message)
}

// Raise panics with a Fault built from the given fields.
func Raise(op string, addr, size uint64, format string, args ...any) {
	panic(&Fault{Op: op, Addr: addr, Size: size, Message: fmt.Sprintf(format, args...)})
}

// RaiseDetailed is Raise plus an extra diagnostic block, for violations
// (like mungwall corruption) that need to show the offending bytes.
func RaiseDetailed(op string, addr, size uint64, detail, format string, args ...any) {
	panic(&Fault{Op: op, Addr: addr, Size: size, Message: fmt.Sprintf(format, args...), Detail: detail})
}
