package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duskforge/execmem/pkg/execmem"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "handlers",
		Short: "Run the low-memory handler chain against an exhausted region",
		Long: `handlers fills a small region completely, installs two reclaim
handlers at priorities 10 and 5, and requests one more block than free
space allows — watching the chain retry until the lower-priority handler
frees enough room for the request to succeed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHandlers()
		},
	})
}

// reclaimer frees nothing: the first time it's asked it returns TryAgain
// to be recycled, and it declines with DidNothing every time after.
type reclaimer struct {
	name string
	done bool
}

func (r *reclaimer) Handle(data execmem.MemHandlerData) int {
	if r.done {
		printVerbose("  %s: nothing left to give back\n", r.name)
		return execmem.DidNothing
	}
	r.done = true
	printVerbose("  %s: declining, asking to be recycled\n", r.name)
	return execmem.TryAgain
}

// freer holds one block reserved outside the Allocator's own bookkeeping
// and gives it back through data.Reclaim, which runs against the owning
// region directly instead of re-locking the Allocator — calling a.Free
// here would deadlock, since Handle runs with that same mutex already
// held by the caller that triggered the chain.
type freer struct {
	name string
	addr execmem.Addr
	size uint64
}

func (f *freer) Handle(data execmem.MemHandlerData) int {
	printVerbose("  %s: freeing %d bytes at 0x%x\n", f.name, f.size, f.addr)
	data.Reclaim(f.addr, f.size)
	return execmem.AllDone
}

func runHandlers() error {
	fmt.Println(render(headerStyle, "handler chain demo"))

	a := execmem.New(execmem.Config{})
	a.AddRegion(0x1000, make([]byte, 256), execmem.Any, 0, "demo")

	var held []execmem.Addr
	for i := 0; i < 4; i++ {
		addr, ok := a.Alloc(64, execmem.Any)
		if !ok {
			return fmt.Errorf("setup allocation failed")
		}
		held = append(held, addr)
	}
	fmt.Printf("  region filled, free: %d bytes\n", a.AvailMem(execmem.Any))

	a.AddHandler(10, "hi-priority", 0, &reclaimer{name: "hi-priority"})
	a.AddHandler(5, "lo-priority", 0, &freer{name: "lo-priority", addr: held[2], size: 64})

	addr, ok := a.Alloc(64, execmem.Any)
	if !ok {
		fmt.Println(render(failStyle, "allocation failed even after running the handler chain"))
		return fmt.Errorf("handler chain did not free enough room")
	}
	fmt.Printf("  allocation succeeded at 0x%x after the chain ran\n", addr)
	fmt.Println(render(okStyle, "handler chain demo completed"))
	return nil
}
