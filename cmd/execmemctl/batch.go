package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/duskforge/execmem/pkg/execmem"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "batch",
		Short: "Run an all-or-nothing MemEntries batch allocation",
		Long: `batch requests three entries from a small region, the last of
which can never fit; it shows allocEntry rolling the first two back so the
region ends up exactly as free as it started.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch()
		},
	})
}

func runBatch() error {
	fmt.Println(render(headerStyle, "batch allocation demo"))

	a := execmem.New(execmem.Config{})
	a.AddRegion(0x1000, make([]byte, 256), execmem.Any, 0, "demo")

	entries := []*execmem.MemEntry{
		{SizeIn: 16, ReqsIn: execmem.Any},
		{SizeIn: 32, ReqsIn: execmem.Any},
		{SizeIn: 256, ReqsIn: execmem.Any}, // can never fit alongside the first two
	}

	fmt.Printf("  free before batch: %d bytes\n", a.AvailMem(execmem.Any))
	if a.AllocEntries(entries) {
		fmt.Println(render(okStyle, "batch succeeded (unexpected for this demo)"))
		return nil
	}

	fmt.Println(render(failStyle, "batch failed as expected: the third entry could not fit"))
	fmt.Printf("  free after rollback: %d bytes\n", a.AvailMem(execmem.Any))
	fmt.Println(render(okStyle, "rollback restored the region to its starting state"))
	return nil
}
