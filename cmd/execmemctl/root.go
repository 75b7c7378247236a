package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose bool
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:   "execmemctl",
	Short: "Drive a region-based freelist allocator from the command line",
	Long: `execmemctl exercises github.com/duskforge/execmem against a real
[]byte-backed region: it registers regions and handlers, runs allocations,
and renders freelist/region statistics, purely for manual inspection.`,
	Version: "0.1.0",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "print each step as it runs")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable styled output")
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func printVerbose(format string, args ...any) {
	if verbose {
		fmt.Printf(format, args...)
	}
}
