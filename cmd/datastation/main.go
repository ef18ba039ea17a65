// cmd/datastation/main.go
//
// Entry point for the datastation CLI. Every subcommand opens the same
// runtime under --root and runs its shutdown routine on the way out, so
// buffered project writes are flushed even on a signal or panic.

package main

import (
	"fmt"
	"os"
)

// Build-time version information (set via ldflags during build)
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
