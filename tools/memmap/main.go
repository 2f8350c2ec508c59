// Command memmap inspects firmware memory maps and exercises the physical
// memory allocator against them on the build host.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[memmap] error: %s\n", err.Error())
		os.Exit(1)
	}
}
