//go:build !amd64 && !386

// Package cpu exposes the processor primitives used by the boot stages.
package cpu

// Halt stops instruction execution. Architectures other than x86 only run
// the host-side tools and tests, so halting parks the caller forever.
func Halt() {
	select {}
}
