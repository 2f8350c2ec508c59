//go:build amd64 || 386

// Package cpu exposes the processor primitives used by the boot stages.
package cpu

// Halt disables interrupts and stops instruction execution. It never returns.
func Halt()
