// Package kmain contains the Go entrypoint of the kernel stage.
package kmain

import (
	"gopherboot/kernel"
	"gopherboot/kernel/goruntime"
	"gopherboot/kernel/hal/e820"
	"gopherboot/kernel/kfmt"
	"gopherboot/kernel/mem/pmm/allocator"
)

var (
	// panicFn is mocked by tests.
	panicFn = kfmt.Panic

	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. The loader passes the address and length of the E820
// descriptor table it collected from the BIOS before switching to long mode.
//
// Kmain sets up the physical memory allocator from that table and then
// bootstraps the Go runtime allocator on top of it. Kmain is not expected to
// return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(e820TablePtr uintptr, e820Count uint32) {
	e820.SetTablePtr(e820TablePtr, e820Count)

	if err := allocator.Init(e820.DefaultTable()); err != nil {
		panic(err)
	}

	if err := goruntime.Init(); err != nil {
		panic(err)
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}
