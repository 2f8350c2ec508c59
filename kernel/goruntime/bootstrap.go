// Package goruntime connects the Go runtime memory hooks to the physical
// memory allocator.
//
// The boot environment runs with an identity mapping, so every physical
// address handed out by the allocator can be dereferenced directly and no
// page tables need to be maintained. The redirects tool patches the runtime
// OS memory layer so that it jumps to the hooks below.
package goruntime

import (
	"gopherboot/kernel"
	"gopherboot/kernel/mem"
	"gopherboot/kernel/mem/pmm/allocator"
	"unsafe"
)

var (
	allocateFn = allocator.Allocate
	freeFn     = allocator.Free
	memsetFn   = kernel.Memset

	mallocInitFn    = mallocInit
	algInitFn       = algInit
	modulesInitFn   = modulesInit
	typeLinksInitFn = typeLinksInit
	itabsInitFn     = itabsInit
)

// pageAlign rounds size up to the next page boundary.
func pageAlign(size uintptr) uint64 {
	return (uint64(size) + uint64(mem.PageSize) - 1) &^ (uint64(mem.PageSize) - 1)
}

// sysAlloc returns a zeroed, page-aligned block of at least size bytes or
// nil if the allocator cannot satisfy the request.
//
//go:redirect-from runtime.sysAllocOS
//go:nosplit
func sysAlloc(size uintptr) unsafe.Pointer {
	regionSize := pageAlign(size)
	if regionSize == 0 {
		return nil
	}

	addr, err := allocateFn(regionSize, uint64(mem.PageSize))
	if err != nil {
		return nil
	}

	memsetFn(addr, 0, uintptr(regionSize))
	return unsafe.Pointer(addr)
}

// sysFree returns a block obtained via sysAlloc or sysReserve to the
// allocator.
//
//go:redirect-from runtime.sysFreeOS
//go:nosplit
func sysFree(ptr unsafe.Pointer, size uintptr) {
	regionSize := pageAlign(size)
	if regionSize == 0 {
		return
	}

	freeFn(uintptr(ptr), regionSize)
}

// sysReserve reserves a region for later use by sysMap. Without paging,
// address space and memory are the same thing, so the region is taken from
// the allocator right away. The placement hint is ignored.
//
//go:redirect-from runtime.sysReserveOS
//go:nosplit
func sysReserve(_ unsafe.Pointer, size uintptr) unsafe.Pointer {
	regionSize := pageAlign(size)
	if regionSize == 0 {
		return nil
	}

	addr, err := allocateFn(regionSize, uint64(mem.PageSize))
	if err != nil {
		return nil
	}

	return unsafe.Pointer(addr)
}

// sysMap makes part of a region returned by sysReserve ready for use. The
// memory is already backed, so it only needs to be zeroed.
//
//go:redirect-from runtime.sysMapOS
//go:nosplit
func sysMap(ptr unsafe.Pointer, size uintptr) {
	// We trust the runtime to call sysMap with a range inside a reserved region.
	regionStart := (uintptr(ptr) + uintptr(mem.PageSize-1)) &^ uintptr(mem.PageSize-1)
	memsetFn(regionStart, 0, uintptr(pageAlign(size)))
}

// Init enables support for various Go runtime features. It must be called
// after the physical memory allocator has been initialized. After a call to
// Init the following runtime features become available for use:
//   - heap memory allocation (new, make e.t.c)
//   - map primitives
//   - interfaces
func Init() *kernel.Error {
	mallocInitFn()
	algInitFn()       // setup hash implementation for map keys
	modulesInitFn()   // provides activeModules
	typeLinksInitFn() // uses maps, activeModules
	itabsInitFn()     // uses activeModules

	return nil
}

func init() {
	// Dummy calls so the compiler does not optimize away the functions in
	// this file.
	var zeroPtr = unsafe.Pointer(uintptr(0))

	sysFree(sysAlloc(0), 0)
	sysMap(sysReserve(zeroPtr, 0), 0)
}
