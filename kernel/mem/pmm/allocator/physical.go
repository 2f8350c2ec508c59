// Package allocator maintains the free physical memory shared by the boot
// stages and hands out address ranges from it.
package allocator

import (
	"gopherboot/kernel"
	"gopherboot/kernel/hal/e820"
	"gopherboot/kernel/kfmt"
	"gopherboot/kernel/mem"
	"gopherboot/kernel/mem/pmm"
	"gopherboot/kernel/mem/rangeset"
	"gopherboot/kernel/sync"
	"math/bits"
)

var (
	// physAllocator tracks the free physical memory used by all boot
	// stages. It is statically initialised and becomes usable after a
	// call to Init.
	physAllocator physicalAllocator

	// lowMemory is never handed out; it holds the IVT, the BIOS data area
	// and the real mode trampoline.
	lowMemory = rangeset.Range{Start: 0, End: uint64(mem.Mb) - 1}

	logWriter = kfmt.PrefixWriter{Prefix: []byte("[allocator] ")}

	errAlreadyInitialized = &kernel.Error{Module: "allocator", Message: "physical allocator already initialized"}
	errUninitialized      = &kernel.Error{Module: "allocator", Message: "physical allocator is not initialized"}
	errRegionOverflow     = &kernel.Error{Module: "allocator", Message: "memory map region wraps the address space"}
	errFreeZeroSize       = &kernel.Error{Module: "allocator", Message: "zero sized free"}
	errFreeOverflow       = &kernel.Error{Module: "allocator", Message: "freed block wraps the address space"}
	errInvalidFrame       = &kernel.Error{Module: "allocator", Message: "invalid frame"}
	errNoUsableMemory     = &kernel.Error{Module: "allocator", Message: "memory map contains no usable memory"}
)

// physicalAllocator guards a RangeSet of free physical memory with a
// spinlock. The lock is not reentrant.
type physicalAllocator struct {
	lock  sync.Spinlock
	ready bool
	free  rangeset.RangeSet
}

// Populate fills set with the usable memory reported by src.
//
// The memory map is visited twice. The first pass inserts every available
// region and the second removes every other region, so memory the firmware
// reports as both available and reserved ends up reserved. Finally the
// first 1 MiB is removed. Zero length regions are ignored; regions that wrap
// the 64-bit address space are fatal.
func Populate(set *rangeset.RangeSet, src e820.Source) {
	src.VisitMemRegions(func(region *e820.MemoryMapEntry) bool {
		if region.Type == e820.MemAvailable && region.Length > 0 {
			set.Insert(regionRange(region))
		}
		return true
	})

	src.VisitMemRegions(func(region *e820.MemoryMapEntry) bool {
		if region.Type != e820.MemAvailable && region.Length > 0 {
			set.Remove(regionRange(region))
		}
		return true
	})

	set.Remove(lowMemory)
}

// regionRange converts a non-empty memory map region to an inclusive range.
func regionRange(region *e820.MemoryMapEntry) rangeset.Range {
	end, carry := bits.Add64(region.PhysAddress, region.Length-1, 0)
	if carry != 0 {
		panic(errRegionOverflow)
	}

	return rangeset.Range{Start: region.PhysAddress, End: end}
}

// init populates the free set from src and marks the allocator ready.
// It returns errNoUsableMemory if no memory is left after populating.
func (alloc *physicalAllocator) init(src e820.Source) *kernel.Error {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if alloc.ready {
		panic(errAlreadyInitialized)
	}

	Populate(&alloc.free, src)
	alloc.ready = true
	alloc.printMemoryMap(src)

	if alloc.free.Len() == 0 {
		return errNoUsableMemory
	}

	return nil
}

// allocate reserves size bytes aligned to align, preferring the ranges in
// hint if it is not nil.
func (alloc *physicalAllocator) allocate(size, align uint64, hint *rangeset.RangeSet) (uintptr, *kernel.Error) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if !alloc.ready {
		panic(errUninitialized)
	}

	addr, err := alloc.free.Allocate(size, align, hint)
	if err != nil {
		return 0, err
	}

	return uintptr(addr), nil
}

// release returns [ptr, ptr+size-1] to the free set.
func (alloc *physicalAllocator) release(ptr uintptr, size uint64) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	if !alloc.ready {
		panic(errUninitialized)
	}

	if size == 0 {
		panic(errFreeZeroSize)
	}

	end, carry := bits.Add64(uint64(ptr), size-1, 0)
	if carry != 0 {
		panic(errFreeOverflow)
	}

	alloc.free.Insert(rangeset.Range{Start: uint64(ptr), End: end})
}

// freeMemory returns the number of free bytes and the number of disjoint
// free ranges.
func (alloc *physicalAllocator) freeMemory() (mem.Size, int) {
	alloc.lock.Acquire()
	defer alloc.lock.Release()

	return mem.Size(alloc.free.TotalSize()), alloc.free.Len()
}

// printMemoryMap dumps the firmware memory map and the resulting free ranges.
// It is called with the lock held.
func (alloc *physicalAllocator) printMemoryMap(src e820.Source) {
	logWriter.Sink = kfmt.GetOutputSink()

	kfmt.Fprintf(&logWriter, "system memory map:\n")
	src.VisitMemRegions(func(region *e820.MemoryMapEntry) bool {
		kfmt.Fprintf(&logWriter, "\t[0x%16x - 0x%16x], size: %10d, type: %s\n",
			region.PhysAddress, region.PhysAddress+region.Length, region.Length, region.Type.String())
		return true
	})

	kfmt.Fprintf(&logWriter, "free memory ranges:\n")
	for _, r := range alloc.free.Entries() {
		kfmt.Fprintf(&logWriter, "\t[0x%16x - 0x%16x]\n", r.Start, r.End)
	}

	kfmt.Fprintf(&logWriter, "available memory: %dKb in %d ranges\n",
		uint64(mem.Size(alloc.free.TotalSize())/mem.Kb), alloc.free.Len())
}

// Init populates the shared allocator from the firmware memory map. It must
// be called exactly once, before any other function in this package; a
// second call is fatal.
func Init(src e820.Source) *kernel.Error {
	return physAllocator.init(src)
}

// Allocate reserves size bytes of physical memory aligned to align, which
// must be a power of two. The best-fitting free range is used.
func Allocate(size, align uint64) (uintptr, *kernel.Error) {
	return physAllocator.allocate(size, align, nil)
}

// AllocateIn works like Allocate but prefers memory inside the ranges of
// hint. If none of them can hold the request, any free memory is used.
func AllocateIn(size, align uint64, hint *rangeset.RangeSet) (uintptr, *kernel.Error) {
	return physAllocator.allocate(size, align, hint)
}

// Free returns size bytes starting at ptr to the allocator.
func Free(ptr uintptr, size uint64) {
	physAllocator.release(ptr, size)
}

// AllocFrame reserves a single page aligned physical frame.
func AllocFrame() (pmm.Frame, *kernel.Error) {
	addr, err := physAllocator.allocate(uint64(mem.PageSize), uint64(mem.PageSize), nil)
	if err != nil {
		return pmm.InvalidFrame, err
	}

	return pmm.FrameFromAddress(addr), nil
}

// FreeFrame returns a frame obtained via AllocFrame to the allocator.
func FreeFrame(frame pmm.Frame) {
	if !frame.Valid() {
		panic(errInvalidFrame)
	}

	physAllocator.release(frame.Address(), uint64(mem.PageSize))
}

// FreeMemory returns the number of free bytes and the number of disjoint
// free ranges tracked by the allocator.
func FreeMemory() (mem.Size, int) {
	return physAllocator.freeMemory()
}
