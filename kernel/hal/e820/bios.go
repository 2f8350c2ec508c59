package e820

import (
	"gopherboot/kernel"
	"gopherboot/kernel/hal/realmode"
	"unsafe"
)

const (
	memoryMapVector = 0x15
	queryFunction   = 0xE820

	// smapSignature is "SMAP" as a big endian dword.
	smapSignature = 0x534D4150
)

var (
	errQueryFailed  = &kernel.Error{Module: "e820", Message: "BIOS memory map query failed"}
	errBadSignature = &kernel.Error{Module: "e820", Message: "BIOS memory map query returned a bad signature"}
)

// BIOS is a Source that queries the firmware on every visit.
type BIOS struct {
	// Invoke runs a real mode software interrupt.
	Invoke realmode.Invoker

	// Buffer is the address of a DescriptorSize scratch area that the
	// BIOS can reach from real mode.
	Buffer uintptr
}

// VisitMemRegions runs the E820 continuation protocol, invoking visitor for
// each returned descriptor until the BIOS reports the last one. A query that
// sets the carry flag or does not echo the SMAP signature is fatal.
func (b *BIOS) VisitMemRegions(visitor MemRegionVisitor) {
	var (
		regs  realmode.RegisterState
		entry = (*MemoryMapEntry)(unsafe.Pointer(b.Buffer))
	)

	for {
		*entry = MemoryMapEntry{}

		regs.Eax = queryFunction
		regs.Ecx = DescriptorSize
		regs.Edx = smapSignature
		regs.Edi = uint32(b.Buffer)
		regs.Es = 0
		regs.Efl = 0

		b.Invoke(memoryMapVector, &regs)

		if regs.Carry() {
			panic(errQueryFailed)
		}

		if regs.Eax != smapSignature {
			panic(errBadSignature)
		}

		entry.normalize()
		if !visitor(entry) {
			return
		}

		// EBX holds the continuation value; zero marks the last descriptor.
		if regs.Ebx == 0 {
			return
		}
	}
}
