package e820

import "unsafe"

var (
	tablePtr   uintptr
	tableCount uint32
)

// SetTablePtr points the package at count consecutive descriptors starting
// at ptr. This function must be invoked before VisitMemRegions.
func SetTablePtr(ptr uintptr, count uint32) {
	tablePtr = ptr
	tableCount = count
}

// VisitMemRegions will invoke the supplied visitor for each memory region
// stored in the descriptor table registered via SetTablePtr.
func VisitMemRegions(visitor MemRegionVisitor) {
	if tablePtr == 0 {
		return
	}

	for index := uint32(0); index < tableCount; index++ {
		entry := (*MemoryMapEntry)(unsafe.Pointer(tablePtr + uintptr(index)*DescriptorSize))

		// Mark unknown entry types as reserved
		entry.normalize()

		if !visitor(entry) {
			return
		}
	}
}

type table struct{}

func (table) VisitMemRegions(visitor MemRegionVisitor) {
	VisitMemRegions(visitor)
}

// DefaultTable returns a Source that reads the descriptor table registered
// via SetTablePtr.
func DefaultTable() Source {
	return table{}
}
