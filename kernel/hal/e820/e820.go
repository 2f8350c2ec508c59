// Package e820 provides access to the physical memory map reported by the
// BIOS through the INT 15h, EAX=E820h interface.
//
// Two sources are available. BIOS queries the firmware directly through a
// real mode trampoline and is used by the 32-bit loader. Table decodes the
// descriptors a previous stage already collected and stored in memory, which
// is how the 64-bit kernel receives the map.
package e820

// MemoryEntryType defines the type of a MemoryMapEntry.
type MemoryEntryType uint32

const (
	// MemAvailable indicates that the memory region is available for use.
	MemAvailable MemoryEntryType = iota + 1

	// MemReserved indicates that the memory region is not available for use.
	MemReserved

	// MemAcpiReclaimable indicates a memory region that holds ACPI info that
	// can be reused by the OS.
	MemAcpiReclaimable

	// MemNvs indicates memory that must be preserved when hibernating.
	MemNvs

	// MemUnusable indicates memory in which errors have been detected.
	MemUnusable

	// Any value >= memUnknown will be mapped to MemReserved.
	memUnknown
)

// String implements fmt.Stringer for MemoryEntryType.
func (t MemoryEntryType) String() string {
	switch t {
	case MemAvailable:
		return "available"
	case MemReserved:
		return "reserved"
	case MemAcpiReclaimable:
		return "ACPI (reclaimable)"
	case MemNvs:
		return "NVS"
	case MemUnusable:
		return "unusable"
	default:
		return "unknown"
	}
}

// DescriptorSize is the size in bytes of a single E820 address range
// descriptor.
const DescriptorSize = 24

// MemoryMapEntry describes a memory region entry, namely its physical address,
// its length and its type. Its layout matches the descriptor written by the
// BIOS so entries can be read in place.
type MemoryMapEntry struct {
	// The physical address for this memory region.
	PhysAddress uint64

	// The length of the memory region.
	Length uint64

	// The type of this entry.
	Type MemoryEntryType

	// ACPI 3.0 extended attributes. Not interpreted.
	ACPIAttrs uint32
}

// normalize maps unknown entry types to MemReserved.
func (e *MemoryMapEntry) normalize() {
	if e.Type == 0 || e.Type >= memUnknown {
		e.Type = MemReserved
	}
}

// MemRegionVisitor defines a visitor function that gets invoked by VisitMemRegions
// for each memory region reported by the firmware. The visitor must return true
// to continue or false to abort the scan.
type MemRegionVisitor func(entry *MemoryMapEntry) bool

// Source is implemented by anything that can enumerate the physical memory
// map. Every call to VisitMemRegions must yield the same ordered sequence of
// entries.
type Source interface {
	VisitMemRegions(visitor MemRegionVisitor)
}

// Entries is a Source backed by a slice of memory map entries.
type Entries []MemoryMapEntry

// VisitMemRegions invokes visitor for each entry in order.
func (e Entries) VisitMemRegions(visitor MemRegionVisitor) {
	for i := range e {
		e[i].normalize()
		if !visitor(&e[i]) {
			return
		}
	}
}
