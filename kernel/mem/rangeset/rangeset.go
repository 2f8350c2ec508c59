package rangeset

import "gopherboot/kernel"

// Capacity is the maximum number of disjoint ranges a RangeSet can track.
const Capacity = 256

var (
	errCapacityExceeded = &kernel.Error{Module: "rangeset", Message: "too many entries in range set"}
	errIndexOutOfRange  = &kernel.Error{Module: "rangeset", Message: "entry index out of range"}
)

// RangeSet is a set of disjoint, non-touching inclusive ranges. The zero
// value is an empty set that is ready to use.
//
// The layout contains no pointers or platform sized integers so the same
// value can be shared between the 32-bit loader and the 64-bit kernel.
type RangeSet struct {
	// ranges holds the live entries in ranges[:inUse]. Their order reflects
	// the insert/delete history and carries no meaning.
	ranges [Capacity]Range

	// inUse is the number of live entries.
	inUse uint32
}

// Entries returns the live entries in storage order. The returned slice
// aliases the set's internal storage: it must not be modified and it is only
// valid until the next mutation.
func (s *RangeSet) Entries() []Range {
	return s.ranges[:s.inUse]
}

// Len returns the number of live entries.
func (s *RangeSet) Len() int {
	return int(s.inUse)
}

// TotalSize returns the number of addresses covered by all entries,
// saturating at math.MaxUint64.
func (s *RangeSet) TotalSize() uint64 {
	var total uint64
	for _, entry := range s.Entries() {
		total = saturatingAdd(total, entry.Size())
	}
	return total
}

// ContainsAddr returns true if addr is covered by one of the entries.
func (s *RangeSet) ContainsAddr(addr uint64) bool {
	for _, entry := range s.Entries() {
		if entry.Start <= addr && addr <= entry.End {
			return true
		}
	}
	return false
}

// Insert adds r to the set, coalescing it with every entry it overlaps or
// touches. It panics if r is invalid or if the set is full.
func (s *RangeSet) Insert(r Range) {
	if !r.Valid() {
		panic(errInvalidRange)
	}

	// Merging can make r touch entries that were skipped earlier in the
	// scan, so restart from the top after every merge until nothing is left
	// to coalesce.
merge:
	for {
		for index := uint32(0); index < s.inUse; index++ {
			entry := s.ranges[index]
			if !entry.touches(r) {
				continue
			}

			r.Start = min(r.Start, entry.Start)
			r.End = max(r.End, entry.End)
			s.delete(index)
			continue merge
		}

		break
	}

	if s.inUse >= Capacity {
		panic(errCapacityExceeded)
	}

	s.ranges[s.inUse] = r
	s.inUse++
}

// Remove subtracts r from the set. Entries covered by r are deleted, entries
// partially overlapping r are trimmed and an entry strictly containing r is
// split in two. It panics if r is invalid or if a split overflows the set.
func (s *RangeSet) Remove(r Range) {
	if !r.Valid() {
		panic(errInvalidRange)
	}

subtract:
	for {
		for index := uint32(0); index < s.inUse; index++ {
			entry := s.ranges[index]
			if _, overlaps := entry.Overlaps(r); !overlaps {
				continue
			}

			switch {
			case r.Contains(entry):
				s.delete(index)
			case r.Start <= entry.Start:
				// r covers the head of the entry; r.End < entry.End.
				s.ranges[index].Start = r.End + 1
			case r.End >= entry.End:
				// r covers the tail of the entry; r.Start > entry.Start.
				s.ranges[index].End = r.Start - 1
			default:
				// r is strictly inside the entry.
				if s.inUse >= Capacity {
					panic(errCapacityExceeded)
				}

				s.ranges[index].Start = r.End + 1
				s.ranges[s.inUse] = Range{Start: entry.Start, End: r.Start - 1}
				s.inUse++
			}

			continue subtract
		}

		break
	}
}

// delete removes the entry at index, shifting the following entries down so
// that the live entries stay contiguous.
func (s *RangeSet) delete(index uint32) {
	if index >= s.inUse {
		panic(errIndexOutOfRange)
	}

	copy(s.ranges[index:s.inUse], s.ranges[index+1:s.inUse])
	s.inUse--
}
