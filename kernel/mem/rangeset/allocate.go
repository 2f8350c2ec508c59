package rangeset

import (
	"gopherboot/kernel"
	"math"
	"math/bits"
)

var (
	errZeroSize        = &kernel.Error{Module: "rangeset", Message: "zero sized allocation"}
	errBadAlignment    = &kernel.Error{Module: "rangeset", Message: "alignment is not a power of two"}
	errOutOfMemory     = &kernel.Error{Module: "rangeset", Message: "out of memory"}
	errUnrepresentable = &kernel.Error{Module: "rangeset", Message: "allocation does not fit in the addressable space"}

	// maxAddr is the highest address the current execution context can
	// dereference. Tests lower it to exercise unrepresentable allocations.
	maxAddr = uint64(math.MaxUint)
)

// Allocate reserves size bytes aligned to align and returns the address of
// the first byte. The reserved span is removed from the set.
//
// If hint is not nil, the first entry/hint overlap (entries in storage order,
// hint ranges in storage order) with enough aligned room wins. Otherwise, or
// if no overlap is large enough, the smallest entry that can hold the aligned
// allocation is used; ties go to the entry that comes first in storage order.
// The hint only biases placement; it never causes a request to fail.
//
// Allocate panics if size is zero or align is not a power of two. If no
// entry can satisfy the request it returns an error and leaves the set
// unmodified.
func (s *RangeSet) Allocate(size, align uint64, hint *RangeSet) (uint64, *kernel.Error) {
	if size == 0 {
		panic(errZeroSize)
	}

	if bits.OnesCount64(align) != 1 {
		panic(errBadAlignment)
	}

	var (
		addr            uint64
		found           bool
		unrepresentable bool
	)

	if hint != nil {
		addr, found, unrepresentable = s.allocateHinted(size, align, hint)
	}

	if !found {
		var skipped bool
		addr, found, skipped = s.allocateBestFit(size, align)
		unrepresentable = unrepresentable || skipped
	}

	switch {
	case found:
		s.Remove(Range{Start: addr, End: addr + size - 1})
		return addr, nil
	case unrepresentable:
		return 0, errUnrepresentable
	default:
		return 0, errOutOfMemory
	}
}

// allocateHinted returns the first aligned address inside an overlap between
// an entry and a hint range that can hold size bytes. The last result is set
// if a fitting overlap had to be skipped because it lies beyond maxAddr.
func (s *RangeSet) allocateHinted(size, align uint64, hint *RangeSet) (uint64, bool, bool) {
	var unrepresentable bool

	for _, entry := range s.Entries() {
		for _, region := range hint.Entries() {
			overlap, ok := entry.Overlaps(region)
			if !ok {
				continue
			}

			start, end, fits := fitAligned(overlap, size, align)
			if !fits {
				continue
			}

			if end > maxAddr {
				unrepresentable = true
				continue
			}

			return start, true, false
		}
	}

	return 0, false, unrepresentable
}

// allocateBestFit returns the aligned start address inside the smallest
// entry that can hold size bytes. The last result is set if a fitting entry
// had to be skipped because the allocation would end beyond maxAddr.
func (s *RangeSet) allocateBestFit(size, align uint64) (uint64, bool, bool) {
	var (
		bestAddr        uint64
		bestSpan        uint64
		found           bool
		unrepresentable bool
	)

	for _, entry := range s.Entries() {
		start, end, fits := fitAligned(entry, size, align)
		if !fits {
			continue
		}

		if end > maxAddr {
			unrepresentable = true
			continue
		}

		if span := entry.End - entry.Start; !found || span < bestSpan {
			bestAddr, bestSpan, found = start, span, true
		}
	}

	return bestAddr, found, unrepresentable
}

// fitAligned rounds r.Start up to align and reports whether size bytes
// starting there still fit inside r. Any arithmetic overflow means the
// allocation does not fit.
func fitAligned(r Range, size, align uint64) (uint64, uint64, bool) {
	mask := align - 1

	start, carry := bits.Add64(r.Start, mask, 0)
	if carry != 0 {
		return 0, 0, false
	}
	start &^= mask

	end, carry := bits.Add64(start, size-1, 0)
	if carry != 0 || end > r.End {
		return 0, 0, false
	}

	return start, end, true
}
