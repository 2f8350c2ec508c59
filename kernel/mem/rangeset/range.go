// Package rangeset tracks free physical memory as a fixed-capacity set of
// disjoint, inclusive address ranges.
//
// The set backs the allocator that the Go runtime itself draws memory from,
// so none of the code in this package may allocate. All state lives in an
// inline array and every operation is a bounded linear scan.
package rangeset

import (
	"gopherboot/kernel"
	"math"
)

var (
	errInvalidRange = &kernel.Error{Module: "rangeset", Message: "range end is lower than its start"}
)

// Range is an inclusive span [Start, End] of a 64-bit address space.
type Range struct {
	Start uint64
	End   uint64
}

// NewRange returns the range [start, end]. It panics if end < start.
func NewRange(start, end uint64) Range {
	if start > end {
		panic(errInvalidRange)
	}

	return Range{Start: start, End: end}
}

// Valid returns true if the range start does not exceed its end.
func (r Range) Valid() bool {
	return r.Start <= r.End
}

// Size returns the number of addresses covered by the range. The range
// covering the entire 64-bit space reports math.MaxUint64.
func (r Range) Size() uint64 {
	if r.Start == 0 && r.End == math.MaxUint64 {
		return math.MaxUint64
	}

	return r.End - r.Start + 1
}

// Contains returns true if other lies entirely within r.
func (r Range) Contains(other Range) bool {
	if !other.Valid() {
		panic(errInvalidRange)
	}

	return r.Start <= other.Start && r.End >= other.End
}

// Overlaps returns the intersection of r and other and true if the two
// ranges share at least one address.
func (r Range) Overlaps(other Range) (Range, bool) {
	if !other.Valid() {
		panic(errInvalidRange)
	}

	if r.Start > other.End || other.Start > r.End {
		return Range{}, false
	}

	return Range{Start: max(r.Start, other.Start), End: min(r.End, other.End)}, true
}

// touches returns true if r and other overlap or are adjacent, i.e. they
// would still overlap after extending both ends by one address.
func (r Range) touches(other Range) bool {
	_, ok := Range{Start: r.Start, End: saturatingAdd(r.End, 1)}.Overlaps(
		Range{Start: other.Start, End: saturatingAdd(other.End, 1)},
	)
	return ok
}

// saturatingAdd returns a+b clamped to math.MaxUint64.
func saturatingAdd(a, b uint64) uint64 {
	if sum := a + b; sum >= a {
		return sum
	}
	return math.MaxUint64
}
