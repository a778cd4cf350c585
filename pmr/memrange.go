package pmr

import (
	"github.com/arsenal-os/pmemrange/memutils"
	"github.com/arsenal-os/pmemrange/memutils/metadata"
	"github.com/cockroachdb/errors"
)

// memoryRange is a window [low, high) of physical pages with its own free extent index. Ranges with
// a higher use are more contended by device constraints and are allocated from last.
type memoryRange struct {
	low  metadata.PFN
	high metadata.PFN
	use  int

	index *metadata.RangeIndex
}

var _ memutils.Validatable = &memoryRange{}

func newMemoryRange(low, high metadata.PFN, use int) *memoryRange {
	return &memoryRange{
		low:   low,
		high:  high,
		use:   use,
		index: metadata.NewRangeIndex(),
	}
}

func (r *memoryRange) contains(pfn metadata.PFN) bool {
	return pfn >= r.low && pfn < r.high
}

// intersects reports whether the range has pages inside [start, end), where zero leaves that side
// of the window unbounded
func (r *memoryRange) intersects(start, end metadata.PFN) bool {
	return memutils.Intersects(r.low, r.high, start, end)
}

func (r *memoryRange) Validate() error {
	if r.low >= r.high {
		return errors.Errorf("memory range [%d, %d) is empty", r.low, r.high)
	}

	if first := r.index.First(); first != nil && first.Start() < r.low {
		return errors.Errorf("extent %s lies below memory range [%d, %d)", first, r.low, r.high)
	}
	if last := r.index.Last(); last != nil && last.End() > r.high {
		return errors.Errorf("extent %s lies above memory range [%d, %d)", last, r.low, r.high)
	}

	return r.index.Validate()
}

func rangeAddrLess(left, right *memoryRange) bool {
	return left.low < right.low
}

func rangeUseLess(left, right *memoryRange) bool {
	if left.use != right.use {
		return left.use < right.use
	}
	return left.low < right.low
}
