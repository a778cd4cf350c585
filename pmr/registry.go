package pmr

import (
	"fmt"

	"github.com/arsenal-os/pmemrange/memutils/metadata"
	"github.com/cockroachdb/errors"
	"github.com/google/btree"
)

const registryDegree = 8

// rangeRegistry holds every memory range twice: ordered by address for point lookups, and ordered
// by (use, low) for allocation preference. useOrder caches the latter as a slice because the
// allocation engine needs to look one range ahead.
type rangeRegistry struct {
	byAddr *btree.BTreeG[*memoryRange]
	byUse  *btree.BTreeG[*memoryRange]

	useOrder []*memoryRange
}

func newRangeRegistry() *rangeRegistry {
	return &rangeRegistry{
		byAddr: btree.NewG[*memoryRange](registryDegree, rangeAddrLess),
		byUse:  btree.NewG[*memoryRange](registryDegree, rangeUseLess),
	}
}

func (r *rangeRegistry) rebuildUseOrder() {
	r.useOrder = r.useOrder[:0]
	r.byUse.Ascend(func(item *memoryRange) bool {
		r.useOrder = append(r.useOrder, item)
		return true
	})
}

func (r *rangeRegistry) insert(rng *memoryRange) {
	overlap := r.find(rng.low)
	r.byAddr.AscendGreaterOrEqual(rng, func(item *memoryRange) bool {
		if item.low < rng.high {
			overlap = item
		}
		return false
	})
	if overlap != nil {
		panic(fmt.Sprintf("memory range [%d, %d) overlaps with existing range [%d, %d)", rng.low, rng.high, overlap.low, overlap.high))
	}

	r.byAddr.ReplaceOrInsert(rng)
	r.byUse.ReplaceOrInsert(rng)
	r.rebuildUseOrder()
}

// find returns the memory range that contains pfn, or nil if pfn is not managed
func (r *rangeRegistry) find(pfn metadata.PFN) *memoryRange {
	var found *memoryRange
	r.byAddr.DescendLessOrEqual(&memoryRange{low: pfn}, func(item *memoryRange) bool {
		found = item
		return false
	})

	if found == nil || !found.contains(pfn) {
		return nil
	}
	return found
}

// raiseUse increments the use of every range in rngs and reorders them
func (r *rangeRegistry) raiseUse(rngs []*memoryRange) {
	for _, rng := range rngs {
		r.byUse.Delete(rng)
		rng.use++
		r.byUse.ReplaceOrInsert(rng)
	}
	r.rebuildUseOrder()
}

// ascend calls iterator for every range in address order, stopping when it returns false
func (r *rangeRegistry) ascend(iterator func(rng *memoryRange) bool) {
	r.byAddr.Ascend(iterator)
}

func (r *rangeRegistry) count() int {
	return r.byAddr.Len()
}

func (r *rangeRegistry) Validate() error {
	if r.byAddr.Len() != r.byUse.Len() || r.byAddr.Len() != len(r.useOrder) {
		return errors.Errorf("the registry holds %d ranges by address, %d by use and %d in the use order", r.byAddr.Len(), r.byUse.Len(), len(r.useOrder))
	}

	var prev *memoryRange
	var err error
	r.byAddr.Ascend(func(item *memoryRange) bool {
		if prev != nil && prev.high > item.low {
			err = errors.Errorf("memory range [%d, %d) overlaps with memory range [%d, %d)", prev.low, prev.high, item.low, item.high)
			return false
		}
		if !r.byUse.Has(item) {
			err = errors.Errorf("memory range [%d, %d) is missing from the use order", item.low, item.high)
			return false
		}

		err = item.Validate()
		if err != nil {
			return false
		}

		prev = item
		return true
	})
	if err != nil {
		return err
	}

	for i := 1; i < len(r.useOrder); i++ {
		if rangeUseLess(r.useOrder[i], r.useOrder[i-1]) {
			return errors.Errorf("memory range [%d, %d) is out of order in the use order", r.useOrder[i].low, r.useOrder[i].high)
		}
	}

	return nil
}
