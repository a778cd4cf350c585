package pmr

import (
	"fmt"

	"github.com/arsenal-os/pmemrange/memutils/metadata"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// ZeroEverything zeroes every dirty free page and moves it to the zero pool, so that later
// AllocationCreateZero requests are served without zeroing on the way out. It returns the number
// of pages that were zeroed.
func (a *Allocator) ZeroEverything() int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var zeroed int
	for _, rng := range a.ranges.useOrder {
		var dirty []*metadata.Extent
		_ = rng.index.Visit(func(e *metadata.Extent) error {
			if e.MemType() == metadata.MemTypeDirty {
				dirty = append(dirty, e)
			}
			return nil
		})

		for _, extent := range dirty {
			rng.index.Remove(extent)

			run, ok := a.pageRun(extent.Start(), extent.Length())
			if !ok {
				panic(fmt.Sprintf("free extent %s has no page descriptors", extent))
			}
			for i := range run {
				a.zeroPage(&run[i])
				run[i].updateFlags(PageZero, 0)
			}

			rng.index.Insert(metadata.NewExtent(extent.Start(), extent.Length(), metadata.MemTypeZero), false)
			a.counters.zeroPages.Add(int64(extent.Length()))
			zeroed += int(extent.Length())
		}
	}

	a.logger.Debug("Allocator::ZeroEverything", slog.Int("Pages", zeroed))
	return zeroed
}

// AllocLargest removes the largest free extent of any memory type from the free pools and hands
// the whole of it to the caller. It returns the first page and the number of pages of the run.
func (a *Allocator) AllocLargest() (metadata.PFN, int, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var largest *metadata.Extent
	var largestRange *memoryRange
	for _, rng := range a.ranges.useOrder {
		for memType := 0; memType < metadata.MemTypeCount; memType++ {
			candidate := rng.index.Largest(metadata.MemType(memType))
			if candidate != nil && (largest == nil || candidate.Length() > largest.Length()) {
				largest = candidate
				largestRange = rng
			}
		}
	}

	if largest == nil {
		return 0, 0, errors.Wrap(ErrResourceExhausted, "there are no free pages")
	}

	largestRange.index.Remove(largest)
	start, count := largest.Start(), largest.Length()

	run, ok := a.pageRun(start, count)
	if !ok {
		panic(fmt.Sprintf("free extent %s has no page descriptors", largest))
	}
	for i := range run {
		run[i].updateFlags(0, PageFree|PageZero|PagePmapMask)
		run[i].Owner = nil
		run[i].version++
	}

	a.counters.freePages.Add(-int64(count))
	if largest.MemType() == metadata.MemTypeZero {
		a.counters.zeroPages.Add(-int64(count))
	}

	a.logger.Debug("Allocator::AllocLargest", slog.Uint64("Start", uint64(start)), slog.Uint64("Count", count))
	return start, int(count), nil
}
