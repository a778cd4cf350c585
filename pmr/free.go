package pmr

import (
	"fmt"

	"github.com/arsenal-os/pmemrange/memutils/metadata"
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"golang.org/x/exp/slog"
)

// FreeRun returns the contiguous run of count pages starting at start to the free pools. Every page
// must be managed by this allocator and currently allocated. The run may cross from one physical
// segment into an adjacent one. The pages go back as dirty.
func (a *Allocator) FreeRun(start metadata.PFN, count int) error {
	a.logger.Debug("Allocator::FreeRun", slog.Uint64("Start", uint64(start)), slog.Int("Count", count))

	if count <= 0 {
		return errors.Wrapf(ErrConstraint, "attempted to free %d pages", count)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	span, ok := a.pageSpan(start, uint64(count))
	if !ok {
		return errors.Wrapf(ErrConstraint, "pages [%d, %d) are not a run of managed pages", start, start+metadata.PFN(count))
	}

	for _, run := range span {
		for i := range run {
			if run[i].IsFree() {
				return errors.Wrapf(ErrConstraint, "page %d is already free", run[i].pfn)
			}
		}
	}

	for _, run := range span {
		for i := range run {
			run[i].updateFlags(PageFree, PageZero)
		}
	}

	a.insertRun(start, uint64(count), metadata.MemTypeDirty)
	a.wakeWaiters()

	return nil
}

// FreeList returns every page in pages to the free pools. Pages do not need to be contiguous or
// sorted. Pages that were marked with Page.MarkZeroed go back to the zero pool, all others go back
// as dirty.
func (a *Allocator) FreeList(pages PageList) error {
	a.logger.Debug("Allocator::FreeList", slog.Int("Count", len(pages)))

	a.mutex.Lock()
	defer a.mutex.Unlock()

	seen := swiss.NewMap[metadata.PFN, struct{}](uint32(len(pages)))
	for _, page := range pages {
		if page == nil || a.Page(page.pfn) != page {
			return errors.Wrap(ErrConstraint, "attempted to free a page that is not managed by this allocator")
		}
		if page.IsFree() {
			return errors.Wrapf(ErrConstraint, "page %d is already free", page.pfn)
		}
		if seen.Has(page.pfn) {
			return errors.Wrapf(ErrConstraint, "page %d appears more than once", page.pfn)
		}
		seen.Put(page.pfn, struct{}{})
	}

	for _, page := range pages {
		page.updateFlags(PageFree, 0)
	}

	for len(pages) > 0 {
		first := pages[0]
		rng := a.ranges.find(first.pfn)
		if rng == nil {
			panic(fmt.Sprintf("managed page %d does not belong to any memory range", first.pfn))
		}

		// Peel off the longest prefix that can go into the free pools as one extent
		length := 1
		for length < len(pages) &&
			pages[length].pfn == first.pfn+metadata.PFN(length) &&
			pages[length].pfn < rng.high &&
			pages[length].memType() == first.memType() {
			length++
		}

		a.insertRun(first.pfn, uint64(length), first.memType())
		pages = pages[length:]
	}

	a.wakeWaiters()
	return nil
}

// insertRun places [start, start+count) into the free pools, cutting it at range edges. The page
// descriptors must already be marked free.
func (a *Allocator) insertRun(start metadata.PFN, count uint64, memType metadata.MemType) {
	for count > 0 {
		rng := a.ranges.find(start)
		if rng == nil {
			panic(fmt.Sprintf("managed page %d does not belong to any memory range", start))
		}

		rangeCount := uint64(rng.high - start)
		if count < rangeCount {
			rangeCount = count
		}

		rng.index.Insert(metadata.NewExtent(start, rangeCount, memType), false)
		a.counters.freePages.Add(int64(rangeCount))
		if memType == metadata.MemTypeZero {
			a.counters.zeroPages.Add(int64(rangeCount))
		}

		start += metadata.PFN(rangeCount)
		count -= rangeCount
	}
}
