package pmr

import (
	"strconv"

	"github.com/arsenal-os/pmemrange/memutils"
	"github.com/arsenal-os/pmemrange/memutils/metadata"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// AddStatistics sums basic statistics about every memory range into stats
func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, rng := range a.ranges.useOrder {
		stats.RangeCount++
		stats.TotalPages += int(rng.high - rng.low)
		stats.FreeSegmentCount += rng.index.SegmentCount()
		stats.FreePages += int(rng.index.FreePages())
	}
}

// AddDetailedStatistics sums detailed statistics about every memory range and every free extent
// into stats
func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	for _, rng := range a.ranges.useOrder {
		stats.RangeCount++
		stats.TotalPages += int(rng.high - rng.low)
		rng.index.AddDetailedStatistics(stats)
	}
}

// PrintDetailedMap writes a json object describing every memory range, in use order
func (a *Allocator) PrintDetailedMap(writer *jwriter.Writer) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	objState := writer.Object()
	defer objState.End()

	counters := a.Counters()
	objState.Name("FreePages").Int(counters.FreePages)
	objState.Name("ZeroPages").Int(counters.ZeroPages)

	rangesObj := objState.Name("Ranges").Object()
	defer rangesObj.End()

	for _, rng := range a.ranges.useOrder {
		rangeObj := rangesObj.Name(strconv.FormatUint(uint64(rng.low), 10)).Object()

		rangeObj.Name("Low").Int(int(rng.low))
		rangeObj.Name("High").Int(int(rng.high))
		rangeObj.Name("Use").Int(rng.use)
		rng.index.IndexJsonData(rangeObj)

		rangeObj.End()
	}
}

func (a *Allocator) validate() error {
	err := a.ranges.Validate()
	if err != nil {
		return err
	}

	var freePages, zeroPages int
	for _, rng := range a.ranges.useOrder {
		err = rng.index.Visit(func(e *metadata.Extent) error {
			run, ok := a.pageRun(e.Start(), e.Length())
			if !ok {
				return errors.Errorf("free extent %s has no page descriptors", e)
			}

			for i := range run {
				if run[i].loadFlags()&PageFree == 0 {
					return errors.Errorf("page %d is in free extent %s but is not marked free", run[i].pfn, e)
				}
				if run[i].memType() != e.MemType() {
					return errors.Errorf("page %d is %s but is in free extent %s", run[i].pfn, run[i].memType(), e)
				}
			}

			freePages += len(run)
			if e.MemType() == metadata.MemTypeZero {
				zeroPages += len(run)
			}
			return nil
		})
		if err != nil {
			return err
		}
	}

	var flaggedPages int
	for _, segment := range a.pageSegments {
		for i := range segment.pages {
			if segment.pages[i].loadFlags()&PageFree != 0 {
				flaggedPages++
			}
		}
	}

	if flaggedPages != freePages {
		return errors.Errorf("%d pages are marked free, but the free pools hold %d pages", flaggedPages, freePages)
	}
	if counted := int(a.counters.freePages.Load()); counted != freePages {
		return errors.Errorf("the free page counter is %d, but the free pools hold %d pages", counted, freePages)
	}
	if counted := int(a.counters.zeroPages.Load()); counted != zeroPages {
		return errors.Errorf("the zero page counter is %d, but the zero pools hold %d pages", counted, zeroPages)
	}

	return nil
}
