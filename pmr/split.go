package pmr

import (
	"github.com/arsenal-os/pmemrange/memutils"
	"github.com/arsenal-os/pmemrange/memutils/metadata"
	"golang.org/x/exp/slog"
)

// split cuts the memory range that strictly contains pageno in two, so that pageno becomes the low
// page of a new range with the same use. Free extents at or above pageno move to the new range.
func (a *Allocator) split(pageno metadata.PFN) {
	rng := a.ranges.find(pageno)
	if rng == nil || rng.low >= pageno {
		return
	}

	drain := &memoryRange{
		low:   pageno,
		high:  rng.high,
		use:   rng.use,
		index: rng.index.SplitOff(pageno),
	}
	rng.high = pageno
	a.ranges.insert(drain)

	memutils.DebugValidate(rng)
	memutils.DebugValidate(drain)

	a.logger.Debug("Allocator::split",
		slog.Uint64("Low", uint64(rng.low)),
		slog.Uint64("Split", uint64(pageno)),
		slog.Uint64("High", uint64(drain.high)),
	)
}

// addressToPageWindow converts an address window whose highest address is inclusive into the
// half-open page window of all pages that lie fully inside it
func (a *Allocator) addressToPageWindow(lowAddr, highAddr uint64) (metadata.PFN, metadata.PFN) {
	mask := uint64(1)<<a.pageShift - 1

	low := lowAddr >> a.pageShift
	if lowAddr&mask != 0 {
		low++
	}

	high := highAddr >> a.pageShift
	if highAddr&mask == mask {
		high++
	}

	return metadata.PFN(low), metadata.PFN(high)
}

// RaiseUse increases the use of every page in the address window [lowAddr, highAddr]. Ranges are
// split as needed so the window falls on range edges. Allocations without a window prefer ranges
// with lower use, keeping device-constrained memory available for the devices that need it.
func (a *Allocator) RaiseUse(lowAddr, highAddr uint64) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.raiseUse(lowAddr, highAddr)
}

func (a *Allocator) raiseUse(lowAddr, highAddr uint64) {
	low, high := a.addressToPageWindow(lowAddr, highAddr)
	if high <= low {
		return
	}

	a.split(low)
	a.split(high)

	var raised []*memoryRange
	a.ranges.ascend(func(rng *memoryRange) bool {
		if rng.low >= high {
			return false
		}
		if memutils.IsSubrange(rng.low, rng.high, low, high) {
			raised = append(raised, rng)
		}
		return true
	})
	a.ranges.raiseUse(raised)

	a.logger.Debug("Allocator::RaiseUse",
		slog.Uint64("Low", uint64(low)),
		slog.Uint64("High", uint64(high)),
		slog.Int("Ranges", len(raised)),
	)
}
