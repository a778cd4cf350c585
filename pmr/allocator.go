package pmr

import (
	"sync/atomic"

	"github.com/arsenal-os/pmemrange/memutils"
	"github.com/arsenal-os/pmemrange/memutils/metadata"
	"github.com/arsenal-os/pmemrange/pmr/internal/utils"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/cpu"
)

// Allocator manages every free physical page of the machine. It is created once at startup with New
// and is safe for concurrent use unless it was created with AllocatorCreateExternallySynchronized.
type Allocator struct {
	useMutex    bool
	logger      *slog.Logger
	createFlags CreateFlags
	pageShift   uint
	zeroer      PageZeroer
	callbacks   *memoryCallbacks

	mutex        *utils.OptionalMutex
	ranges       *rangeRegistry
	pageSegments []*pageSegment
	totalPages   int

	// freeGeneration is bumped under the mutex by every free, so that sleeping allocations can tell
	// a real wakeup from a spurious one
	freeGeneration uint64

	counters allocatorCounters
}

type allocatorCounters struct {
	_          cpu.CacheLinePad
	freePages  atomic.Int64
	_          cpu.CacheLinePad
	zeroPages  atomic.Int64
	_          cpu.CacheLinePad
	zeroHits   atomic.Int64
	zeroMisses atomic.Int64
	_          cpu.CacheLinePad
}

// Counters is a snapshot of the allocator's global page counters
type Counters struct {
	// FreePages is the number of pages in the free pools
	FreePages int
	// ZeroPages is the number of free pages that are known to be zeroed
	ZeroPages int
	// ZeroHits counts pages handed to AllocationCreateZero requests that were already zeroed
	ZeroHits int
	// ZeroMisses counts pages handed to AllocationCreateZero requests that had to be zeroed on the way out
	ZeroMisses int
}

// Counters returns the current values of the global page counters. The values are read without
// taking the allocator's lock, so they may be slightly out of date under contention.
func (a *Allocator) Counters() Counters {
	return Counters{
		FreePages:  int(a.counters.freePages.Load()),
		ZeroPages:  int(a.counters.zeroPages.Load()),
		ZeroHits:   int(a.counters.zeroHits.Load()),
		ZeroMisses: int(a.counters.zeroMisses.Load()),
	}
}

// PageShift returns log2 of the page size used to translate addresses into page numbers
func (a *Allocator) PageShift() uint { return a.pageShift }

// Page returns the descriptor of the managed page pfn, or nil if the page is not managed
func (a *Allocator) Page(pfn metadata.PFN) *Page {
	segment := a.findPageSegment(pfn)
	if segment == nil {
		return nil
	}
	return &segment.pages[pfn-segment.start]
}

// IsFree returns true if pfn is currently in one of the free pools
func (a *Allocator) IsFree(pfn metadata.PFN) bool {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	rng := a.ranges.find(pfn)
	if rng == nil {
		return false
	}
	return rng.index.Containing(pfn) != nil
}

// Validate performs a full consistency check of every memory range, every free extent, and the
// global counters. It is expensive and is intended for tests and debugging.
func (a *Allocator) Validate() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	return a.validate()
}

func (a *Allocator) zeroPage(page *Page) {
	if a.zeroer != nil {
		a.zeroer.ZeroPage(page)
	}
}

func (a *Allocator) wakeWaiters() {
	a.freeGeneration++
	a.mutex.Broadcast()
}

var _ memutils.Validatable = &Allocator{}
