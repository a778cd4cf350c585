package pmr

import (
	"sort"

	"github.com/arsenal-os/pmemrange/memutils/metadata"
	"github.com/arsenal-os/pmemrange/pmr/internal/utils"
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v2/common"
	"golang.org/x/exp/slog"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

var allocatorCreateFlagsMapping = common.NewFlagStringMapping[CreateFlags]()

func (f CreateFlags) Register(str string) {
	allocatorCreateFlagsMapping.Register(f, str)
}
func (f CreateFlags) String() string {
	return allocatorCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocatorCreateExternallySynchronized ensures that this allocator will not be synchronized
	// internally. The consumer must guarantee it is used from only one goroutine at a time or is
	// synchronized by some other mechanism. Requests with AllocationCreateWaitOK are rejected, since
	// nothing could ever wake them.
	AllocatorCreateExternallySynchronized CreateFlags = 1 << iota
)

func init() {
	AllocatorCreateExternallySynchronized.Register("AllocatorCreateExternallySynchronized")
}

const (
	// defaultPageShift is used as the PageShift when none is provided via CreateOptions. It
	// corresponds to 4KiB pages.
	defaultPageShift uint = 12
)

// Segment is a run of physical pages [Start, End) reported by the platform. All of its pages start
// out free and dirty.
type Segment struct {
	Start metadata.PFN
	End   metadata.PFN
}

// AddressWindow is a device-constrained physical address window. High is the highest usable
// address, not one past it.
type AddressWindow struct {
	Low  uint64
	High uint64
}

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// PageShift is log2 of the page size, used to translate AddressWindow and RaiseUse addresses
	// into page numbers. If left at 0, 4KiB pages are assumed.
	PageShift uint

	// Zeroer is called to fill pages with zeroes. If it is left nil, pages are only flagged as
	// zeroed, which is suitable for allocators that do not manage real memory.
	Zeroer PageZeroer

	// MemoryCallbackOptions is an optional set of callbacks that will be executed when the allocator
	// runs out of pages
	MemoryCallbackOptions *MemoryCallbackOptions
}

// New creates a new Allocator
//
// segments - The physical segment map of the machine. Every page in a segment is initially free.
// Segments must not overlap.
//
// ioWindows - Device-constrained address windows. Every window has its use raised once, so that
// allocations without constraints avoid it for as long as possible.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, segments []Segment, ioWindows []AddressWindow, options CreateOptions) (*Allocator, error) {
	useMutex := options.Flags&AllocatorCreateExternallySynchronized == 0

	allocator := &Allocator{
		useMutex:    useMutex,
		logger:      logger,
		createFlags: options.Flags,
		pageShift:   options.PageShift,
		zeroer:      options.Zeroer,
		mutex:       utils.NewOptionalMutex(useMutex),
		ranges:      newRangeRegistry(),
	}
	allocator.callbacks = &memoryCallbacks{
		Callbacks: options.MemoryCallbackOptions,
		Allocator: allocator,
	}

	if allocator.pageShift == 0 {
		allocator.pageShift = defaultPageShift
	}
	if allocator.pageShift >= 64 {
		return nil, errors.Wrapf(ErrConstraint, "page shift %d is too large", allocator.pageShift)
	}

	sorted := make([]Segment, len(segments))
	copy(sorted, segments)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	for i, segment := range sorted {
		if segment.End <= segment.Start {
			return nil, errors.Wrapf(ErrConstraint, "segment [%d, %d) is empty", segment.Start, segment.End)
		}
		if i > 0 && sorted[i-1].End > segment.Start {
			return nil, errors.Wrapf(ErrConstraint, "segment [%d, %d) overlaps with segment [%d, %d)",
				segment.Start, segment.End, sorted[i-1].Start, sorted[i-1].End)
		}
	}

	for _, segment := range sorted {
		pages := newPageSegment(segment)
		allocator.pageSegments = append(allocator.pageSegments, pages)
		allocator.totalPages += len(pages.pages)

		rng := newMemoryRange(segment.Start, segment.End, 0)
		rng.index.Insert(metadata.NewExtent(segment.Start, uint64(len(pages.pages)), metadata.MemTypeDirty), false)
		allocator.ranges.insert(rng)
		allocator.counters.freePages.Add(int64(len(pages.pages)))
	}

	for _, window := range ioWindows {
		if window.High < window.Low {
			return nil, errors.Wrapf(ErrConstraint, "io window [%#x, %#x] is empty", window.Low, window.High)
		}
		allocator.raiseUse(window.Low, window.High)
	}

	allocator.logger.Debug("Allocator::New",
		slog.Int("Segments", len(sorted)),
		slog.Int("Ranges", allocator.ranges.count()),
		slog.Int("FreePages", allocator.totalPages),
	)

	return allocator, nil
}
