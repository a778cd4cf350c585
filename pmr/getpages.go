package pmr

import (
	"fmt"

	"github.com/arsenal-os/pmemrange/memutils"
	"github.com/arsenal-os/pmemrange/memutils/metadata"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// provisionalSegment is a run of pages that has been taken out of the free pools on behalf of an
// allocation that has not completed yet
type provisionalSegment struct {
	rng     *memoryRange
	start   metadata.PFN
	count   uint64
	memType metadata.MemType
}

func (s provisionalSegment) reinsert() {
	s.rng.index.Insert(metadata.NewExtent(s.start, s.count, s.memType), false)
}

type provisionalResult struct {
	segments  []provisionalSegment
	pageCount uint64
}

func (r *provisionalResult) add(rng *memoryRange, start, end metadata.PFN, memType metadata.MemType) {
	r.segments = append(r.segments, provisionalSegment{
		rng:     rng,
		start:   start,
		count:   uint64(end - start),
		memType: memType,
	})
	r.pageCount += uint64(end - start)
}

// evict returns one provisional segment to the free pools: the earliest one, or the smallest one
// when desperate. It returns the number of pages that were released.
func (r *provisionalResult) evict(desperate bool) uint64 {
	victim := 0
	if desperate {
		for i := 1; i < len(r.segments); i++ {
			if r.segments[i].count < r.segments[victim].count {
				victim = i
			}
		}
	}

	segment := r.segments[victim]
	r.segments = append(r.segments[:victim], r.segments[victim+1:]...)
	r.pageCount -= segment.count

	segment.reinsert()
	return segment.count
}

// release returns every provisional segment to the free pools
func (r *provisionalResult) release() {
	for _, segment := range r.segments {
		segment.reinsert()
	}
	r.segments = r.segments[:0]
	r.pageCount = 0
}

// searchState holds the parts of a request's search configuration that persist across retries
type searchState struct {
	search    [3]uint64
	startTry  int
	flags     AllocationCreateFlags
	desperate bool
}

func newSearchState(request *pageRequest) searchState {
	state := searchState{flags: request.flags}
	count := request.count
	maxSegments := uint64(request.maxSegments)

	switch {
	case maxSegments == 1 || count == 1:
		state.startTry = 2
		state.search[2] = count
	case maxSegments >= count && state.flags&AllocationCreateTryContig == 0:
		state.startTry = 2
		state.search[2] = 1
	default:
		// search[0] is a single segment, search[1] is roughly even-sized segments, and search[2]
		// considers every extent
		state.search[0] = count
		state.search[1] = memutils.Pow2Divide(count, maxSegments)
		state.search[2] = 1
		if state.flags&AllocationCreateTryContig == 0 {
			state.startTry = 1
		}
		if state.search[1] >= state.search[0] {
			state.search[1] = state.search[0]
			state.startTry = 1
		}
		if state.search[2] >= state.search[state.startTry] {
			state.startTry = 2
		}
	}

	return state
}

func (s *searchState) useFastPath(request *pageRequest) bool {
	return request.count <= uint64(request.maxSegments) &&
		request.alignment == 1 &&
		request.boundary == 0 &&
		s.flags&AllocationCreateTryContig == 0
}

// GetPages allocates count pages that satisfy the constraints in info. The result is made of at
// most info.MaxSegments contiguous runs, each of which is aligned to info.Alignment and does not
// straddle a multiple of info.Boundary.
//
// If the pages are not available, ErrResourceExhausted is returned, unless AllocationCreateWaitOK
// was specified, in which case the call sleeps until pages are freed and tries again. Either way,
// a failed attempt leaves the free pools exactly as it found them.
func (a *Allocator) GetPages(count int, info AllocationCreateInfo) (PageList, error) {
	a.logger.Debug("Allocator::GetPages", slog.Int("Count", count), slog.String("Flags", info.Flags.String()))

	request, err := a.buildPageRequest(count, info)
	if err != nil {
		return nil, err
	}

	state := newSearchState(&request)
	var result provisionalResult
	waited := false

	a.mutex.Lock()
	for !a.findPages(&request, &state, &result) {
		result.release()

		if request.flags&AllocationCreateWaitOK == 0 || (waited && request.flags&AllocationCreateFailOK != 0) {
			a.mutex.Unlock()
			a.callbacks.Exhausted(count, info)

			a.logger.Debug("Allocator::GetPages failed",
				slog.Int("Count", count),
				slog.Bool("Desperate", state.desperate),
			)
			return nil, errors.Wrapf(ErrResourceExhausted, "could not find %d pages in [%d, %d) with alignment %d, boundary %d and %d segments",
				count, request.start, request.end, request.alignment, request.boundary, request.maxSegments)
		}

		a.waitForFree(count, info)
		waited = true
	}

	a.counters.freePages.Add(-int64(request.count))
	pages, dirty := a.commitPages(&request, &result)
	a.mutex.Unlock()

	for _, page := range dirty {
		a.zeroPage(page)
	}

	a.logger.Debug("Allocator::GetPages succeeded",
		slog.Int("Count", count),
		slog.Int("Segments", len(result.segments)),
	)
	return pages, nil
}

// waitForFree sleeps until at least one free has happened. The mutex must be held, and it is held
// again when waitForFree returns.
func (a *Allocator) waitForFree(count int, info AllocationCreateInfo) {
	generation := a.freeGeneration

	a.mutex.Unlock()
	a.callbacks.Exhausted(count, info)
	a.mutex.Lock()

	for generation == a.freeGeneration {
		a.mutex.Wait()
	}
}

// findPages fills result with the requested pages, returning false if the free pools could not
// satisfy the request. On failure, result may still hold provisional segments that must be released.
func (a *Allocator) findPages(request *pageRequest, state *searchState, result *provisionalResult) bool {
	memutils.DebugCheckPow2(request.alignment, "alignment")
	memutils.DebugCheckPow2(request.boundary, "boundary")

	for {
		if state.useFastPath(request) {
			a.takeAnyPages(request, result)
			return result.pageCount == request.count
		}

		if a.searchRanges(request, state, result) {
			return true
		}

		if state.desperate {
			return false
		}

		// Take whatever memory type is available, from any range, in the smallest pieces, and allow
		// the fast path. Extents scanned before are revisited, so start over from an empty result.
		state.desperate = true
		state.startTry = len(state.search) - 1
		state.flags &^= AllocationCreateTryContig
		result.release()
	}
}

// searchRanges visits every range in use order, every memory type, and every search size, until the
// request is fully satisfied. Unless desperate, ranges with a higher use than the first usable one
// are left alone.
func (a *Allocator) searchRanges(request *pageRequest, state *searchState, result *provisionalResult) bool {
	useOrder := a.ranges.useOrder

	for i, rng := range useOrder {
		if rng.index.IsEmpty() || !rng.intersects(request.start, request.end) {
			continue
		}

		memType := request.memTypeInit
		for {
			for try := state.startTry; try < len(state.search); try++ {
				if a.drainRange(rng, memType, state.search[try], request, state.desperate, result) {
					return true
				}
			}

			memType = memType.Next()
			if memType == request.memTypeInit {
				break
			}
		}

		if !state.desperate && i+1 < len(useOrder) && useOrder[i+1].use != rng.use {
			break
		}
	}

	return false
}

// drainRange walks the extents of memType in rng with at least searchSize pages, from smallest to
// largest, and takes every usable page from each one until the request is satisfied.
func (a *Allocator) drainRange(rng *memoryRange, memType metadata.MemType, searchSize uint64, request *pageRequest, desperate bool, result *provisionalResult) bool {
	index := rng.index

	var next *metadata.Extent
	for found := index.FindAtLeast(searchSize, memType); found != nil && found.Live(); found = next {
		next = index.Next(found, memType)

		fstart := found.Start()
		if request.start > fstart {
			fstart = request.start
		}

		for found != nil {
			if len(result.segments) == request.maxSegments {
				// Evicted pages are joined back into their neighbors, which may swallow found or next
				foundStart := found.Start()
				var nextStart metadata.PFN
				if next != nil {
					nextStart = next.Start()
				}

				result.evict(desperate)

				if !found.Live() {
					found = index.Containing(foundStart)
				}
				if next != nil && !next.Live() {
					next = index.Containing(nextStart)
				}
			}

			fstart = memutils.AlignUp(fstart, metadata.PFN(request.alignment))
			fend := found.End()
			if request.boundary != 0 {
				boundaryEnd := memutils.AlignUp(fstart+1, metadata.PFN(request.boundary))
				if boundaryEnd < fend {
					fend = boundaryEnd
				}
			}
			if request.end != 0 && request.end < fend {
				fend = request.end
			}
			if fstart >= fend {
				break
			}
			if remaining := request.count - result.pageCount; uint64(fend-fstart) > remaining {
				fend = fstart + metadata.PFN(remaining)
			}

			result.add(rng, fstart, fend, memType)
			found = index.Extract(found, fstart, fend)

			if result.pageCount == request.count {
				return true
			}

			fstart = fend
		}
	}

	return false
}

// commitPages turns a complete provisional result into the page list handed to the caller. The
// mutex must be held. Pages that still have to be zeroed are returned separately, so that the
// zeroing can happen after the mutex is released.
func (a *Allocator) commitPages(request *pageRequest, result *provisionalResult) (PageList, PageList) {
	pages := make(PageList, 0, request.count)
	wantZero := request.flags&AllocationCreateZero != 0
	var dirty PageList

	for _, segment := range result.segments {
		run, ok := a.pageRun(segment.start, segment.count)
		if !ok {
			panic(fmt.Sprintf("allocated segment [%d, %d) has no page descriptors", segment.start, segment.start+metadata.PFN(segment.count)))
		}

		for i := range run {
			page := &run[i]
			flags := page.loadFlags()

			if flags&PageFree == 0 {
				panic(fmt.Sprintf("page %d was in the free pools but was not marked free", page.pfn))
			}

			if flags&PageZero != 0 {
				a.counters.zeroPages.Add(-1)
			}
			if wantZero {
				if flags&PageZero != 0 {
					a.counters.zeroHits.Add(1)
				} else {
					a.counters.zeroMisses.Add(1)
					dirty = append(dirty, page)
				}
			}

			page.updateFlags(0, PageFree|PageZero|PagePmapMask)
			page.Owner = nil
			page.version++

			pages = append(pages, page)
		}
	}

	if memutils.DebugEnabled {
		verifyPageList(request, pages)
	}

	return pages, dirty
}

// verifyPageList panics if pages does not satisfy request
func verifyPageList(request *pageRequest, pages PageList) {
	var segments int
	var prev *Page

	for _, page := range pages {
		if request.start != 0 && page.pfn < request.start {
			panic(fmt.Sprintf("allocated page %d lies below the requested window", page.pfn))
		}
		if request.end != 0 && page.pfn >= request.end {
			panic(fmt.Sprintf("allocated page %d lies above the requested window", page.pfn))
		}

		if prev == nil || prev.pfn+1 != page.pfn ||
			(request.boundary != 0 && memutils.AlignDown(prev.pfn, metadata.PFN(request.boundary)) != memutils.AlignDown(page.pfn, metadata.PFN(request.boundary))) {
			segments++
			if page.pfn%metadata.PFN(request.alignment) != 0 {
				panic(fmt.Sprintf("allocated segment starting at page %d is not aligned to %d", page.pfn, request.alignment))
			}
		}
		prev = page
	}

	if uint64(len(pages)) != request.count || segments > request.maxSegments {
		panic(fmt.Sprintf("allocated %d pages in %d segments, but the request was %d pages in %d segments",
			len(pages), segments, request.count, request.maxSegments))
	}
}
