package pmr

import (
	"github.com/arsenal-os/pmemrange/memutils/metadata"
)

// takeAnyPages is the allocation fast path for requests without alignment or boundary constraints
// that may use one segment per page. Pages are taken from the top of whichever extents intersect
// the window, preferring single-page extents, in every range in use order.
func (a *Allocator) takeAnyPages(request *pageRequest, result *provisionalResult) {
	unbounded := request.start == 0 && request.end == 0

	for _, rng := range a.ranges.useOrder {
		if result.pageCount == request.count {
			return
		}
		if !unbounded && !rng.intersects(request.start, request.end) {
			continue
		}
		if rng.index.IsEmpty() {
			continue
		}

		memType := request.memTypeInit
		for result.pageCount != request.count {
			found := rng.index.FindIntersecting(memType, request.start, request.end)
			if found == nil {
				memType = memType.Next()
				if memType == request.memTypeInit {
					break
				}
				continue
			}

			top := found.End()
			if request.end != 0 && request.end < top {
				top = request.end
			}
			bottom := found.Start()
			if request.start > bottom {
				bottom = request.start
			}

			take := uint64(top - bottom)
			if remaining := request.count - result.pageCount; take > remaining {
				take = remaining
			}

			result.add(rng, top-metadata.PFN(take), top, memType)
			rng.index.Extract(found, top-metadata.PFN(take), top)
		}
	}
}
