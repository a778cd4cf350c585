package pmr

import (
	"github.com/arsenal-os/pmemrange/memutils"
	"github.com/arsenal-os/pmemrange/memutils/metadata"
	"github.com/cockroachdb/errors"
)

// AllocationCreateInfo describes the placement constraints of a request for pages. The zero value
// requests pages from anywhere, in any number of segments.
type AllocationCreateInfo struct {
	// Start is the lowest acceptable page. 0 leaves the window unbounded below.
	Start metadata.PFN
	// End is one past the highest acceptable page. 0 leaves the window unbounded above.
	End metadata.PFN
	// Alignment is the power-of-two page count every segment must start on. 0 is treated as 1.
	Alignment uint64
	// Boundary is the power-of-two page count no segment may straddle. 0 means no boundary.
	Boundary uint64
	// MaxSegments is the maximum number of contiguous runs the result may be made of. 0 places no
	// limit on the number of segments.
	MaxSegments int
	// Flags exposes several options for allocation behavior
	Flags AllocationCreateFlags
}

// pageRequest is an AllocationCreateInfo that has been validated and normalized
type pageRequest struct {
	count       uint64
	start       metadata.PFN
	end         metadata.PFN
	alignment   uint64
	boundary    uint64
	maxSegments int
	flags       AllocationCreateFlags
	memTypeInit metadata.MemType
}

func (a *Allocator) buildPageRequest(count int, info AllocationCreateInfo) (pageRequest, error) {
	if count <= 0 {
		return pageRequest{}, errors.Wrapf(ErrConstraint, "requested %d pages", count)
	}

	request := pageRequest{
		count:       uint64(count),
		start:       info.Start,
		end:         info.End,
		alignment:   info.Alignment,
		boundary:    info.Boundary,
		maxSegments: info.MaxSegments,
		flags:       info.Flags,
		memTypeInit: metadata.MemTypeDirty,
	}

	if err := memutils.CheckRange(request.start, request.end); err != nil {
		return pageRequest{}, errors.Mark(err, ErrConstraint)
	}

	if request.alignment == 0 {
		request.alignment = 1
	}
	if err := memutils.CheckPow2(request.alignment, "alignment"); err != nil {
		return pageRequest{}, errors.Mark(err, ErrConstraint)
	}
	if err := memutils.CheckPow2(request.boundary, "boundary"); err != nil {
		return pageRequest{}, errors.Mark(err, ErrConstraint)
	}

	if request.maxSegments < 0 {
		return pageRequest{}, errors.Wrapf(ErrConstraint, "max segments is %d", request.maxSegments)
	}
	if request.maxSegments == 0 || request.maxSegments > count {
		request.maxSegments = count
	}

	if request.boundary != 0 && uint64(request.maxSegments)*request.boundary < request.count {
		return pageRequest{}, errors.Wrapf(ErrConstraint, "%d pages cannot fit in %d segments with boundary %d",
			count, request.maxSegments, request.boundary)
	}

	if request.flags&AllocationCreateWaitOK != 0 && !a.mutex.CanWait() {
		return pageRequest{}, errors.Wrap(ErrConstraint, "AllocationCreateWaitOK cannot be used with an externally synchronized allocator")
	}

	// Asking for few segments is meaningless when one segment is all that is allowed
	if request.maxSegments == 1 || request.count == 1 {
		request.flags &^= AllocationCreateTryContig
	}

	if request.flags&AllocationCreateZero != 0 {
		request.memTypeInit = metadata.MemTypeZero
	}

	return request, nil
}
