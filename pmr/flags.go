package pmr

import "github.com/vkngwrapper/core/v2/common"

// AllocationCreateFlags exposes several options for allocation behavior that can be applied.
type AllocationCreateFlags int32

var allocationCreateFlagsMapping = common.NewFlagStringMapping[AllocationCreateFlags]()

func (f AllocationCreateFlags) Register(str string) {
	allocationCreateFlagsMapping.Register(f, str)
}
func (f AllocationCreateFlags) String() string {
	return allocationCreateFlagsMapping.FlagsToString(f)
}

const (
	// AllocationCreateZero requests pages that are filled with zeroes. Pre-zeroed free pages are
	// preferred, and any dirty page that ends up in the result is zeroed before it is returned.
	AllocationCreateZero AllocationCreateFlags = 1 << iota
	// AllocationCreateTryContig asks the allocator to spend more time looking for a result with
	// as few segments as possible. It is ignored when the request can only be satisfied with one
	// segment anyway.
	AllocationCreateTryContig
	// AllocationCreateWaitOK allows the request to block until enough pages are freed by another
	// caller. It cannot be used with an allocator created with AllocatorCreateExternallySynchronized.
	AllocationCreateWaitOK
	// AllocationCreateFailOK combines with AllocationCreateWaitOK: the request sleeps once, and if
	// the pages freed in the meantime are still not enough, ErrResourceExhausted is returned instead
	// of sleeping again.
	AllocationCreateFailOK
)

func init() {
	AllocationCreateZero.Register("AllocationCreateZero")
	AllocationCreateTryContig.Register("AllocationCreateTryContig")
	AllocationCreateWaitOK.Register("AllocationCreateWaitOK")
	AllocationCreateFailOK.Register("AllocationCreateFailOK")
}

// PageFlags describe the state of a single page descriptor
type PageFlags int32

var pageFlagsMapping = common.NewFlagStringMapping[PageFlags]()

func (f PageFlags) Register(str string) {
	pageFlagsMapping.Register(f, str)
}
func (f PageFlags) String() string {
	return pageFlagsMapping.FlagsToString(f)
}

const (
	// PageFree is set while the page is in the free pools
	PageFree PageFlags = 1 << iota
	// PageZero is set when the page content is known to be all zeroes
	PageZero
	PagePmap0
	PagePmap1
	PagePmap2
	PagePmap3

	// PagePmapMask covers the bits reserved for the mapping layer. They are cleared whenever a
	// page is handed out.
	PagePmapMask = PagePmap0 | PagePmap1 | PagePmap2 | PagePmap3
)

func init() {
	PageFree.Register("PageFree")
	PageZero.Register("PageZero")
	PagePmap0.Register("PagePmap0")
	PagePmap1.Register("PagePmap1")
	PagePmap2.Register("PagePmap2")
	PagePmap3.Register("PagePmap3")
}
