package pmr

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/arsenal-os/pmemrange/memutils/metadata"
)

//go:generate mockgen -source ./page.go -destination ./mocks/page.go -package mocks

// PageZeroer fills physical pages with zeroes. The allocator calls it for dirty pages handed out to
// AllocationCreateZero requests and from ZeroEverything.
type PageZeroer interface {
	ZeroPage(page *Page)
}

// Page is the descriptor of a single managed physical page. Descriptors are created once, when the
// allocator is created, and live as long as the allocator does.
type Page struct {
	pfn metadata.PFN
	// flags is shared between the allocator, which changes it under its mutex, and the page's
	// owner, which may mark the page zeroed or change the mapping bits at any time
	flags   atomic.Int32
	version uint64

	// Owner is free for the consumer's use while the page is allocated. It is reset every time the
	// page is handed out.
	Owner any
}

func (p *Page) PFN() metadata.PFN { return p.pfn }
func (p *Page) Flags() PageFlags  { return p.loadFlags() }

// Version is incremented every time the page is handed out, so stale references to a previous
// owner's page can be detected.
func (p *Page) Version() uint64 { return p.version }

func (p *Page) IsFree() bool { return p.loadFlags()&PageFree != 0 }
func (p *Page) IsZero() bool { return p.loadFlags()&PageZero != 0 }

// MarkZeroed declares that an allocated page has been filled with zeroes. When it is returned
// with Allocator.FreeList, it goes back to the zero pool.
func (p *Page) MarkZeroed() {
	if p.loadFlags()&PageFree != 0 {
		panic(fmt.Sprintf("attempted to mark free page %d as zeroed", p.pfn))
	}
	p.updateFlags(PageZero, 0)
}

// SetPmapFlags replaces the mapping-layer bits of an allocated page
func (p *Page) SetPmapFlags(flags PageFlags) {
	p.updateFlags(flags&PagePmapMask, PagePmapMask&^flags)
}

func (p *Page) loadFlags() PageFlags {
	return PageFlags(p.flags.Load())
}

// updateFlags sets the bits in set and clears the bits in clear as a single atomic step
func (p *Page) updateFlags(set, clear PageFlags) {
	for {
		old := p.flags.Load()
		updated := (old &^ int32(clear)) | int32(set)
		if p.flags.CompareAndSwap(old, updated) {
			return
		}
	}
}

func (p *Page) memType() metadata.MemType {
	if p.loadFlags()&PageZero != 0 {
		return metadata.MemTypeZero
	}
	return metadata.MemTypeDirty
}

// PageList is the result of an allocation: every page of every segment, in segment order
type PageList []*Page

// pageSegment holds the descriptors for one physical segment
type pageSegment struct {
	start metadata.PFN
	pages []Page
}

func (s *pageSegment) end() metadata.PFN {
	return s.start + metadata.PFN(len(s.pages))
}

func newPageSegment(segment Segment) *pageSegment {
	s := &pageSegment{
		start: segment.Start,
		pages: make([]Page, segment.End-segment.Start),
	}
	for i := range s.pages {
		s.pages[i].pfn = segment.Start + metadata.PFN(i)
		s.pages[i].flags.Store(int32(PageFree))
	}
	return s
}

func (a *Allocator) findPageSegment(pfn metadata.PFN) *pageSegment {
	index := sort.Search(len(a.pageSegments), func(i int) bool {
		return a.pageSegments[i].end() > pfn
	})
	if index == len(a.pageSegments) || a.pageSegments[index].start > pfn {
		return nil
	}
	return a.pageSegments[index]
}

// pageSpan returns the descriptors for [start, start+count) as one slice per physical segment the
// run passes through. It fails if any page of the run is not managed.
func (a *Allocator) pageSpan(start metadata.PFN, count uint64) ([][]Page, bool) {
	var span [][]Page
	for count > 0 {
		segment := a.findPageSegment(start)
		if segment == nil {
			return nil, false
		}

		length := uint64(segment.end() - start)
		if count < length {
			length = count
		}

		offset := start - segment.start
		span = append(span, segment.pages[offset:offset+metadata.PFN(length)])
		start += metadata.PFN(length)
		count -= length
	}
	return span, true
}

// pageRun returns the descriptors for [start, start+count). The run must lie within a single
// physical segment.
func (a *Allocator) pageRun(start metadata.PFN, count uint64) ([]Page, bool) {
	segment := a.findPageSegment(start)
	if segment == nil || start+metadata.PFN(count) > segment.end() {
		return nil, false
	}

	offset := start - segment.start
	return segment.pages[offset : offset+metadata.PFN(count)], true
}
