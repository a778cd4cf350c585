package metadata

import (
	"fmt"

	"github.com/arsenal-os/pmemrange/memutils"
	"github.com/dolthub/swiss"
	"github.com/google/btree"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
)

const btreeDegree = 16

// RangeIndex holds the free extents of a single memory range. Every extent participates in two
// views: the address index, which orders all extents by start page, and the length index of its
// memory type, which orders multi-page extents by (length, start). Single-page extents are kept in
// a per-type list instead of the length index. The two views are kept mirror-consistent: an
// extent is in the address index if and only if it is in exactly one length view.
//
// RangeIndex performs no locking. The owner is responsible for serializing access.
type RangeIndex struct {
	addr    *btree.BTreeG[*Extent]
	size    [MemTypeCount]*btree.BTreeG[*Extent]
	singles [MemTypeCount]singleList

	// heads maps the start page of every live extent to its descriptor
	heads *swiss.Map[PFN, *Extent]

	segments  int
	freePages uint64
}

var _ memutils.Validatable = &RangeIndex{}

func NewRangeIndex() *RangeIndex {
	m := &RangeIndex{
		addr:  btree.NewG[*Extent](btreeDegree, addrLess),
		heads: swiss.NewMap[PFN, *Extent](16),
	}
	for memType := 0; memType < MemTypeCount; memType++ {
		m.size[memType] = btree.NewG[*Extent](btreeDegree, sizeLess)
	}

	return m
}

// SegmentCount returns the number of free extents in the index
func (m *RangeIndex) SegmentCount() int { return m.segments }

// FreePages returns the number of pages covered by the free extents in the index
func (m *RangeIndex) FreePages() uint64 { return m.freePages }

// IsEmpty returns true when the index holds no free extents
func (m *RangeIndex) IsEmpty() bool { return m.segments == 0 }

func addrKey(pfn PFN) *Extent {
	return &Extent{start: pfn}
}

func (m *RangeIndex) setLength(e *Extent, length uint64) {
	if e.inSize {
		panic(fmt.Sprintf("attempted to resize extent %s while it is in the length index", e))
	}

	if e.owner == m {
		m.freePages -= e.length
		m.freePages += length
	}
	e.length = length
}

// ExtentAt returns the live extent that starts exactly at pfn, if any
func (m *RangeIndex) ExtentAt(pfn PFN) (*Extent, bool) {
	return m.heads.Get(pfn)
}

// Containing returns the live extent that covers pfn, or nil if pfn is not free in this index
func (m *RangeIndex) Containing(pfn PFN) *Extent {
	if head, ok := m.ExtentAt(pfn); ok {
		return head
	}

	var found *Extent
	m.addr.DescendLessOrEqual(addrKey(pfn), func(item *Extent) bool {
		found = item
		return false
	})

	if found == nil || !found.Contains(pfn) {
		return nil
	}
	return found
}

// Neighbors finds the live extents immediately before and after the uninserted extent e that it
// could be joined with. A neighbor is only returned if it is address-adjacent to e and of the same
// memory type.
func (m *RangeIndex) Neighbors(e *Extent) (prev *Extent, next *Extent) {
	m.addr.AscendGreaterOrEqual(addrKey(e.start), func(item *Extent) bool {
		next = item
		return false
	})
	m.addr.DescendLessOrEqual(addrKey(e.start), func(item *Extent) bool {
		prev = item
		return false
	})

	if next != nil && next.start < e.End() {
		panic(fmt.Sprintf("extent %s overlaps with free extent %s", e, next))
	}
	if prev != nil && prev.End() > e.start {
		panic(fmt.Sprintf("extent %s overlaps with free extent %s", e, prev))
	}

	if prev != nil && (prev.End() != e.start || prev.memType != e.memType) {
		prev = nil
	}
	if next != nil && (e.End() != next.start || next.memType != e.memType) {
		next = nil
	}

	return prev, next
}

// InsertAddr places e in the address index. Unless noJoin is set, e is merged with joinable
// neighbors first, and the extent that ends up representing the run is returned. That extent is
// not yet in the length index: callers must follow up with InsertSize.
//
// noJoin must only be used when the caller can guarantee e has no joinable neighbors, or when
// the adjacency is temporary and will be broken before the lock is released.
func (m *RangeIndex) InsertAddr(e *Extent, noJoin bool) *Extent {
	if e.owner != nil {
		panic(fmt.Sprintf("extent %s is already present in an address index", e))
	}
	if e.inSize {
		panic(fmt.Sprintf("extent %s is already present in a length index", e))
	}

	if !noJoin {
		prev, next := m.Neighbors(e)
		if next != nil {
			m.RemoveSize(next)
			m.RemoveAddr(next)
			e.length += next.length
			next.length = 0
		}
		if prev != nil {
			m.RemoveSize(prev)
			m.setLength(prev, prev.length+e.length)
			e.length = 0
			return prev
		}
	}

	m.addr.ReplaceOrInsert(e)
	m.heads.Put(e.start, e)
	e.owner = m
	m.segments++
	m.freePages += e.length

	return e
}

// InsertSize places e, which must already be in the address index, into the length view of its
// memory type.
func (m *RangeIndex) InsertSize(e *Extent) {
	if e.owner != m {
		panic(fmt.Sprintf("extent %s must be in this address index before it can be placed in the length index", e))
	}
	if e.inSize {
		panic(fmt.Sprintf("extent %s is already present in a length index", e))
	}

	if e.length == 1 {
		m.singles[e.memType].pushBack(e)
	} else {
		m.size[e.memType].ReplaceOrInsert(e)
	}
	e.inSize = true
}

// Insert places e in both views of the index, joining it with its neighbors unless noJoin is set.
// It returns the extent that represents the resulting run.
func (m *RangeIndex) Insert(e *Extent, noJoin bool) *Extent {
	memutils.DebugValidate(m)
	e = m.InsertAddr(e, noJoin)
	m.InsertSize(e)
	memutils.DebugValidate(m)

	return e
}

// RemoveAddr removes e from the address index. The segment count is maintained by the
// address index.
func (m *RangeIndex) RemoveAddr(e *Extent) {
	if e.owner != m {
		panic(fmt.Sprintf("extent %s is not present in this address index", e))
	}

	_, found := m.addr.Delete(e)
	if !found {
		panic(fmt.Sprintf("extent %s was marked as present but could not be found in the address index", e))
	}
	m.heads.Delete(e.start)
	e.owner = nil
	m.segments--
	m.freePages -= e.length
}

// RemoveSize removes e from the length view of its memory type.
func (m *RangeIndex) RemoveSize(e *Extent) {
	if !e.inSize {
		panic(fmt.Sprintf("extent %s is not present in a length index", e))
	}

	if e.length == 1 {
		m.singles[e.memType].remove(e)
	} else {
		_, found := m.size[e.memType].Delete(e)
		if !found {
			panic(fmt.Sprintf("extent %s was marked as present but could not be found in the length index", e))
		}
	}
	e.inSize = false
}

// Remove removes e from both views of the index
func (m *RangeIndex) Remove(e *Extent) {
	memutils.DebugValidate(m)
	m.RemoveSize(e)
	m.RemoveAddr(e)
	memutils.DebugValidate(m)
}

// FindAtLeast returns the smallest extent of memType with at least length pages, or nil.
func (m *RangeIndex) FindAtLeast(length uint64, memType MemType) *Extent {
	if length == 0 {
		panic("cannot search for an empty extent")
	}

	if length == 1 && m.singles[memType].head != nil {
		return m.singles[memType].head
	}

	var found *Extent
	m.size[memType].AscendGreaterOrEqual(&Extent{length: length}, func(item *Extent) bool {
		found = item
		return false
	})
	return found
}

// Next returns the extent of memType following e in length order, or nil. The result is never
// smaller than e.
func (m *RangeIndex) Next(e *Extent, memType MemType) *Extent {
	if !e.inSize || e.owner != m {
		panic(fmt.Sprintf("extent %s is not present in this length index", e))
	}

	if e.length == 1 {
		if e.nextSingle != nil {
			return e.nextSingle
		}
		found, _ := m.size[memType].Min()
		return found
	}

	var found *Extent
	m.size[memType].AscendGreaterOrEqual(e, func(item *Extent) bool {
		if item == e {
			return true
		}
		found = item
		return false
	})
	return found
}

// FirstSingle returns the oldest single-page extent of memType, or nil
func (m *RangeIndex) FirstSingle(memType MemType) *Extent {
	return m.singles[memType].head
}

// Largest returns the longest extent of memType, or nil
func (m *RangeIndex) Largest(memType MemType) *Extent {
	found, ok := m.size[memType].Max()
	if ok {
		return found
	}
	return m.singles[memType].head
}

// FindIntersecting returns an extent of memType that has at least one page inside [start, end),
// where a zero start or end leaves that side unbounded. Single-page extents are preferred. Without
// any window the smallest multi-page extent is returned.
//
// Unlike the other lookups this is linear: the single-page list is walked in full, and the address
// scan passes over every extent of another memory type between start and end. It stops at end.
func (m *RangeIndex) FindIntersecting(memType MemType, start, end PFN) *Extent {
	for single := m.singles[memType].head; single != nil; single = single.nextSingle {
		if memutils.Intersects(single.start, single.End(), start, end) {
			return single
		}
	}

	if start == 0 && end == 0 {
		found, _ := m.size[memType].Min()
		return found
	}

	var found *Extent
	visit := func(item *Extent) bool {
		if end != 0 && item.start >= end {
			return false
		}
		if item.memType == memType && item.length > 1 && memutils.Intersects(item.start, item.End(), start, end) {
			found = item
			return false
		}
		return true
	}

	if first := m.Containing(start); first != nil {
		m.addr.AscendGreaterOrEqual(first, visit)
	} else {
		m.addr.AscendGreaterOrEqual(addrKey(start), visit)
	}
	return found
}

// Extract removes the pages [start, end) from the extent e, which must cover them. Pages before
// start stay behind in e; pages after end become a new extent that is returned so the caller can
// keep draining the same run. nil is returned if nothing was left after end.
func (m *RangeIndex) Extract(e *Extent, start, end PFN) *Extent {
	if end <= start || start < e.start || end > e.End() {
		panic(fmt.Sprintf("attempted to extract [%d, %d) from extent %s", start, end, e))
	}

	before := uint64(start - e.start)
	after := uint64(e.End() - end)

	m.RemoveSize(e)
	if before == 0 {
		m.RemoveAddr(e)
	} else {
		m.setLength(e, before)
		m.InsertSize(e)
	}

	if after == 0 {
		memutils.DebugValidate(m)
		return nil
	}

	// The after piece is bounded by allocated pages on the left and by
	// whatever bounded e on the right, so it can never join.
	tail := NewExtent(end, after, e.memType)
	tail = m.InsertAddr(tail, true)
	m.InsertSize(tail)
	memutils.DebugValidate(m)

	return tail
}

// SplitOff moves every free page at or above pageno into a new RangeIndex, cutting an extent that
// straddles pageno in two.
func (m *RangeIndex) SplitOff(pageno PFN) *RangeIndex {
	drain := NewRangeIndex()

	if straddler := m.Containing(pageno); straddler != nil && straddler.start < pageno {
		m.Remove(straddler)
		after := NewExtent(pageno, uint64(straddler.End()-pageno), straddler.memType)
		straddler.length = uint64(pageno - straddler.start)
		m.Insert(straddler, true)
		drain.Insert(after, true)
	}

	var moving []*Extent
	m.addr.AscendGreaterOrEqual(addrKey(pageno), func(item *Extent) bool {
		moving = append(moving, item)
		return true
	})

	for _, e := range moving {
		m.Remove(e)
		drain.Insert(e, true)
	}

	return drain
}

// Visit calls handleExtent for every live extent in ascending address order, stopping at the
// first error.
func (m *RangeIndex) Visit(handleExtent func(e *Extent) error) error {
	var err error
	m.addr.Ascend(func(item *Extent) bool {
		err = handleExtent(item)
		return err == nil
	})
	return err
}

// First and Last return the lowest and highest live extent, or nil
func (m *RangeIndex) First() *Extent {
	found, _ := m.addr.Min()
	return found
}

func (m *RangeIndex) Last() *Extent {
	found, _ := m.addr.Max()
	return found
}

// AddDetailedStatistics sums this index's free extents into stats
func (m *RangeIndex) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	m.addr.Ascend(func(item *Extent) bool {
		stats.AddFreeSegment(int(item.length), item.memType == MemTypeZero)
		return true
	})
}

// IndexJsonData populates a json object with information about this index
func (m *RangeIndex) IndexJsonData(json jwriter.ObjectState) {
	json.Name("Segments").Int(m.segments)
	json.Name("FreePages").Int(int(m.freePages))

	for memType := 0; memType < MemTypeCount; memType++ {
		var largest int
		if found := m.Largest(MemType(memType)); found != nil {
			largest = int(found.length)
		}
		json.Name("MaxSegmentSize" + MemType(memType).String()).Int(largest)
	}

	extents := json.Name("Extents").Array()
	m.addr.Ascend(func(item *Extent) bool {
		obj := extents.Object()
		obj.Name("Start").Int(int(item.start))
		obj.Name("Length").Int(int(item.length))
		obj.Name("Type").String(item.memType.String())
		obj.End()
		return true
	})
	extents.End()
}

// Validate performs a full consistency check of both views of the index. It is expensive and is
// meant for tests and the debug_mem_utils build.
func (m *RangeIndex) Validate() error {
	var addrCount int
	var addrPages uint64
	var prev *Extent
	var err error

	m.addr.Ascend(func(item *Extent) bool {
		addrCount++
		addrPages += item.length

		if item.length == 0 {
			err = errors.Errorf("extent at page %d has no pages", item.start)
			return false
		}
		if item.owner != m {
			err = errors.Errorf("extent %s is in the address index but does not belong to it", item)
			return false
		}
		if !item.inSize {
			err = errors.Errorf("extent %s is in the address index but has no length index mirror", item)
			return false
		}
		if head, ok := m.heads.Get(item.start); !ok || head != item {
			err = errors.Errorf("extent %s is missing from the extent arena", item)
			return false
		}

		if prev != nil {
			if prev.End() > item.start {
				err = errors.Errorf("extent %s overlaps with extent %s", prev, item)
				return false
			}
			if prev.End() == item.start && prev.memType == item.memType {
				err = errors.Errorf("extent %s and extent %s are adjacent and of the same type but were not joined", prev, item)
				return false
			}
		}

		if item.length > 1 && !m.size[item.memType].Has(item) {
			err = errors.Errorf("extent %s is marked as being in the length index but it could not be found there", item)
			return false
		}

		prev = item
		return true
	})
	if err != nil {
		return err
	}

	if addrCount != m.segments {
		return errors.Errorf("the segment count of the index is %d, but the address index holds %d extents", m.segments, addrCount)
	}
	if addrPages != m.freePages {
		return errors.Errorf("the free page count of the index is %d, but the extents only added up to %d", m.freePages, addrPages)
	}
	if m.heads.Count() != m.segments {
		return errors.Errorf("the extent arena holds %d extents, but the index has %d segments", m.heads.Count(), m.segments)
	}

	var sizeCount int
	for memType := 0; memType < MemTypeCount; memType++ {
		list := &m.singles[memType]
		var listCount int
		var listPrev *Extent

		for single := list.head; single != nil; single = single.nextSingle {
			listCount++
			if single.prevSingle != listPrev {
				return errors.Errorf("extent %s lists a previous single extent, but the reverse reference is broken", single)
			}
			if single.length != 1 {
				return errors.Errorf("extent %s has %d pages but is in the single page list", single, single.length)
			}
			if single.owner != m || !single.inSize {
				return errors.Errorf("extent %s is in the single page list but has no address index mirror", single)
			}
			if single.memType != MemType(memType) {
				return errors.Errorf("extent %s is in the %s single page list", single, MemType(memType))
			}
			listPrev = single
		}
		if listPrev != list.tail {
			return errors.Errorf("the %s single page list does not end at its tail", MemType(memType))
		}
		if listCount != list.count {
			return errors.Errorf("the %s single page list has %d entries but counted %d", MemType(memType), list.count, listCount)
		}
		sizeCount += listCount

		m.size[memType].Ascend(func(item *Extent) bool {
			sizeCount++
			if item.length < 2 {
				err = errors.Errorf("extent %s is in the length index but should be in the single page list", item)
				return false
			}
			if item.memType != MemType(memType) {
				err = errors.Errorf("extent %s is in the %s length index", item, MemType(memType))
				return false
			}
			if head, ok := m.heads.Get(item.start); !ok || head != item || item.owner != m {
				err = errors.Errorf("extent %s is in the length index but has no address index mirror", item)
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
	}

	if sizeCount != m.segments {
		return errors.Errorf("the length indices hold %d extents, but the address index holds %d", sizeCount, m.segments)
	}

	return nil
}
