package metadata

import "fmt"

// PFN is a page frame number, the integer identity of a single physical page
type PFN uint64

// MemType classifies the content of a free page. Free runs never mix memory types.
type MemType int

const (
	// MemTypeDirty marks pages with unknown content. It is the type every freed page starts as.
	MemTypeDirty MemType = iota
	// MemTypeZero marks pages that are known to be filled with zeroes
	MemTypeZero

	// MemTypeCount is the number of memory types. Iterating memory types always visits
	// every value in [0, MemTypeCount).
	MemTypeCount = int(MemTypeZero) + 1
)

var memTypeMapping = map[MemType]string{
	MemTypeDirty: "Dirty",
	MemTypeZero:  "Zero",
}

func (t MemType) String() string {
	return memTypeMapping[t]
}

// Next returns the memory type that follows t, wrapping around after the last one
func (t MemType) Next() MemType {
	return (t + 1) % MemType(MemTypeCount)
}

// Extent describes a maximal run of free pages of a single MemType. An extent belongs to at most
// one RangeIndex at a time and is only ever mutated by that index.
type Extent struct {
	start   PFN
	length  uint64
	memType MemType

	owner  *RangeIndex
	inSize bool

	prevSingle *Extent
	nextSingle *Extent
}

// NewExtent creates a detached extent. It becomes part of the free pools once it is inserted
// into a RangeIndex.
func NewExtent(start PFN, length uint64, memType MemType) *Extent {
	if length == 0 {
		panic(fmt.Sprintf("attempted to create an empty extent at page %d", start))
	}

	return &Extent{
		start:   start,
		length:  length,
		memType: memType,
	}
}

func (e *Extent) Start() PFN       { return e.start }
func (e *Extent) Length() uint64   { return e.length }
func (e *Extent) End() PFN         { return e.start + PFN(e.length) }
func (e *Extent) MemType() MemType { return e.memType }

// Live returns true while the extent is present in the address index of some RangeIndex.
// Extents that were merged into a neighbor or fully extracted are no longer live.
func (e *Extent) Live() bool {
	return e.owner != nil
}

// Contains returns true if pfn falls inside this extent
func (e *Extent) Contains(pfn PFN) bool {
	return pfn >= e.start && pfn < e.End()
}

func (e *Extent) String() string {
	return fmt.Sprintf("[%d, %d) %s", e.start, e.End(), e.memType)
}

func addrLess(left, right *Extent) bool {
	return left.start < right.start
}

func sizeLess(left, right *Extent) bool {
	if left.length != right.length {
		return left.length < right.length
	}
	return left.start < right.start
}

// singleList keeps the single-page extents of one memory type in insertion order
type singleList struct {
	head  *Extent
	tail  *Extent
	count int
}

func (l *singleList) pushBack(e *Extent) {
	e.nextSingle = nil
	e.prevSingle = l.tail
	if l.tail != nil {
		l.tail.nextSingle = e
	} else {
		l.head = e
	}
	l.tail = e
	l.count++
}

func (l *singleList) remove(e *Extent) {
	if e.prevSingle != nil {
		e.prevSingle.nextSingle = e.nextSingle
	} else {
		if l.head != e {
			panic(fmt.Sprintf("extent %s was not in the single page list at the expected location", e))
		}
		l.head = e.nextSingle
	}

	if e.nextSingle != nil {
		e.nextSingle.prevSingle = e.prevSingle
	} else {
		if l.tail != e {
			panic(fmt.Sprintf("extent %s was not the tail of the single page list", e))
		}
		l.tail = e.prevSingle
	}

	e.prevSingle = nil
	e.nextSingle = nil
	l.count--
}
