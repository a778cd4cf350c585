package memutils

import "math"

// Statistics contains basic counts about a set of memory ranges
type Statistics struct {
	// RangeCount is the number of memory ranges that were summed
	RangeCount int
	// FreeSegmentCount is the number of maximal free runs across those ranges
	FreeSegmentCount int
	// TotalPages is the number of pages the ranges span, free or not
	TotalPages int
	// FreePages is the number of pages currently in the free pools
	FreePages int
}

func (s *Statistics) Clear() {
	s.RangeCount = 0
	s.FreeSegmentCount = 0
	s.TotalPages = 0
	s.FreePages = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.RangeCount += other.RangeCount
	s.FreeSegmentCount += other.FreeSegmentCount
	s.TotalPages += other.TotalPages
	s.FreePages += other.FreePages
}

type DetailedStatistics struct {
	Statistics
	ZeroPages        int
	DirtyPages       int
	SegmentSizeMin   int
	SegmentSizeMax   int
	SingleSegmentCnt int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.ZeroPages = 0
	s.DirtyPages = 0
	s.SegmentSizeMin = math.MaxInt
	s.SegmentSizeMax = 0
	s.SingleSegmentCnt = 0
}

// AddFreeSegment records a single free run of the provided size and content.
func (s *DetailedStatistics) AddFreeSegment(size int, zero bool) {
	s.FreeSegmentCount++
	s.FreePages += size

	if zero {
		s.ZeroPages += size
	} else {
		s.DirtyPages += size
	}

	if size == 1 {
		s.SingleSegmentCnt++
	}

	if size < s.SegmentSizeMin {
		s.SegmentSizeMin = size
	}

	if size > s.SegmentSizeMax {
		s.SegmentSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.ZeroPages += other.ZeroPages
	s.DirtyPages += other.DirtyPages
	s.SingleSegmentCnt += other.SingleSegmentCnt

	if other.SegmentSizeMin < s.SegmentSizeMin {
		s.SegmentSizeMin = other.SegmentSizeMin
	}

	if other.SegmentSizeMax > s.SegmentSizeMax {
		s.SegmentSizeMax = other.SegmentSizeMax
	}
}
