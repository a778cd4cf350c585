package metadata_test

import (
	"math"
	"testing"

	"github.com/arsenal-os/pmemrange/memutils"
	"github.com/arsenal-os/pmemrange/memutils/metadata"
	"github.com/stretchr/testify/require"
)

func collectExtents(t *testing.T, index *metadata.RangeIndex) []string {
	var out []string
	err := index.Visit(func(e *metadata.Extent) error {
		out = append(out, e.String())
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestRangeIndexJoinAdjacent(t *testing.T) {
	index := metadata.NewRangeIndex()

	index.Insert(metadata.NewExtent(0, 5, metadata.MemTypeDirty), false)
	joined := index.Insert(metadata.NewExtent(5, 15, metadata.MemTypeDirty), false)

	require.NoError(t, index.Validate())
	require.Equal(t, metadata.PFN(0), joined.Start())
	require.Equal(t, uint64(20), joined.Length())
	require.Equal(t, 1, index.SegmentCount())
	require.Equal(t, uint64(20), index.FreePages())
	require.Equal(t, []string{"[0, 20) Dirty"}, collectExtents(t, index))
}

func TestRangeIndexJoinOrderIndependent(t *testing.T) {
	orders := [][]metadata.PFN{
		{0, 10, 20},
		{20, 10, 0},
		{10, 0, 20},
		{10, 20, 0},
	}

	for _, order := range orders {
		index := metadata.NewRangeIndex()
		for _, start := range order {
			index.Insert(metadata.NewExtent(start, 10, metadata.MemTypeDirty), false)
			require.NoError(t, index.Validate())
		}

		require.Equal(t, []string{"[0, 30) Dirty"}, collectExtents(t, index))
		require.Equal(t, 1, index.SegmentCount())
	}
}

func TestRangeIndexNoJoinAcrossTypes(t *testing.T) {
	index := metadata.NewRangeIndex()

	index.Insert(metadata.NewExtent(0, 4, metadata.MemTypeDirty), false)
	index.Insert(metadata.NewExtent(4, 4, metadata.MemTypeZero), false)
	index.Insert(metadata.NewExtent(8, 1, metadata.MemTypeDirty), false)

	require.NoError(t, index.Validate())
	require.Equal(t, 3, index.SegmentCount())
	require.Equal(t, []string{"[0, 4) Dirty", "[4, 8) Zero", "[8, 9) Dirty"}, collectExtents(t, index))

	require.Equal(t, metadata.PFN(8), index.FirstSingle(metadata.MemTypeDirty).Start())
	require.Nil(t, index.FirstSingle(metadata.MemTypeZero))
}

func TestRangeIndexOverlapPanics(t *testing.T) {
	index := metadata.NewRangeIndex()
	index.Insert(metadata.NewExtent(10, 10, metadata.MemTypeDirty), false)

	require.Panics(t, func() {
		index.Insert(metadata.NewExtent(15, 10, metadata.MemTypeDirty), false)
	})
}

func TestRangeIndexFindAtLeast(t *testing.T) {
	index := metadata.NewRangeIndex()
	index.Insert(metadata.NewExtent(0, 8, metadata.MemTypeDirty), false)
	index.Insert(metadata.NewExtent(10, 3, metadata.MemTypeDirty), false)
	index.Insert(metadata.NewExtent(20, 1, metadata.MemTypeDirty), false)
	index.Insert(metadata.NewExtent(30, 3, metadata.MemTypeDirty), false)
	index.Insert(metadata.NewExtent(40, 16, metadata.MemTypeZero), false)
	require.NoError(t, index.Validate())

	found := index.FindAtLeast(1, metadata.MemTypeDirty)
	require.Equal(t, metadata.PFN(20), found.Start())

	found = index.FindAtLeast(2, metadata.MemTypeDirty)
	require.Equal(t, metadata.PFN(10), found.Start())

	found = index.Next(found, metadata.MemTypeDirty)
	require.Equal(t, metadata.PFN(30), found.Start())

	found = index.Next(found, metadata.MemTypeDirty)
	require.Equal(t, metadata.PFN(0), found.Start())

	require.Nil(t, index.Next(found, metadata.MemTypeDirty))
	require.Nil(t, index.FindAtLeast(9, metadata.MemTypeDirty))

	single := index.FindAtLeast(1, metadata.MemTypeDirty)
	next := index.Next(single, metadata.MemTypeDirty)
	require.Equal(t, metadata.PFN(10), next.Start())

	found = index.FindAtLeast(9, metadata.MemTypeZero)
	require.Equal(t, metadata.PFN(40), found.Start())
	require.Equal(t, metadata.PFN(40), index.Largest(metadata.MemTypeZero).Start())
	require.Equal(t, metadata.PFN(0), index.Largest(metadata.MemTypeDirty).Start())
}

func TestRangeIndexExtract(t *testing.T) {
	index := metadata.NewRangeIndex()
	e := index.Insert(metadata.NewExtent(0, 100, metadata.MemTypeDirty), false)

	after := index.Extract(e, 0, 10)
	require.NoError(t, index.Validate())
	require.NotNil(t, after)
	require.False(t, e.Live())
	require.Equal(t, metadata.PFN(10), after.Start())
	require.Equal(t, uint64(90), after.Length())
	require.Equal(t, uint64(90), index.FreePages())

	after2 := index.Extract(after, 20, 30)
	require.NoError(t, index.Validate())
	require.True(t, after.Live())
	require.Equal(t, uint64(10), after.Length())
	require.Equal(t, metadata.PFN(30), after2.Start())
	require.Equal(t, uint64(70), after2.Length())
	require.Equal(t, 2, index.SegmentCount())
	require.Equal(t, uint64(80), index.FreePages())

	require.Nil(t, index.Extract(after2, 90, 100))
	require.NoError(t, index.Validate())
	require.Equal(t, []string{"[10, 20) Dirty", "[30, 90) Dirty"}, collectExtents(t, index))
}

func TestRangeIndexExtractDownToSingle(t *testing.T) {
	index := metadata.NewRangeIndex()
	e := index.Insert(metadata.NewExtent(0, 3, metadata.MemTypeZero), false)

	after := index.Extract(e, 1, 2)
	require.NoError(t, index.Validate())
	require.Equal(t, metadata.PFN(0), index.FirstSingle(metadata.MemTypeZero).Start())
	require.Equal(t, metadata.PFN(2), after.Start())

	index.Insert(metadata.NewExtent(1, 1, metadata.MemTypeZero), false)
	require.NoError(t, index.Validate())
	require.Equal(t, []string{"[0, 3) Zero"}, collectExtents(t, index))
	require.Nil(t, index.FirstSingle(metadata.MemTypeZero))
}

func TestRangeIndexContaining(t *testing.T) {
	index := metadata.NewRangeIndex()
	index.Insert(metadata.NewExtent(10, 10, metadata.MemTypeDirty), false)

	require.Nil(t, index.Containing(9))
	require.Equal(t, metadata.PFN(10), index.Containing(10).Start())
	require.Equal(t, metadata.PFN(10), index.Containing(19).Start())
	require.Nil(t, index.Containing(20))

	head, ok := index.ExtentAt(10)
	require.True(t, ok)
	require.Equal(t, uint64(10), head.Length())

	_, ok = index.ExtentAt(11)
	require.False(t, ok)
}

func TestRangeIndexSplitOff(t *testing.T) {
	index := metadata.NewRangeIndex()
	index.Insert(metadata.NewExtent(0, 10, metadata.MemTypeDirty), false)
	index.Insert(metadata.NewExtent(20, 20, metadata.MemTypeZero), false)
	index.Insert(metadata.NewExtent(50, 5, metadata.MemTypeDirty), false)

	drain := index.SplitOff(30)
	require.NoError(t, index.Validate())
	require.NoError(t, drain.Validate())

	require.Equal(t, []string{"[0, 10) Dirty", "[20, 30) Zero"}, collectExtents(t, index))
	require.Equal(t, []string{"[30, 40) Zero", "[50, 55) Dirty"}, collectExtents(t, drain))
	require.Equal(t, uint64(20), index.FreePages())
	require.Equal(t, uint64(15), drain.FreePages())
}

func TestRangeIndexFindIntersecting(t *testing.T) {
	index := metadata.NewRangeIndex()
	index.Insert(metadata.NewExtent(0, 4, metadata.MemTypeDirty), false)
	index.Insert(metadata.NewExtent(10, 8, metadata.MemTypeDirty), false)
	index.Insert(metadata.NewExtent(30, 1, metadata.MemTypeDirty), false)

	require.Equal(t, metadata.PFN(30), index.FindIntersecting(metadata.MemTypeDirty, 0, 0).Start())
	require.Equal(t, metadata.PFN(10), index.FindIntersecting(metadata.MemTypeDirty, 12, 20).Start())
	require.Equal(t, metadata.PFN(0), index.FindIntersecting(metadata.MemTypeDirty, 0, 5).Start())
	require.Nil(t, index.FindIntersecting(metadata.MemTypeDirty, 20, 30))
	require.Nil(t, index.FindIntersecting(metadata.MemTypeZero, 0, 0))
}

func TestRangeIndexFindIntersectingSkipsOtherExtents(t *testing.T) {
	index := metadata.NewRangeIndex()
	for pfn := metadata.PFN(0); pfn < 40; pfn += 2 {
		index.Insert(metadata.NewExtent(pfn, 1, metadata.MemTypeDirty), false)
	}
	index.Insert(metadata.NewExtent(41, 4, metadata.MemTypeZero), false)
	index.Insert(metadata.NewExtent(46, 4, metadata.MemTypeDirty), false)
	index.Insert(metadata.NewExtent(60, 4, metadata.MemTypeDirty), false)
	require.NoError(t, index.Validate())

	require.Equal(t, metadata.PFN(46), index.FindIntersecting(metadata.MemTypeDirty, 40, 50).Start())
	require.Equal(t, metadata.PFN(38), index.FindIntersecting(metadata.MemTypeDirty, 37, 50).Start())
	require.Equal(t, metadata.PFN(41), index.FindIntersecting(metadata.MemTypeZero, 30, 50).Start())
	require.Nil(t, index.FindIntersecting(metadata.MemTypeDirty, 50, 60))
	require.Nil(t, index.FindIntersecting(metadata.MemTypeZero, 45, 60))
}

func TestRangeIndexStatistics(t *testing.T) {
	index := metadata.NewRangeIndex()
	index.Insert(metadata.NewExtent(0, 4, metadata.MemTypeDirty), false)
	index.Insert(metadata.NewExtent(10, 1, metadata.MemTypeZero), false)

	var stats memutils.DetailedStatistics
	stats.Clear()
	index.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			FreeSegmentCount: 2,
			FreePages:        5,
		},
		ZeroPages:        1,
		DirtyPages:       4,
		SegmentSizeMin:   1,
		SegmentSizeMax:   4,
		SingleSegmentCnt: 1,
	}, stats)

	var empty memutils.DetailedStatistics
	empty.Clear()
	metadata.NewRangeIndex().AddDetailedStatistics(&empty)
	require.Equal(t, math.MaxInt, empty.SegmentSizeMin)
}
