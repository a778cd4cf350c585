package pmr_test

import (
	"sort"
	"testing"

	"github.com/arsenal-os/pmemrange/memutils"
	"github.com/arsenal-os/pmemrange/memutils/metadata"
	"github.com/arsenal-os/pmemrange/pmr"
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

type AllocatorSetup struct {
	Segments         []pmr.Segment
	IOWindows        []pmr.AddressWindow
	AllocatorOptions pmr.CreateOptions
}

func readyAllocator(t *testing.T, setup AllocatorSetup) *pmr.Allocator {
	allocator, err := pmr.New(slog.Default(), setup.Segments, setup.IOWindows, setup.AllocatorOptions)
	require.NoError(t, err)
	require.NoError(t, allocator.Validate())

	return allocator
}

type pageRun struct {
	Start metadata.PFN
	Count int
}

// pageRuns returns the maximal contiguous runs in pages, in address order
func pageRuns(pages pmr.PageList) []pageRun {
	pfns := make([]metadata.PFN, 0, len(pages))
	for _, page := range pages {
		pfns = append(pfns, page.PFN())
	}
	sort.Slice(pfns, func(i, j int) bool { return pfns[i] < pfns[j] })

	var runs []pageRun
	for _, pfn := range pfns {
		if len(runs) > 0 && runs[len(runs)-1].Start+metadata.PFN(runs[len(runs)-1].Count) == pfn {
			runs[len(runs)-1].Count++
			continue
		}
		runs = append(runs, pageRun{Start: pfn, Count: 1})
	}
	return runs
}

func requireFreePages(t *testing.T, allocator *pmr.Allocator, segments, pages int) {
	var stats memutils.Statistics
	stats.Clear()
	allocator.AddStatistics(&stats)

	require.Equal(t, segments, stats.FreeSegmentCount)
	require.Equal(t, pages, stats.FreePages)
	require.Equal(t, pages, allocator.Counters().FreePages)
}

func TestNewRejectsBadSegments(t *testing.T) {
	_, err := pmr.New(slog.Default(), []pmr.Segment{{Start: 0, End: 10}, {Start: 5, End: 20}}, nil, pmr.CreateOptions{})
	require.Error(t, err)
	require.True(t, errors.Is(err, pmr.ErrConstraint))

	_, err = pmr.New(slog.Default(), []pmr.Segment{{Start: 10, End: 10}}, nil, pmr.CreateOptions{})
	require.Error(t, err)
	require.True(t, errors.Is(err, pmr.ErrConstraint))
}

func TestNewSeedsFreePools(t *testing.T) {
	allocator := readyAllocator(t, AllocatorSetup{
		Segments: []pmr.Segment{
			{Start: 100, End: 200},
			{Start: 0, End: 50},
		},
	})

	var stats memutils.DetailedStatistics
	stats.Clear()
	allocator.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			RangeCount:       2,
			FreeSegmentCount: 2,
			TotalPages:       150,
			FreePages:        150,
		},
		ZeroPages:        0,
		DirtyPages:       150,
		SegmentSizeMin:   50,
		SegmentSizeMax:   100,
		SingleSegmentCnt: 0,
	}, stats)

	require.True(t, allocator.IsFree(0))
	require.True(t, allocator.IsFree(199))
	require.False(t, allocator.IsFree(50))
	require.False(t, allocator.IsFree(200))

	require.Nil(t, allocator.Page(75))
	page := allocator.Page(120)
	require.NotNil(t, page)
	require.Equal(t, metadata.PFN(120), page.PFN())
	require.True(t, page.IsFree())
	require.False(t, page.IsZero())
}

func TestIsFreeTracksAllocation(t *testing.T) {
	allocator := readyAllocator(t, AllocatorSetup{
		Segments: []pmr.Segment{{Start: 0, End: 100}},
	})

	pages, err := allocator.GetPages(10, pmr.AllocationCreateInfo{MaxSegments: 1})
	require.NoError(t, err)
	require.Equal(t, []pageRun{{Start: 0, Count: 10}}, pageRuns(pages))

	require.False(t, allocator.IsFree(0))
	require.False(t, allocator.IsFree(9))
	require.True(t, allocator.IsFree(10))

	for _, page := range pages {
		require.False(t, page.IsFree())
		require.Equal(t, uint64(1), page.Version())
	}

	require.NoError(t, allocator.FreeList(pages))
	require.True(t, allocator.IsFree(0))
	require.NoError(t, allocator.Validate())
}

func TestPrintDetailedMap(t *testing.T) {
	allocator := readyAllocator(t, AllocatorSetup{
		Segments: []pmr.Segment{{Start: 0, End: 10}},
	})

	_, err := allocator.GetPages(2, pmr.AllocationCreateInfo{MaxSegments: 1})
	require.NoError(t, err)

	writer := jwriter.NewWriter()
	allocator.PrintDetailedMap(&writer)
	require.NoError(t, writer.Error())

	require.JSONEq(t, `{
		"FreePages": 8,
		"ZeroPages": 0,
		"Ranges": {
			"0": {
				"Low": 0,
				"High": 10,
				"Use": 0,
				"Segments": 1,
				"FreePages": 8,
				"MaxSegmentSizeDirty": 8,
				"MaxSegmentSizeZero": 0,
				"Extents": [
					{"Start": 2, "Length": 8, "Type": "Dirty"}
				]
			}
		}
	}`, string(writer.Bytes()))
}
