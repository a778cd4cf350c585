package pmr_test

import (
	"testing"

	"github.com/arsenal-os/pmemrange/memutils/metadata"
	"github.com/arsenal-os/pmemrange/pmr"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

func TestAllocLargest(t *testing.T) {
	allocator := readyAllocator(t, AllocatorSetup{
		Segments: []pmr.Segment{
			{Start: 0, End: 10},
			{Start: 20, End: 50},
		},
	})

	start, count, err := allocator.AllocLargest()
	require.NoError(t, err)
	require.Equal(t, metadata.PFN(20), start)
	require.Equal(t, 30, count)
	require.False(t, allocator.Page(20).IsFree())
	require.Equal(t, uint64(1), allocator.Page(49).Version())
	require.NoError(t, allocator.Validate())

	start, count, err = allocator.AllocLargest()
	require.NoError(t, err)
	require.Equal(t, metadata.PFN(0), start)
	require.Equal(t, 10, count)
	requireFreePages(t, allocator, 0, 0)

	_, _, err = allocator.AllocLargest()
	require.Error(t, err)
	require.True(t, errors.Is(err, pmr.ErrResourceExhausted))

	require.NoError(t, allocator.FreeRun(20, 30))
	requireFreePages(t, allocator, 1, 30)
	require.NoError(t, allocator.Validate())
}

func TestAllocLargestFirstFoundWins(t *testing.T) {
	allocator := readyAllocator(t, AllocatorSetup{
		Segments: []pmr.Segment{
			{Start: 0, End: 16},
			{Start: 32, End: 48},
		},
	})

	start, count, err := allocator.AllocLargest()
	require.NoError(t, err)
	require.Equal(t, metadata.PFN(0), start)
	require.Equal(t, 16, count)
}

func TestAllocLargestZeroPool(t *testing.T) {
	allocator := readyAllocator(t, AllocatorSetup{
		Segments: []pmr.Segment{{Start: 0, End: 20}},
	})

	require.Equal(t, 20, allocator.ZeroEverything())

	start, count, err := allocator.AllocLargest()
	require.NoError(t, err)
	require.Equal(t, metadata.PFN(0), start)
	require.Equal(t, 20, count)
	require.False(t, allocator.Page(5).IsZero())

	counters := allocator.Counters()
	require.Equal(t, 0, counters.ZeroPages)
	require.Equal(t, 0, counters.FreePages)
	require.NoError(t, allocator.Validate())
}

func TestZeroEverything(t *testing.T) {
	allocator := readyAllocator(t, AllocatorSetup{
		Segments: []pmr.Segment{{Start: 0, End: 40}},
	})

	pages, err := allocator.GetPages(10, pmr.AllocationCreateInfo{
		Start:       10,
		End:         20,
		MaxSegments: 1,
	})
	require.NoError(t, err)
	for _, page := range pages[:5] {
		page.MarkZeroed()
	}
	require.NoError(t, allocator.FreeList(pages))
	require.Equal(t, 5, allocator.Counters().ZeroPages)

	require.Equal(t, 35, allocator.ZeroEverything())
	require.NoError(t, allocator.Validate())
	require.Equal(t, 40, allocator.Counters().ZeroPages)
	requireFreePages(t, allocator, 1, 40)

	// Nothing is left to zero
	require.Equal(t, 0, allocator.ZeroEverything())
}
