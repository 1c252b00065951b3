package metadata_test

import (
	"math"
	"math/rand"
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/elysium/memutils"
	"github.com/vkngwrapper/elysium/memutils/metadata"
)

func allocate(t *testing.T, tlsf *metadata.TLSF, size, alignment int, strategy metadata.AllocationStrategy) (metadata.BlockAllocationHandle, int) {
	success, req, err := tlsf.CreateAllocationRequest(size, alignment, strategy)
	require.NoError(t, err)
	require.True(t, success)

	handle := req.BlockAllocationHandle
	err = tlsf.Alloc(req, &handle)
	require.NoError(t, err)

	return handle, req.Offset
}

func emptyStats(size int) memutils.DetailedStatistics {
	return memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount: 1,
			BlockBytes: size,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: size,
		UnusedRangeSizeMax: size,
	}
}

func TestTLSFBasicAlloc(t *testing.T) {
	tlsf := metadata.NewTLSF()
	tlsf.Init(1000)

	var stats memutils.DetailedStatistics
	stats.Clear()
	tlsf.AddDetailedStatistics(&stats)
	require.Equal(t, emptyStats(1000), stats)

	alloc1, offset := allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinMemory)
	require.Equal(t, 0, offset)

	stats.Clear()
	tlsf.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      1000,
			AllocationCount: 1,
			AllocationBytes: 100,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  100,
		AllocationSizeMax:  100,
		UnusedRangeSizeMin: 900,
		UnusedRangeSizeMax: 900,
	}, stats)

	err := tlsf.Free(alloc1)
	require.NoError(t, err)

	stats.Clear()
	tlsf.AddDetailedStatistics(&stats)
	require.Equal(t, emptyStats(1000), stats)
	require.True(t, tlsf.IsEmpty())
}

func TestTLSFTripleSized(t *testing.T) {
	tlsf := metadata.NewTLSF()
	tlsf.Init(10000)

	alloc1, _ := allocate(t, tlsf, 10, 1, metadata.AllocationStrategyMinMemory)
	alloc2, _ := allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinMemory)
	alloc3, _ := allocate(t, tlsf, 1000, 1, metadata.AllocationStrategyMinMemory)

	var stats memutils.DetailedStatistics
	stats.Clear()
	tlsf.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      10000,
			AllocationCount: 3,
			AllocationBytes: 1110,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  10,
		AllocationSizeMax:  1000,
		UnusedRangeSizeMin: 8890,
		UnusedRangeSizeMax: 8890,
	}, stats)
	require.NoError(t, tlsf.Validate())

	require.NoError(t, tlsf.Free(alloc2))
	require.Equal(t, 2, tlsf.FreeRegionsCount())
	require.NoError(t, tlsf.Validate())

	require.NoError(t, tlsf.Free(alloc1))
	require.NoError(t, tlsf.Free(alloc3))

	stats.Clear()
	tlsf.AddDetailedStatistics(&stats)
	require.Equal(t, emptyStats(10000), stats)
	require.Equal(t, 1, tlsf.FreeRegionsCount())
	require.NoError(t, tlsf.Validate())
}

func TestTLSFAlignmentPadding(t *testing.T) {
	tlsf := metadata.NewTLSF()
	tlsf.Init(10000)

	alloc1, offset1 := allocate(t, tlsf, 10, 1, 0)
	require.Equal(t, 0, offset1)

	alloc2, offset2 := allocate(t, tlsf, 100, 64, 0)
	require.Equal(t, 64, offset2)

	var stats memutils.DetailedStatistics
	stats.Clear()
	tlsf.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			BlockCount:      1,
			BlockBytes:      10000,
			AllocationCount: 2,
			AllocationBytes: 110,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  10,
		AllocationSizeMax:  100,
		UnusedRangeSizeMin: 54,
		UnusedRangeSizeMax: 9836,
	}, stats)
	require.NoError(t, tlsf.Validate())

	require.NoError(t, tlsf.Free(alloc1))
	require.NoError(t, tlsf.Validate())
	require.Equal(t, 10000-100, tlsf.SumFreeSize())

	require.NoError(t, tlsf.Free(alloc2))
	require.NoError(t, tlsf.Validate())
	require.True(t, tlsf.IsEmpty())
	require.Equal(t, 1, tlsf.FreeRegionsCount())
}

func TestTLSFExactFit(t *testing.T) {
	tlsf := metadata.NewTLSF()
	tlsf.Init(100)

	alloc, _ := allocate(t, tlsf, 100, 1, 0)
	require.Equal(t, 0, tlsf.SumFreeSize())
	require.Equal(t, 0, tlsf.FreeRegionsCount())
	require.False(t, tlsf.MayHaveFreeBlock(1))

	success, _, err := tlsf.CreateAllocationRequest(1, 1, 0)
	require.NoError(t, err)
	require.False(t, success)

	require.NoError(t, tlsf.Free(alloc))
	require.Equal(t, 100, tlsf.SumFreeSize())
	require.True(t, tlsf.MayHaveFreeBlock(100))
	require.NoError(t, tlsf.Validate())
}

func TestTLSFMinOffsetReusesHole(t *testing.T) {
	tlsf := metadata.NewTLSF()
	tlsf.Init(10000)

	_, _ = allocate(t, tlsf, 100, 1, 0)
	alloc2, _ := allocate(t, tlsf, 100, 1, 0)
	_, _ = allocate(t, tlsf, 100, 1, 0)

	require.NoError(t, tlsf.Free(alloc2))

	_, offset := allocate(t, tlsf, 50, 1, metadata.AllocationStrategyMinOffset)
	require.Equal(t, 100, offset)

	_, offset = allocate(t, tlsf, 50, 1, metadata.AllocationStrategyMinOffset)
	require.Equal(t, 150, offset)

	_, offset = allocate(t, tlsf, 50, 1, metadata.AllocationStrategyMinOffset)
	require.Equal(t, 300, offset)

	require.NoError(t, tlsf.Validate())
}

func TestTLSFInvalidRequests(t *testing.T) {
	tlsf := metadata.NewTLSF()
	tlsf.Init(1000)

	_, _, err := tlsf.CreateAllocationRequest(0, 1, 0)
	require.Error(t, err)

	_, _, err = tlsf.CreateAllocationRequest(10, 3, 0)
	require.ErrorIs(t, err, memutils.PowerOfTwoError)

	success, _, err := tlsf.CreateAllocationRequest(1001, 1, 0)
	require.NoError(t, err)
	require.False(t, success)

	alloc, _ := allocate(t, tlsf, 10, 1, 0)
	require.NoError(t, tlsf.Free(alloc))
	require.Error(t, tlsf.Free(alloc))
	require.Error(t, tlsf.Free(metadata.NoAllocation))
}

func TestTLSFStaleRequest(t *testing.T) {
	tlsf := metadata.NewTLSF()
	tlsf.Init(1000)

	_, _ = allocate(t, tlsf, 100, 1, 0)
	alloc2, _ := allocate(t, tlsf, 100, 1, 0)
	_, _ = allocate(t, tlsf, 100, 1, 0)
	require.NoError(t, tlsf.Free(alloc2))

	success, req, err := tlsf.CreateAllocationRequest(100, 1, metadata.AllocationStrategyMinOffset)
	require.NoError(t, err)
	require.True(t, success)
	require.NoError(t, tlsf.Alloc(req, nil))

	require.Error(t, tlsf.Alloc(req, nil))
}

func TestTLSFMergesNeighbours(t *testing.T) {
	tlsf := metadata.NewTLSF()
	tlsf.Init(1000)

	var handles []metadata.BlockAllocationHandle
	for i := 0; i < 10; i++ {
		handle, offset := allocate(t, tlsf, 100, 1, metadata.AllocationStrategyMinOffset)
		require.Equal(t, i*100, offset)
		handles = append(handles, handle)
	}
	require.Equal(t, 10, tlsf.AllocationCount())
	require.Zero(t, tlsf.FreeRegionsCount())

	// Free every other region, then the rest, so each free merges on both sides
	for i := 0; i < len(handles); i += 2 {
		require.NoError(t, tlsf.Free(handles[i]))
	}
	require.Equal(t, 5, tlsf.FreeRegionsCount())
	require.NoError(t, tlsf.Validate())

	for i := 1; i < len(handles); i += 2 {
		require.NoError(t, tlsf.Free(handles[i]))
		require.NoError(t, tlsf.Validate())
	}

	require.True(t, tlsf.IsEmpty())
	require.Equal(t, 1, tlsf.FreeRegionsCount())

	_, offset := allocate(t, tlsf, 1000, 8, 0)
	require.Equal(t, 0, offset)
}

func TestTLSFVisitAllRegions(t *testing.T) {
	tlsf := metadata.NewTLSF()
	tlsf.Init(100)

	alloc1, _ := allocate(t, tlsf, 40, 1, 0)
	alloc2, _ := allocate(t, tlsf, 40, 1, 0)
	require.NoError(t, tlsf.Free(alloc1))

	type region struct {
		offset int
		size   int
		free   bool
	}
	var regions []region
	err := tlsf.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
		if !free {
			require.Equal(t, alloc2, handle)
			require.Equal(t, &alloc2, userData)
		}
		regions = append(regions, region{offset, size, free})
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, []region{
		{0, 40, true},
		{40, 40, false},
		{80, 20, true},
	}, regions)
}

func TestTLSFBlockJsonData(t *testing.T) {
	tlsf := metadata.NewTLSF()
	tlsf.Init(1000)
	_, _ = allocate(t, tlsf, 100, 1, 0)

	w := jwriter.NewWriter()
	obj := w.Object()
	tlsf.BlockJsonData(&obj)
	obj.End()

	require.JSONEq(t, `{"TotalBytes":1000,"UnusedBytes":900,"Allocations":1,"UnusedRanges":1}`, string(w.Bytes()))
}

func TestTLSFRandomized(t *testing.T) {
	const blockSize = 1 << 16
	alignments := []int{1, 8, 16, 64, 256}

	tlsf := metadata.NewTLSF()
	tlsf.Init(blockSize)

	rng := rand.New(rand.NewSource(1))
	type live struct {
		handle metadata.BlockAllocationHandle
		offset int
		size   int
	}
	var allocs []live

	for i := 0; i < 5000; i++ {
		if len(allocs) > 0 && rng.Intn(3) == 0 {
			index := rng.Intn(len(allocs))
			require.NoError(t, tlsf.Free(allocs[index].handle))
			allocs[index] = allocs[len(allocs)-1]
			allocs = allocs[:len(allocs)-1]
		} else {
			size := rng.Intn(2000) + 1
			alignment := alignments[rng.Intn(len(alignments))]
			strategy := metadata.AllocationStrategy(0)
			if rng.Intn(2) == 0 {
				strategy = metadata.AllocationStrategy(1 << rng.Intn(3))
			}

			success, req, err := tlsf.CreateAllocationRequest(size, alignment, strategy)
			require.NoError(t, err)
			if !success {
				continue
			}
			require.Zero(t, req.Offset%alignment)
			require.LessOrEqual(t, req.Offset+size, blockSize)
			require.NoError(t, tlsf.Alloc(req, nil))

			for _, other := range allocs {
				overlap := req.Offset < other.offset+other.size && other.offset < req.Offset+size
				require.False(t, overlap, "allocation at %d overlaps allocation at %d", req.Offset, other.offset)
			}
			allocs = append(allocs, live{req.BlockAllocationHandle, req.Offset, size})
		}

		if i%100 == 0 {
			require.NoError(t, tlsf.Validate())
		}
	}

	for _, alloc := range allocs {
		require.NoError(t, tlsf.Free(alloc.handle))
	}

	require.NoError(t, tlsf.Validate())
	require.True(t, tlsf.IsEmpty())
	require.Equal(t, blockSize, tlsf.SumFreeSize())
	require.Equal(t, 1, tlsf.FreeRegionsCount())
}
