package memutils_test

import (
	"testing"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/elysium/memutils"
)

func TestCheckPow2(t *testing.T) {
	for _, value := range []uintptr{1, 2, 4, 64, 1 << 30} {
		require.NoError(t, memutils.CheckPow2(value, "value"))
	}

	for _, value := range []int{0, 3, 6, 100} {
		require.ErrorIs(t, memutils.CheckPow2(value, "value"), memutils.PowerOfTwoError)
	}
}

func TestAlign(t *testing.T) {
	require.Equal(t, 16, memutils.AlignUp(9, 8))
	require.Equal(t, 8, memutils.AlignUp(8, 8))
	require.Equal(t, uintptr(0), memutils.AlignUp(uintptr(0), 64))
	require.Equal(t, 8, memutils.AlignDown(15, 8))
}

func TestCheckedArithmetic(t *testing.T) {
	sum, ok := memutils.CheckedAdd(10, 20)
	require.True(t, ok)
	require.Equal(t, uintptr(30), sum)

	_, ok = memutils.CheckedAdd(^uintptr(0), 1)
	require.False(t, ok)

	product, ok := memutils.CheckedMul(1<<15, 1<<15)
	require.True(t, ok)
	require.Equal(t, uintptr(1<<30), product)

	_, ok = memutils.CheckedMul(^uintptr(0)/2, 3)
	require.False(t, ok)

	aligned, ok := memutils.CheckedAlignUp(17, 16)
	require.True(t, ok)
	require.Equal(t, uintptr(32), aligned)

	_, ok = memutils.CheckedAlignUp(^uintptr(0)-3, 8)
	require.False(t, ok)
}

func TestDetailedStatisticsJson(t *testing.T) {
	var stats memutils.DetailedStatistics
	stats.Clear()

	w := jwriter.NewWriter()
	obj := w.Object()
	stats.WriteJson(&obj)
	obj.End()
	require.JSONEq(t, `{"BlockCount":0,"BlockBytes":0,"AllocationCount":0,"AllocationBytes":0,"UnusedRangeCount":0}`, string(w.Bytes()))

	stats.BlockCount = 1
	stats.BlockBytes = 1024
	stats.AddAllocation(100)
	stats.AddAllocation(300)
	stats.AddUnusedRange(624)

	var other memutils.DetailedStatistics
	other.Clear()
	other.AddAllocation(50)
	stats.AddDetailedStatistics(&other)

	w = jwriter.NewWriter()
	obj = w.Object()
	stats.WriteJson(&obj)
	obj.End()
	require.JSONEq(t, `{
		"BlockCount":1,"BlockBytes":1024,"AllocationCount":3,"AllocationBytes":450,
		"UnusedRangeCount":1,
		"AllocationSizeMin":50,"AllocationSizeMax":300,
		"UnusedRangeSizeMin":624,"UnusedRangeSizeMax":624
	}`, string(w.Bytes()))
}
