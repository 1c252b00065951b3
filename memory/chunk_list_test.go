package memory

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/elysium/layout"
	"github.com/vkngwrapper/elysium/memutils/metadata"
	"golang.org/x/exp/slog"
)

func chunkIds(l *chunkList) []int {
	ids := make([]int, 0, len(l.chunks))
	for _, c := range l.chunks {
		ids = append(ids, c.id)
	}
	return ids
}

func TestChunkListSortsAfterDeletingChunks(t *testing.T) {
	source := NewHeapPageSource()

	var l chunkList
	l.Init(slog.New(slog.NewTextHandler(io.Discard, nil)), source, 64*1024, 0, metadata.AllocationStrategyMinMemory, false)

	for i := 0; i < 3; i++ {
		_, err := l.CreateChunk()
		require.NoError(t, err)
	}
	require.True(t, l.HasNoAllocations())

	small := layout.Layout{Size: 256, Align: 8}
	large := layout.Layout{Size: 8192, Align: 8}

	var smallAlloc, largeAlloc allocation
	allocated, err := l.allocFromChunk(l.chunks[0], int(small.Size), int(small.Align), small, &smallAlloc)
	require.NoError(t, err)
	require.True(t, allocated)
	allocated, err = l.allocFromChunk(l.chunks[1], int(large.Size), int(large.Align), large, &largeAlloc)
	require.NoError(t, err)
	require.True(t, allocated)
	require.False(t, l.HasNoAllocations())

	l.SortByFreeSize()
	require.Equal(t, []int{1, 0, 2}, chunkIds(&l))

	// Chunk 1 empties while chunk 2 is already empty, so it is unmapped
	require.NoError(t, l.Free(&largeAlloc))
	require.Equal(t, []int{0, 2}, chunkIds(&l))
	require.Equal(t, 2, source.MappedCount())

	require.NoError(t, l.Free(&smallAlloc))
	require.Equal(t, []int{2}, chunkIds(&l))
	require.True(t, l.HasNoAllocations())

	require.NoError(t, l.Destroy())
	require.Zero(t, source.MappedCount())
}
