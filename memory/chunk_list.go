package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/elysium/layout"
	"github.com/vkngwrapper/elysium/memutils"
	"github.com/vkngwrapper/elysium/memutils/metadata"
	"golang.org/x/exp/slog"
)

var chunkPool = sync.Pool{
	New: func() any {
		return &chunk{}
	},
}

// chunkList owns every fixed-size chunk of an allocator. Chunks are kept roughly sorted by free space,
// smallest first, so that forward searches prefer fuller chunks. It is guarded by the allocator's mutex.
type chunkList struct {
	logger     *slog.Logger
	pageSource PageSource

	chunkSize          int
	minChunkCount      int
	strategy           metadata.AllocationStrategy
	releaseEmptyChunks bool

	chunks      []*chunk
	nextChunkId int
}

func (l *chunkList) Init(
	logger *slog.Logger,
	pageSource PageSource,
	chunkSize int,
	minChunkCount int,
	strategy metadata.AllocationStrategy,
	releaseEmptyChunks bool,
) {
	l.logger = logger
	l.pageSource = pageSource
	l.chunkSize = chunkSize
	l.minChunkCount = minChunkCount
	l.strategy = strategy
	l.releaseEmptyChunks = releaseEmptyChunks
}

func (l *chunkList) ChunkCount() int { return len(l.chunks) }

func (l *chunkList) Destroy() error {
	var err error
	remaining := l.chunks[:0]
	for _, c := range l.chunks {
		destroyErr := c.Destroy(l.pageSource)
		if destroyErr != nil {
			err = errors.WithMessage(destroyErr, "failed to destroy chunk list")
			remaining = append(remaining, c)
			continue
		}
		chunkPool.Put(c)
	}

	l.chunks = remaining
	return err
}

func (l *chunkList) CreateMinChunks() error {
	for i := len(l.chunks); i < l.minChunkCount; i++ {
		_, err := l.CreateChunk()
		if err != nil {
			return err
		}
	}

	return nil
}

func (l *chunkList) AddStatistics(stats *memutils.Statistics) {
	for _, c := range l.chunks {
		c.metadata.AddStatistics(stats)
	}
}

func (l *chunkList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for _, c := range l.chunks {
		c.metadata.AddDetailedStatistics(stats)
	}
}

// HasNoAllocations reports whether every chunk is empty
func (l *chunkList) HasNoAllocations() bool {
	for _, c := range l.chunks {
		if !c.metadata.IsEmpty() {
			return false
		}
	}

	return true
}

func (l *chunkList) CreateChunk() (*chunk, error) {
	data, err := l.pageSource.Map(l.chunkSize)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to map a new chunk of %d bytes", l.chunkSize)
	}
	if len(data) != l.chunkSize {
		_ = l.pageSource.Unmap(data)
		return nil, errors.Errorf("page source returned %d bytes when %d were requested", len(data), l.chunkSize)
	}

	c := chunkPool.Get().(*chunk)
	c.Init(l.logger, data, l.nextChunkId)
	l.nextChunkId++

	l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Created new chunk", slog.Int("chunk.id", c.id), slog.Int("size", l.chunkSize))

	l.chunks = append(l.chunks, c)
	return c, nil
}

func (l *chunkList) remove(c *chunk) {
	for chunkIndex := 0; chunkIndex < len(l.chunks); chunkIndex++ {
		if l.chunks[chunkIndex] == c {
			l.chunks = append(l.chunks[:chunkIndex], l.chunks[chunkIndex+1:]...)
			return
		}
	}

	panic("attempted to remove a chunk from a chunk list that did not belong to it")
}

// Allocate places an allocation with the provided layout in an existing chunk, or a new chunk if none
// of the existing ones has room.
func (l *chunkList) Allocate(allocLayout layout.Layout, outAlloc *allocation) error {
	size := int(allocLayout.Size)
	alignment := int(allocLayout.Align)

	if memutils.DebugMargin > 0 {
		size = memutils.AlignUp(size, 4)
		alignment = max(alignment, 4)
	}

	if size+memutils.DebugMargin > l.chunkSize {
		return errors.Errorf("allocation of %d bytes does not fit in a chunk of %d bytes", size, l.chunkSize)
	}

	// 1. Search existing chunks
	if l.strategy&metadata.AllocationStrategyMinTime != 0 {
		// Prefer chunks with the most free space by iterating backward
		for chunkIndex := len(l.chunks) - 1; chunkIndex >= 0; chunkIndex-- {
			allocated, err := l.allocFromChunk(l.chunks[chunkIndex], size, alignment, allocLayout, outAlloc)
			if err != nil || allocated {
				return err
			}
		}
	} else {
		// Prefer chunks with the least free space by iterating forward
		for chunkIndex := 0; chunkIndex < len(l.chunks); chunkIndex++ {
			allocated, err := l.allocFromChunk(l.chunks[chunkIndex], size, alignment, allocLayout, outAlloc)
			if err != nil || allocated {
				return err
			}
		}
	}

	// 2. Create a new chunk
	c, err := l.CreateChunk()
	if err != nil {
		return err
	}

	allocated, err := l.allocFromChunk(c, size, alignment, allocLayout, outAlloc)
	if err != nil {
		return err
	} else if !allocated {
		panic(fmt.Sprintf("created a new chunk %d to hold an allocation of size %d but the allocation did not fit", c.id, size))
	}

	return nil
}

func (l *chunkList) allocFromChunk(c *chunk, size, alignment int, allocLayout layout.Layout, outAlloc *allocation) (bool, error) {
	if !c.metadata.MayHaveFreeBlock(size) {
		return false, nil
	}

	success, request, err := c.metadata.CreateAllocationRequest(size, alignment, l.strategy)
	if err != nil {
		return false, err
	} else if !success {
		return false, nil
	}

	err = c.metadata.Alloc(request, outAlloc)
	if err != nil {
		return false, err
	}

	outAlloc.initChunkAllocation(c, request.BlockAllocationHandle, request.Offset, allocLayout)

	if memutils.DebugMargin > 0 {
		c.WriteMagicBlockAfterAllocation(request.Offset, request.Size)
	}

	l.incrementallySortChunks()
	return true, nil
}

// Free releases an allocation back to its chunk. A chunk that becomes empty is returned to the page
// source if the list can spare it.
func (l *chunkList) Free(alloc *allocation) error {
	c := alloc.chunk

	if memutils.DebugMargin > 0 {
		size := memutils.AlignUp(int(alloc.layout.Size), 4)
		c.ValidateMagicValueAfterAllocation(alloc.offset, size)
	}

	hadEmptyChunk := l.hasEmptyChunk()
	err := c.metadata.Free(alloc.handle)
	if err != nil {
		panic(fmt.Sprintf("unexpected error when freeing allocation with handle %+v in chunk %d: %+v", alloc.handle, c.id, err))
	}
	memutils.DebugValidate(c)

	var chunkToDelete *chunk
	canDeleteChunk := len(l.chunks) > l.minChunkCount

	if c.metadata.IsEmpty() && (hadEmptyChunk || l.releaseEmptyChunks) && canDeleteChunk {
		chunkToDelete = c
		l.remove(c)
	} else if !c.metadata.IsEmpty() && hadEmptyChunk && canDeleteChunk {
		// There is an empty chunk somewhere that we don't need
		lastChunk := l.chunks[len(l.chunks)-1]
		if lastChunk.metadata.IsEmpty() {
			chunkToDelete = lastChunk
			l.chunks = l.chunks[:len(l.chunks)-1]
		}
	}

	if chunkToDelete != nil {
		l.SortByFreeSize()
	} else {
		l.incrementallySortChunks()
	}

	if chunkToDelete != nil {
		l.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Deleted empty chunk", slog.Int("chunk.id", chunkToDelete.id))
		err = chunkToDelete.Destroy(l.pageSource)
		if err != nil {
			return err
		}
		chunkPool.Put(chunkToDelete)
	}

	return nil
}

func (l *chunkList) hasEmptyChunk() bool {
	for _, c := range l.chunks {
		if c.metadata.IsEmpty() {
			return true
		}
	}

	return false
}

func (l *chunkList) incrementallySortChunks() {
	for chunkIndex := 1; chunkIndex < len(l.chunks); chunkIndex++ {
		if l.chunks[chunkIndex-1].metadata.SumFreeSize() > l.chunks[chunkIndex].metadata.SumFreeSize() {
			l.chunks[chunkIndex-1], l.chunks[chunkIndex] = l.chunks[chunkIndex], l.chunks[chunkIndex-1]
			return
		}
	}
}

// SortByFreeSize fully restores the fullest-first order after the chunk set changes shape
func (l *chunkList) SortByFreeSize() {
	sort.Slice(l.chunks, func(i, j int) bool {
		return l.chunks[i].metadata.SumFreeSize() < l.chunks[j].metadata.SumFreeSize()
	})
}

func (l *chunkList) PrintDetailedMap(json *jwriter.ObjectState) {
	for _, c := range l.chunks {
		chunkObj := json.Name(strconv.Itoa(c.id)).Object()

		c.metadata.BlockJsonData(&chunkObj)
		l.printDetailedMapAllocations(c.metadata, &chunkObj)

		chunkObj.End()
	}
}

func (l *chunkList) printDetailedMapAllocations(md metadata.BlockMetadata, json *jwriter.ObjectState) {
	arrayState := json.Name("Suballocations").Array()
	defer arrayState.End()

	_ = md.VisitAllRegions(
		func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			obj := arrayState.Object()
			defer obj.End()

			if free {
				obj.Name("Offset").Int(offset)
				obj.Name("Type").String("Free")
				obj.Name("Size").Int(size)
				return nil
			}

			alloc, isAllocation := userData.(*allocation)
			if isAllocation && alloc != nil {
				alloc.printParameters(&obj)
			} else {
				obj.Name("Offset").Int(offset)
				obj.Name("Size").Int(size)
			}

			return nil
		})
}

func (l *chunkList) CheckCorruption() error {
	for _, c := range l.chunks {
		err := c.CheckCorruption()
		if err != nil {
			return errors.WithMessagef(err, "chunk %d", c.id)
		}
	}

	return nil
}

func (l *chunkList) Validate() error {
	for _, c := range l.chunks {
		err := c.Validate()
		if err != nil {
			return err
		}
	}

	return nil
}
