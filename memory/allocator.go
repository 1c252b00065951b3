package memory

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/elysium/layout"
	"github.com/vkngwrapper/elysium/memory/internal/utils"
	"github.com/vkngwrapper/elysium/memutils"
	"golang.org/x/exp/slog"
)

// Allocator hands out blocks of memory that live outside the garbage-collected heap. Small blocks are
// suballocated from fixed-size chunks using TLSF metadata, and large or over-aligned blocks receive a
// dedicated mapping. Every block must be returned with Deallocate, passing the same layout it was
// allocated with.
//
// Memory handed out by an Allocator is not scanned by the garbage collector, so it must never hold
// the only reference to a Go heap object.
type Allocator struct {
	mutex       utils.OptionalRWMutex
	logger      *slog.Logger
	createFlags CreateFlags

	pageSource         PageSource
	pageSize           int
	chunkSize          int
	dedicatedThreshold int

	chunks               chunkList
	dedicatedAllocations dedicatedAllocationList
	records              *swiss.Map[uintptr, *allocation]
}

// Logger retrieves the logger the allocator was created with
func (a *Allocator) Logger() *slog.Logger {
	return a.logger
}

// Allocate reserves a block with the provided layout and returns its address. The block contents are
// unspecified. Zero-sized layouts are rejected, since every block must have a distinct address.
//
// If the page source cannot supply memory, the returned error wraps memutils.OutOfMemoryError.
func (a *Allocator) Allocate(l layout.Layout) (unsafe.Pointer, error) {
	if l.Size == 0 {
		return nil, errors.New("attempted to allocate a zero-sized block")
	}
	err := memutils.CheckPow2(l.Align, "block alignment")
	if err != nil {
		return nil, err
	}
	if l.Size > layout.MaxSize-(l.Align-1) {
		return nil, errors.Wrapf(memutils.LayoutOverflowError, "block layout %s", l)
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	alloc := allocationPool.Get().(*allocation)

	if a.useDedicated(l) {
		err = a.allocateDedicated(l, alloc)
	} else {
		err = a.chunks.Allocate(l, alloc)
	}
	if err != nil {
		allocationPool.Put(alloc)
		return nil, err
	}

	a.records.Put(alloc.key(), alloc)
	return alloc.address, nil
}

func (a *Allocator) useDedicated(l layout.Layout) bool {
	return int(l.Size)+memutils.DebugMargin >= a.dedicatedThreshold || int(l.Align) > a.pageSize
}

func (a *Allocator) allocateDedicated(l layout.Layout, outAlloc *allocation) error {
	mapSize := int(l.Size)
	if int(l.Align) > a.pageSize {
		// Mappings are only page aligned, so leave room to slide the block forward
		mapSize += int(l.Align) - a.pageSize
	}
	mapSize = memutils.AlignUp(mapSize, a.pageSize)

	mapping, err := a.pageSource.Map(mapSize)
	if err != nil {
		return errors.WithMessagef(err, "failed to map a dedicated block of %d bytes", mapSize)
	}

	base := unsafe.Pointer(unsafe.SliceData(mapping))
	offset := memutils.AlignUp(uintptr(base), l.Align) - uintptr(base)
	outAlloc.initDedicatedAllocation(mapping, unsafe.Add(base, offset), l)
	a.dedicatedAllocations.Register(outAlloc)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "    Allocated dedicated mapping",
		slog.Int("size", mapSize),
		slog.String("layout", l.String()))
	return nil
}

// Deallocate returns a block to the allocator. The layout must be the one the block was allocated
// with. Passing an address that this allocator did not return, or that was already deallocated, panics.
func (a *Allocator) Deallocate(ptr unsafe.Pointer, l layout.Layout) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	key := uintptr(ptr)
	alloc, ok := a.records.Get(key)
	if !ok {
		panic(fmt.Sprintf("attempted to deallocate %#x, which is not a live block of this allocator", key))
	}
	if alloc.layout != l {
		panic(fmt.Sprintf("attempted to deallocate block %#x with layout %s, but it was allocated with layout %s", key, l, alloc.layout))
	}
	a.records.Delete(key)

	var err error
	if alloc.isDedicated() {
		a.dedicatedAllocations.Unregister(alloc)
		err = a.pageSource.Unmap(alloc.mapping)
		if err != nil {
			err = errors.Wrapf(err, "failed to unmap dedicated block %#x", key)
		}
	} else {
		err = a.chunks.Free(alloc)
	}

	*alloc = allocation{}
	allocationPool.Put(alloc)

	if err != nil {
		a.logger.LogAttrs(context.Background(), slog.LevelError, "failed to release memory to the page source",
			slog.String("error", fmt.Sprintf("%+v", err)))
	}
}

// Statistics retrieves a cheap summary of the allocator's current usage
func (a *Allocator) Statistics() memutils.Statistics {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	var stats memutils.Statistics
	a.chunks.AddStatistics(&stats)
	a.dedicatedAllocations.AddStatistics(&stats)
	return stats
}

// CalculateStatistics populates stats with detailed information about every chunk and dedicated
// mapping. It visits every region, so it is slow.
func (a *Allocator) CalculateStatistics(stats *memutils.DetailedStatistics) {
	stats.Clear()

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.chunks.AddDetailedStatistics(stats)
	a.dedicatedAllocations.AddDetailedStatistics(stats)
}

// LiveBlockCount returns the number of blocks that have been allocated and not yet deallocated
func (a *Allocator) LiveBlockCount() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.records.Count()
}

// BuildStatsString produces a json document describing the allocator's usage. If detailedMap is
// true, every chunk is listed region by region.
func (a *Allocator) BuildStatsString(detailedMap bool) string {
	var stats memutils.DetailedStatistics
	a.CalculateStatistics(&stats)

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	writer := jwriter.NewWriter()
	objState := writer.Object()

	config := objState.Name("Config").Object()
	config.Name("Flags").String(a.createFlags.String())
	config.Name("PageSize").Int(a.pageSize)
	config.Name("ChunkSize").Int(a.chunkSize)
	config.Name("DedicatedThreshold").Int(a.dedicatedThreshold)
	config.Name("Strategy").String(a.chunks.strategy.String())
	config.End()

	total := objState.Name("Total").Object()
	stats.WriteJson(&total)
	total.End()

	objState.Name("ChunkCount").Int(a.chunks.ChunkCount())
	objState.Name("DedicatedAllocationCount").Int(a.dedicatedAllocations.count)

	if detailedMap {
		chunks := objState.Name("Chunks").Object()
		a.chunks.PrintDetailedMap(&chunks)
		chunks.End()

		dedicated := objState.Name("DedicatedAllocations").Array()
		a.dedicatedAllocations.BuildStatsString(&dedicated)
		dedicated.End()
	}

	objState.End()

	return string(writer.Bytes())
}

// Validate performs consistency checks on the allocator's internal bookkeeping. When the allocator
// is working correctly it never returns an error.
func (a *Allocator) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	err := a.chunks.Validate()
	if err != nil {
		return err
	}

	err = a.dedicatedAllocations.Validate()
	if err != nil {
		return err
	}

	recordCount := a.records.Count()
	if recordCount == 0 && !a.chunks.HasNoAllocations() {
		return errors.New("allocator tracks no live blocks, but its chunks still hold allocations")
	}

	var stats memutils.Statistics
	a.chunks.AddStatistics(&stats)
	if stats.AllocationCount+a.dedicatedAllocations.count != recordCount {
		return errors.Newf("allocator tracks %d live blocks, but its chunks and dedicated list hold %d", recordCount, stats.AllocationCount+a.dedicatedAllocations.count)
	}

	var recordErr error
	a.records.Iter(func(key uintptr, alloc *allocation) bool {
		if alloc.key() != key {
			recordErr = errors.Newf("block %#x is recorded under address %#x", alloc.key(), key)
			return true
		}
		if !alloc.isDedicated() && (alloc.chunk == nil || !alloc.chunk.Contains(alloc.address)) {
			recordErr = errors.Newf("block %#x does not lie within its chunk", key)
			return true
		}
		return false
	})

	return recordErr
}

// CheckCorruption verifies the guard bytes after every chunk allocation. Guard bytes are only written
// when built with the debug_mem_utils tag, so without it this method always returns an error.
func (a *Allocator) CheckCorruption() error {
	if memutils.DebugMargin == 0 {
		return errors.New("corruption detection requires the debug_mem_utils build tag")
	}

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.chunks.CheckCorruption()
}

// Destroy returns every chunk to the page source. Blocks that are still live are logged and cause an
// error to be returned, and the memory behind them stays mapped. Dedicated mappings that are still
// live are logged and then released.
func (a *Allocator) Destroy() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	var leaked int
	for _, alloc := range a.dedicatedAllocations.Drain() {
		leaked++
		a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed dedicated allocation",
			slog.String("address", fmt.Sprintf("%#x", alloc.key())),
			slog.String("layout", alloc.layout.String()))

		a.records.Delete(alloc.key())
		err := a.pageSource.Unmap(alloc.mapping)
		if err != nil {
			return errors.Wrapf(err, "failed to unmap dedicated block %#x", alloc.key())
		}
	}

	err := a.chunks.Destroy()
	if err != nil {
		return err
	}

	if leaked > 0 {
		return errors.Newf("%d dedicated allocations were not freed before the allocator was destroyed", leaked)
	}

	a.records = swiss.NewMap[uintptr, *allocation](42)
	return nil
}
