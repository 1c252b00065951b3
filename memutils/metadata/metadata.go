package metadata

import (
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/elysium/memutils"
)

// BlockMetadata tracks suballocations inside one contiguous range of memory. It never touches the
// memory itself, apart from CheckCorruption, so the same implementation can manage mmap'd chunks or
// plain offsets.
type BlockMetadata interface {
	// Init must be called once before any other method, with the size in bytes of the managed range
	Init(size int)
	// Size retrieves the size in bytes that the block was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. It can be expensive. When the
	// implementation is working correctly it never returns an error.
	Validate() error
	// AllocationCount returns the number of live suballocations
	AllocationCount() int
	// FreeRegionsCount returns the number of distinct free regions
	FreeRegionsCount() int
	// SumFreeSize returns the number of free bytes in the block
	SumFreeSize() int
	// MayHaveFreeBlock is a fast heuristic that returns false only when an allocation of the provided
	// size definitely cannot fit. False positives are allowed.
	MayHaveFreeBlock(size int) bool
	// IsEmpty returns true when the block has no live suballocations
	IsEmpty() bool

	// VisitAllRegions calls handleBlock once for every allocated and free region, in offset order.
	// This is intended for diagnostics.
	VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error

	// AddDetailedStatistics sums this block's statistics into stats
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this block's statistics into stats
	AddStatistics(stats *memutils.Statistics)

	// BlockJsonData populates an open json object with information about this block
	BlockJsonData(json *jwriter.ObjectState)

	// CheckCorruption verifies the guard bytes after every live allocation in the memory at blockData.
	// Guard bytes only exist when built with the debug_mem_utils tag, and the consumer must write them
	// with memutils.WriteMagicValue after each allocation.
	CheckCorruption(blockData unsafe.Pointer) error

	// CreateAllocationRequest finds a place for an allocation of allocSize bytes aligned to allocAlignment,
	// a power of two. It returns false with no error when the block has no room.
	CreateAllocationRequest(allocSize int, allocAlignment int, strategy AllocationStrategy) (bool, AllocationRequest, error)
	// Alloc commits a request returned by CreateAllocationRequest. It returns an error if the request
	// is stale.
	Alloc(request AllocationRequest, userData any) error
	// Free returns a live allocation to the free regions
	Free(allocHandle BlockAllocationHandle) error
}

// BlockMetadataBase holds the state that every BlockMetadata implementation shares
type BlockMetadataBase struct {
	size int
}

// Init prepares this structure for allocations and sizes the block in bytes based on the parameter size.
func (m *BlockMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the size of the block in bytes
func (m *BlockMetadataBase) Size() int { return m.size }

func (m *BlockMetadataBase) writeJsonData(json *jwriter.ObjectState, unusedBytes, allocationCount, unusedRangeCount int) {
	json.Name("TotalBytes").Int(m.Size())
	json.Name("UnusedBytes").Int(unusedBytes)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
