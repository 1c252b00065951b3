package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/elysium/memutils"
	"github.com/vkngwrapper/elysium/memutils/metadata"
	"golang.org/x/exp/slog"
)

const (
	// DefaultChunkSize is the value that is used as the ChunkSize when none is provided via
	// CreateOptions. It is equal to 4Mb.
	DefaultChunkSize int = 4 * 1024 * 1024
)

// CreateOptions contains optional settings when creating an allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// ChunkSize is the size of each mapping requested from the page source for small blocks. It is
	// rounded up to a multiple of the page size.
	ChunkSize int
	// DedicatedThreshold is the block size at or above which a block receives its own mapping instead
	// of being suballocated from a chunk. It defaults to half of ChunkSize and may not exceed ChunkSize.
	DedicatedThreshold int
	// MinChunkCount is the number of chunks that are mapped when the allocator is created and that
	// will never be returned to the page source while the allocator is alive
	MinChunkCount int
	// Strategy selects how free regions are chosen within a chunk. Zero selects a balanced search.
	Strategy metadata.AllocationStrategy
	// PageSource supplies raw memory. It defaults to DefaultPageSource.
	PageSource PageSource
}

// New creates a new Allocator
//
// logger - The logger that receives debug output and leak reports. If nil, slog.Default is used.
//
// options - Optional parameters: it is valid to leave all the fields blank
func New(logger *slog.Logger, options CreateOptions) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pageSource := options.PageSource
	if pageSource == nil {
		pageSource = DefaultPageSource()
	}

	pageSize := pageSource.PageSize()
	err := memutils.CheckPow2(pageSize, "page source page size")
	if err != nil {
		return nil, err
	}

	chunkSize := options.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	} else if chunkSize < 0 {
		return nil, errors.Newf("invalid chunk size: %d", chunkSize)
	}
	chunkSize = memutils.AlignUp(chunkSize, pageSize)

	dedicatedThreshold := options.DedicatedThreshold
	if dedicatedThreshold == 0 {
		dedicatedThreshold = chunkSize / 2
	} else if dedicatedThreshold < 0 || dedicatedThreshold > chunkSize {
		return nil, errors.Newf("dedicated threshold %d must be between 1 and the chunk size %d", dedicatedThreshold, chunkSize)
	}

	if options.MinChunkCount < 0 {
		return nil, errors.Newf("invalid min chunk count: %d", options.MinChunkCount)
	}

	strategy := options.Strategy
	if strategy != 0 &&
		strategy != metadata.AllocationStrategyMinMemory &&
		strategy != metadata.AllocationStrategyMinTime &&
		strategy != metadata.AllocationStrategyMinOffset {
		return nil, errors.Newf("invalid allocation strategy: %s", strategy)
	}

	allocator := &Allocator{
		logger:             logger,
		createFlags:        options.Flags,
		pageSource:         pageSource,
		pageSize:           pageSize,
		chunkSize:          chunkSize,
		dedicatedThreshold: dedicatedThreshold,
		records:            swiss.NewMap[uintptr, *allocation](42),
	}
	allocator.mutex.UseMutex = options.Flags&CreateExternallySynchronized == 0

	allocator.chunks.Init(
		logger,
		pageSource,
		chunkSize,
		options.MinChunkCount,
		strategy,
		options.Flags&CreateReleaseEmptyChunks != 0,
	)

	err = allocator.chunks.CreateMinChunks()
	if err != nil {
		destroyErr := allocator.chunks.Destroy()
		if destroyErr != nil {
			logger.Error("failed to release chunks after a failed allocator creation", slog.Any("error", destroyErr))
		}
		return nil, err
	}

	return allocator, nil
}
