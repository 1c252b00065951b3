package memory

import (
	"context"
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/vkngwrapper/elysium/memutils"
	"github.com/vkngwrapper/elysium/memutils/metadata"
	"golang.org/x/exp/slog"
)

// chunk is one mapping from the page source, suballocated with a TLSF metadata
type chunk struct {
	id     int
	data   []byte
	logger *slog.Logger

	metadata metadata.BlockMetadata
}

func (c *chunk) Init(logger *slog.Logger, data []byte, id int) {
	if c.data != nil {
		panic("attempting to initialize a chunk that is already in use")
	}

	c.id = id
	c.data = data
	c.logger = logger
	c.metadata = metadata.NewTLSF()
	c.metadata.Init(len(data))
}

func (c *chunk) Base() unsafe.Pointer {
	return unsafe.Pointer(unsafe.SliceData(c.data))
}

// Contains reports whether ptr falls inside this chunk's mapping
func (c *chunk) Contains(ptr unsafe.Pointer) bool {
	start := uintptr(c.Base())
	return uintptr(ptr) >= start && uintptr(ptr) < start+uintptr(len(c.data))
}

func (c *chunk) Destroy(pageSource PageSource) error {
	if !c.metadata.IsEmpty() {
		err := c.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset int, size int, userData any, free bool) error {
			if free {
				return nil
			}

			c.logUnreleasedMemory(offset, size, userData)
			return nil
		})
		if err != nil {
			c.logger.LogAttrs(context.Background(),
				slog.LevelError,
				"[UNRELEASED MEMORY] error while iterating unreleased memory",
				slog.Any("error", err))
		}

		return errors.Errorf("%d allocations were not freed before the destruction of chunk %d", c.metadata.AllocationCount(), c.id)
	}

	if c.data == nil {
		panic("attempting to destroy a chunk that has no backing mapping")
	}

	err := pageSource.Unmap(c.data)
	if err != nil {
		return errors.Wrapf(err, "failed to unmap chunk %d", c.id)
	}

	c.data = nil
	c.metadata = nil
	return nil
}

func (c *chunk) logUnreleasedMemory(offset, size int, userData any) {
	attrs := []slog.Attr{
		slog.Int("chunk.id", c.id),
		slog.Int("offset", offset),
		slog.Int("size", size),
	}

	alloc, ok := userData.(*allocation)
	if ok && alloc != nil {
		attrs = append(attrs,
			slog.String("address", fmt.Sprintf("%#x", alloc.key())),
			slog.Int("align", int(alloc.layout.Align)),
		)
	}

	c.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed allocation", attrs...)
}

func (c *chunk) Validate() error {
	if c.data == nil {
		return errors.Errorf("chunk %d has no backing mapping", c.id)
	}
	if c.metadata.Size() != len(c.data) {
		return errors.Errorf("chunk %d metadata size %d does not match its mapping size %d", c.id, c.metadata.Size(), len(c.data))
	}

	err := c.metadata.VisitAllRegions(func(handle metadata.BlockAllocationHandle, offset, size int, userData any, free bool) error {
		alloc, isAllocation := userData.(*allocation)
		if free && isAllocation {
			return errors.Errorf("a region at offset %d is marked as free but contains an allocation object", offset)
		} else if !free && (!isAllocation || alloc == nil) {
			return errors.Errorf("a region at offset %d is marked as allocated but has no allocation object", offset)
		} else if !free && (alloc.chunk != c || alloc.offset != offset) {
			return errors.Errorf("the allocation at offset %d does not point back at its region", offset)
		}

		return nil
	})
	if err != nil {
		return err
	}

	return c.metadata.Validate()
}

func (c *chunk) CheckCorruption() error {
	return c.metadata.CheckCorruption(c.Base())
}

func (c *chunk) WriteMagicBlockAfterAllocation(allocOffset int, allocSize int) {
	if memutils.DebugMargin == 0 {
		panic("attempting to write a debug margin block outside debug mode")
	} else if memutils.DebugMargin%4 != 0 {
		panic(fmt.Sprintf("invalid debug margin: debug margin %d must be a multiple of 4", memutils.DebugMargin))
	}

	memutils.WriteMagicValue(c.Base(), allocOffset+allocSize)
}

func (c *chunk) ValidateMagicValueAfterAllocation(allocOffset int, allocSize int) {
	if memutils.DebugMargin == 0 {
		panic("attempting to validate a debug margin block outside debug mode")
	} else if memutils.DebugMargin%4 != 0 {
		panic(fmt.Sprintf("invalid debug margin: debug margin %d must be a multiple of 4", memutils.DebugMargin))
	}

	if !memutils.ValidateMagicValue(c.Base(), allocOffset+allocSize) {
		panic("MEMORY CORRUPTION DETECTED AFTER FREED ALLOCATION")
	}
}
