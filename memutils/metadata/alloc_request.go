package metadata

// AllocationRequest is returned from BlockMetadata.CreateAllocationRequest and describes where the
// metadata intends to place a new allocation. The consumer can prepare the memory at that location
// and then commit the request with BlockMetadata.Alloc. The request is invalidated by any other Alloc,
// Free, or Clear call on the same metadata.
type AllocationRequest struct {
	// BlockAllocationHandle is the free region the allocation will be carved out of
	BlockAllocationHandle BlockAllocationHandle
	// Offset is the aligned offset in bytes from the start of the block
	Offset int
	// Size is the size in bytes of the allocation as requested, not including any debug margin
	Size int
}
