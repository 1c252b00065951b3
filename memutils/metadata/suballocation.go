package metadata

import "math"

// BlockAllocationHandle identifies a region (allocated or free) inside a single BlockMetadata. Handles
// are not meaningful across metadata instances.
type BlockAllocationHandle uint64

const (
	NoAllocation BlockAllocationHandle = math.MaxUint64
)
