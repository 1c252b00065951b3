package metadata

// AllocationStrategy chooses how CreateAllocationRequest searches for a free region. Zero selects a
// balanced search.
type AllocationStrategy uint32

const (
	// AllocationStrategyMinMemory prefers the smallest region that fits, keeping fragmentation low at
	// the cost of a longer search
	AllocationStrategyMinMemory AllocationStrategy = 1 << iota
	// AllocationStrategyMinTime takes the first region that is quick to find
	AllocationStrategyMinTime
	// AllocationStrategyMinOffset prefers the lowest offset in the block, packing allocations toward
	// the front
	AllocationStrategyMinOffset
)

var allocationStrategyMapping = map[AllocationStrategy]string{
	0:                           "Balanced",
	AllocationStrategyMinMemory: "MinMemory",
	AllocationStrategyMinTime:   "MinTime",
	AllocationStrategyMinOffset: "MinOffset",
}

func (s AllocationStrategy) String() string {
	str, ok := allocationStrategyMapping[s]
	if !ok {
		return "Unknown"
	}
	return str
}
