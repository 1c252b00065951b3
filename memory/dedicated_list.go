package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/elysium/memutils"
)

// dedicatedAllocationList is an intrusive doubly linked list of allocations that own their mapping.
// It is guarded by the allocator's mutex.
type dedicatedAllocationList struct {
	count              int
	allocationListHead *allocation
	allocationListTail *allocation
}

func (l *dedicatedAllocationList) Validate() error {
	actualCount := 0

	var prev *allocation
	for alloc := l.allocationListHead; alloc != nil; alloc = alloc.next {
		if !alloc.isDedicated() {
			return errors.Newf("allocation at %#x is in the dedicated list but has no mapping", alloc.key())
		}
		if alloc.prev != prev {
			return errors.Newf("allocation at %#x has a broken back reference", alloc.key())
		}

		prev = alloc
		actualCount++
	}

	if prev != l.allocationListTail {
		return errors.New("the dedicated allocation list tail does not match the last allocation")
	}

	if l.count != actualCount {
		return errors.Newf("the listed number of dedicated allocations in the list (%d) does not match the actual number of allocations (%d)", l.count, actualCount)
	}

	return nil
}

func (l *dedicatedAllocationList) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	for item := l.allocationListHead; item != nil; item = item.next {
		stats.BlockCount++
		stats.BlockBytes += len(item.mapping)
		stats.AddAllocation(int(item.layout.Size))
	}
}

func (l *dedicatedAllocationList) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount += l.count
	stats.AllocationCount += l.count

	for item := l.allocationListHead; item != nil; item = item.next {
		stats.BlockBytes += len(item.mapping)
		stats.AllocationBytes += int(item.layout.Size)
	}
}

func (l *dedicatedAllocationList) BuildStatsString(s *jwriter.ArrayState) {
	for alloc := l.allocationListHead; alloc != nil; alloc = alloc.next {
		o := s.Object()
		alloc.printParameters(&o)
		o.End()
	}
}

func (l *dedicatedAllocationList) IsEmpty() bool {
	return l.count == 0
}

func (l *dedicatedAllocationList) Register(alloc *allocation) {
	if alloc.prev != nil || alloc.next != nil || alloc == l.allocationListHead {
		panic("attempted to register a dedicated allocation that is already in the list")
	}

	if l.count == 0 {
		l.allocationListHead = alloc
		l.allocationListTail = alloc
		l.count = 1
		return
	}

	alloc.prev = l.allocationListTail
	l.allocationListTail.next = alloc
	l.allocationListTail = alloc
	l.count++
}

func (l *dedicatedAllocationList) Unregister(alloc *allocation) {
	if alloc.prev != nil {
		alloc.prev.next = alloc.next
	} else {
		l.allocationListHead = alloc.next
	}

	if alloc.next != nil {
		alloc.next.prev = alloc.prev
	} else {
		l.allocationListTail = alloc.prev
	}

	alloc.prev = nil
	alloc.next = nil
	l.count--
}

// Drain removes every allocation from the list and returns them
func (l *dedicatedAllocationList) Drain() []*allocation {
	allocs := make([]*allocation, 0, l.count)
	for alloc := l.allocationListHead; alloc != nil; {
		next := alloc.next
		alloc.prev = nil
		alloc.next = nil
		allocs = append(allocs, alloc)
		alloc = next
	}

	*l = dedicatedAllocationList{}
	return allocs
}
