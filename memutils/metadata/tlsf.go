package metadata

import (
	"fmt"
	"math/bits"
	"sync"
	"unsafe"

	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/elysium/memutils"
)

const (
	// Regions up to smallLimit bytes are binned linearly in smallStep increments. Larger regions are
	// binned by their highest bit, with each power of two split into binsPerClass bins.
	smallLimit      = 256
	smallStep       = 32
	smallBins       = smallLimit / smallStep
	subdivisionBits = 4
	binsPerClass    = 1 << subdivisionBits
	firstClassBit   = 8

	binCount    = smallBins + (64-firstClassBit)*binsPerClass
	bitmapWords = (binCount + 63) / 64
)

var regionPool = sync.Pool{
	New: func() any {
		return &region{}
	},
}

// region is a contiguous run of the managed range, either free or holding one allocation. Regions
// are linked in offset order, and free regions are also linked into the bin for their size.
type region struct {
	offset int
	size   int
	prev   *region
	next   *region

	free     bool
	prevFree *region
	nextFree *region

	handle   BlockAllocationHandle
	used     int
	userData any
}

func (r *region) end() int {
	return r.offset + r.size
}

func binOf(size int) int {
	if size <= smallLimit {
		return (size - 1) / smallStep
	}

	high := bits.Len64(uint64(size)) - 1
	sub := (size >> (high - subdivisionBits)) & (binsPerClass - 1)
	return smallBins + (high-firstClassBit)*binsPerClass + sub
}

// binFloor is a lower bound on the size of every region in the bin
func binFloor(bin int) int {
	if bin < smallBins {
		return bin*smallStep + 1
	}

	bin -= smallBins
	high := bin/binsPerClass + firstClassBit
	sub := bin % binsPerClass
	return 1<<high + sub<<(high-subdivisionBits)
}

// guaranteedBin is the first bin in which every region is at least size bytes
func guaranteedBin(size int) int {
	bin := binOf(size)
	if binFloor(bin) < size {
		bin++
	}
	return bin
}

// TLSF is a two-level segregated fit allocator over a range of offsets. Free regions are kept in
// per-size bins with a bitmap of non-empty bins, so finding a region large enough is a handful of
// bit scans. Adjacent free regions are always merged.
type TLSF struct {
	BlockMetadataBase

	head     *region
	bins     [binCount]*region
	nonEmpty [bitmapWords]uint64
	regions  *swiss.Map[BlockAllocationHandle, *region]

	nextHandle BlockAllocationHandle
	allocCount int
	freeCount  int
	freeBytes  int
}

var _ BlockMetadata = &TLSF{}

func NewTLSF() *TLSF {
	return &TLSF{}
}

func (m *TLSF) Init(size int) {
	if size < 1 {
		panic(fmt.Sprintf("invalid block size: %d", size))
	}

	m.BlockMetadataBase.Init(size)
	m.regions = swiss.NewMap[BlockAllocationHandle, *region](64)
	m.head = m.newRegion(0, size)
	m.pushFree(m.head)
}

func (m *TLSF) newRegion(offset, size int) *region {
	m.nextHandle++

	r := regionPool.Get().(*region)
	*r = region{
		offset: offset,
		size:   size,
		handle: m.nextHandle,
	}
	m.regions.Put(r.handle, r)
	return r
}

// unlinkRegion removes r from the offset-ordered list and recycles it
func (m *TLSF) unlinkRegion(r *region) {
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		m.head = r.next
	}
	if r.next != nil {
		r.next.prev = r.prev
	}

	m.regions.Delete(r.handle)
	*r = region{}
	regionPool.Put(r)
}

func (m *TLSF) insertAfter(r, n *region) {
	n.prev = r
	n.next = r.next
	if r.next != nil {
		r.next.prev = n
	}
	r.next = n
}

func (m *TLSF) insertBefore(r, n *region) {
	n.next = r
	n.prev = r.prev
	if r.prev != nil {
		r.prev.next = n
	} else {
		m.head = n
	}
	r.prev = n
}

func (m *TLSF) pushFree(r *region) {
	if r.free {
		panic(fmt.Sprintf("region at offset %d is already free", r.offset))
	}

	bin := binOf(r.size)
	r.free = true
	r.prevFree = nil
	r.nextFree = m.bins[bin]
	if r.nextFree != nil {
		r.nextFree.prevFree = r
	}
	m.bins[bin] = r
	m.nonEmpty[bin/64] |= 1 << (bin % 64)

	m.freeCount++
	m.freeBytes += r.size
}

func (m *TLSF) unlinkFree(r *region) {
	if !r.free {
		panic(fmt.Sprintf("region at offset %d is not free", r.offset))
	}

	bin := binOf(r.size)
	if r.prevFree != nil {
		r.prevFree.nextFree = r.nextFree
	} else {
		if m.bins[bin] != r {
			panic(fmt.Sprintf("free region at offset %d is missing from bin %d", r.offset, bin))
		}
		m.bins[bin] = r.nextFree
		if r.nextFree == nil {
			m.nonEmpty[bin/64] &^= 1 << (bin % 64)
		}
	}
	if r.nextFree != nil {
		r.nextFree.prevFree = r.prevFree
	}

	r.free = false
	r.prevFree = nil
	r.nextFree = nil

	m.freeCount--
	m.freeBytes -= r.size
}

// coalesce merges r, which must not be free, with any free neighbours and files the result as free
func (m *TLSF) coalesce(r *region) {
	if prev := r.prev; prev != nil && prev.free {
		m.unlinkFree(prev)
		prev.size += r.size
		m.unlinkRegion(r)
		r = prev
	}

	if next := r.next; next != nil && next.free {
		m.unlinkFree(next)
		r.size += next.size
		m.unlinkRegion(next)
	}

	m.pushFree(r)
}

// firstNonEmpty returns the lowest non-empty bin at or after from, or -1
func (m *TLSF) firstNonEmpty(from int) int {
	if from >= binCount {
		return -1
	}

	for word := from / 64; word < bitmapWords; word++ {
		mask := m.nonEmpty[word]
		if word == from/64 {
			mask &= ^uint64(0) << (from % 64)
		}
		if mask != 0 {
			return word*64 + bits.TrailingZeros64(mask)
		}
	}

	return -1
}

func (m *TLSF) Validate() error {
	if m.freeBytes > m.size {
		return errors.Errorf("free size %d is larger than the block size %d", m.freeBytes, m.size)
	}
	if m.head == nil || m.head.prev != nil {
		return errors.New("the first region is missing or has a predecessor")
	}

	var total, free, freeBytes, allocs, regions int
	for r := m.head; r != nil; r = r.next {
		regions++
		if r.offset != total {
			return errors.Errorf("region at offset %d should start at offset %d", r.offset, total)
		}
		if r.size < 1 {
			return errors.Errorf("region at offset %d has size %d", r.offset, r.size)
		}
		if r.next != nil && r.next.prev != r {
			return errors.Errorf("region at offset %d is not linked back from its successor", r.offset)
		}

		total += r.size
		if r.free {
			if r.next != nil && r.next.free {
				return errors.Errorf("free regions at offsets %d and %d were not merged", r.offset, r.next.offset)
			}
			free++
			freeBytes += r.size
		} else {
			if r.used+memutils.DebugMargin > r.size {
				return errors.Errorf("allocation at offset %d uses %d bytes of a %d byte region", r.offset, r.used, r.size)
			}
			allocs++
		}
	}

	if total != m.size {
		return errors.Errorf("the block size is %d but its regions add up to %d", m.size, total)
	}
	if free != m.freeCount || freeBytes != m.freeBytes {
		return errors.Errorf("counted %d free regions of %d bytes, but %d regions of %d bytes are recorded", free, freeBytes, m.freeCount, m.freeBytes)
	}
	if allocs != m.allocCount {
		return errors.Errorf("counted %d allocations, but %d are recorded", allocs, m.allocCount)
	}
	if regions != m.regions.Count() {
		return errors.Errorf("counted %d regions, but %d handles are live", regions, m.regions.Count())
	}

	binned := 0
	for bin, r := range m.bins {
		hasBit := m.nonEmpty[bin/64]&(1<<(bin%64)) != 0
		if hasBit != (r != nil) {
			return errors.Errorf("bin %d does not match its bitmap bit", bin)
		}

		for ; r != nil; r = r.nextFree {
			binned++
			if !r.free {
				return errors.Errorf("region at offset %d is in bin %d but is not free", r.offset, bin)
			}
			if binOf(r.size) != bin {
				return errors.Errorf("region at offset %d with size %d is in bin %d", r.offset, r.size, bin)
			}
			if r.nextFree != nil && r.nextFree.prevFree != r {
				return errors.Errorf("free region at offset %d is not linked back from its successor", r.offset)
			}
		}
	}

	if binned != m.freeCount {
		return errors.Errorf("%d regions are binned but %d are free", binned, m.freeCount)
	}

	return nil
}

func (m *TLSF) AllocationCount() int  { return m.allocCount }
func (m *TLSF) FreeRegionsCount() int { return m.freeCount }
func (m *TLSF) SumFreeSize() int      { return m.freeBytes }
func (m *TLSF) IsEmpty() bool         { return m.allocCount == 0 }

func (m *TLSF) MayHaveFreeBlock(size int) bool {
	return m.firstNonEmpty(binOf(size+memutils.DebugMargin)) >= 0
}

func (m *TLSF) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.BlockCount++
	stats.BlockBytes += m.size

	for r := m.head; r != nil; r = r.next {
		if r.free {
			stats.AddUnusedRange(r.size)
		} else {
			stats.AddAllocation(r.size)
		}
	}
}

func (m *TLSF) AddStatistics(stats *memutils.Statistics) {
	stats.BlockCount++
	stats.AllocationCount += m.allocCount
	stats.BlockBytes += m.size
	stats.AllocationBytes += m.size - m.freeBytes
}

func (m *TLSF) BlockJsonData(json *jwriter.ObjectState) {
	m.writeJsonData(json, m.freeBytes, m.allocCount, m.freeCount)
}

func (m *TLSF) CheckCorruption(blockData unsafe.Pointer) error {
	for r := m.head; r != nil; r = r.next {
		if !r.free && !memutils.ValidateMagicValue(blockData, r.offset+r.used) {
			return errors.Errorf("memory corruption detected after allocation at offset %d", r.offset)
		}
	}

	return nil
}

func (m *TLSF) VisitAllRegions(handleBlock func(handle BlockAllocationHandle, offset int, size int, userData any, free bool) error) error {
	for r := m.head; r != nil; r = r.next {
		err := handleBlock(r.handle, r.offset, r.size, r.userData, r.free)
		if err != nil {
			return err
		}
	}

	return nil
}

// placement reports where an allocation would sit inside r, if it fits
func placement(r *region, size, alignment int) (int, bool) {
	offset := memutils.AlignUp(r.offset, alignment)
	return offset, offset+size <= r.end()
}

func (m *TLSF) CreateAllocationRequest(allocSize int, allocAlignment int, strategy AllocationStrategy) (bool, AllocationRequest, error) {
	if allocSize < 1 {
		return false, AllocationRequest{}, errors.Errorf("invalid allocSize: %d", allocSize)
	}
	if err := memutils.CheckPow2(allocAlignment, "allocAlignment"); err != nil {
		return false, AllocationRequest{}, err
	}

	memutils.DebugValidate(m)

	need := allocSize + memutils.DebugMargin
	if need > m.freeBytes {
		return false, AllocationRequest{}, nil
	}

	var found *region
	var offset int
	try := func(r *region) bool {
		var ok bool
		offset, ok = placement(r, need, allocAlignment)
		if ok {
			found = r
		}
		return ok
	}
	searchBin := func(bin int) bool {
		for r := m.bins[bin]; r != nil; r = r.nextFree {
			if try(r) {
				return true
			}
		}
		return false
	}
	searchFrom := func(bin int) bool {
		for bin = m.firstNonEmpty(bin); bin >= 0; bin = m.firstNonEmpty(bin + 1) {
			if searchBin(bin) {
				return true
			}
		}
		return false
	}

	switch {
	case strategy&AllocationStrategyMinOffset != 0:
		for r := m.head; r != nil; r = r.next {
			if r.free && try(r) {
				break
			}
		}

	case strategy&AllocationStrategyMinMemory != 0:
		searchFrom(binOf(need))

	case strategy&AllocationStrategyMinTime != 0:
		bin := m.firstNonEmpty(guaranteedBin(need))
		if bin < 0 || !try(m.bins[bin]) {
			searchFrom(binOf(need))
		}

	default:
		// The head of the first guaranteed bin fits unless alignment gets in the way. Failing that,
		// the size's own bin may still hold something large enough.
		guaranteed := guaranteedBin(need)
		bin := m.firstNonEmpty(guaranteed)
		if bin < 0 || !try(m.bins[bin]) {
			if !searchBin(binOf(need)) {
				searchFrom(guaranteed)
			}
		}
	}

	if found == nil {
		return false, AllocationRequest{}, nil
	}

	return true, AllocationRequest{
		BlockAllocationHandle: found.handle,
		Offset:                offset,
		Size:                  allocSize,
	}, nil
}

func (m *TLSF) lookup(handle BlockAllocationHandle) (*region, error) {
	r, ok := m.regions.Get(handle)
	if !ok {
		return nil, errors.Errorf("handle %d is not a region of this metadata", handle)
	}
	return r, nil
}

func (m *TLSF) Alloc(request AllocationRequest, userData any) error {
	r, err := m.lookup(request.BlockAllocationHandle)
	if err != nil {
		return err
	}
	if !r.free {
		return errors.New("allocation request refers to a region that is no longer free")
	}

	need := request.Size + memutils.DebugMargin
	if request.Offset < r.offset || request.Offset+need > r.end() {
		return errors.Errorf("allocation request for %d bytes at offset %d does not fit its region", request.Size, request.Offset)
	}

	m.unlinkFree(r)

	if padding := request.Offset - r.offset; padding > 0 {
		front := m.newRegion(r.offset, padding)
		m.insertBefore(r, front)
		r.offset += padding
		r.size -= padding
		m.coalesce(front)
	}

	if r.size > need {
		tail := m.newRegion(r.offset+need, r.size-need)
		m.insertAfter(r, tail)
		r.size = need
		m.coalesce(tail)
	}

	r.used = request.Size
	r.userData = userData
	m.allocCount++

	return nil
}

func (m *TLSF) Free(allocHandle BlockAllocationHandle) error {
	r, err := m.lookup(allocHandle)
	if err != nil {
		return err
	}
	if r.free {
		return errors.New("region is already free")
	}

	r.used = 0
	r.userData = nil
	m.allocCount--
	m.coalesce(r)

	return nil
}
