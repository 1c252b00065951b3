package arc

import (
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/vkngwrapper/elysium/layout"
	"github.com/vkngwrapper/elysium/memutils"
)

// MaxRefcount is the soft ceiling on the number of handles to one block. Cloning a handle whose count
// is already above it sends memutils.RefcountOverflowError to the fatal hook. Concurrent clones may
// carry the count somewhat past the ceiling before one of them notices.
const MaxRefcount = uintptr(math.MaxInt)

// refcount returns the counter word of the block whose payload is at payload
func refcount(payload unsafe.Pointer, payloadAlign uintptr) *atomic.Uintptr {
	return (*atomic.Uintptr)(unsafe.Add(payload, -int(layout.PayloadOffset(payloadAlign))))
}

func increment(counter *atomic.Uintptr) {
	old := counter.Add(1) - 1
	if old > MaxRefcount {
		memutils.Fatalf(memutils.RefcountOverflowError, "refcount %d exceeds the maximum of %d", old, MaxRefcount)
	}
}

// decrement reports whether the caller released the last handle and must destroy the block
func decrement(counter *atomic.Uintptr) bool {
	if counter.Add(^uintptr(0)) != 0 {
		return false
	}

	// Orders every earlier access to the payload, on any goroutine, before the destructor
	_ = counter.Load()
	return true
}

func isUnique(counter *atomic.Uintptr) bool {
	return counter.Load() == 1
}

func count(counter *atomic.Uintptr) int {
	return int(counter.Load())
}
