package arc

import (
	"reflect"
	"sync/atomic"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/elysium/layout"
	"github.com/vkngwrapper/elysium/memory"
	"github.com/vkngwrapper/elysium/memutils"
)

// Dropper is implemented by payloads that hold resources of their own, such as handles to other
// blocks. Drop is called on the payload exactly once, after the last handle is released and before
// the block's memory is returned.
type Dropper interface {
	Drop()
}

// Cloner is implemented by payloads that cannot be duplicated with a plain copy, such as payloads
// holding handles to other blocks. It is used whenever a payload is copied into a fresh block.
type Cloner[T any] interface {
	Clone() T
}

// requireStorable sends layout.PointerError to the fatal hook if T holds Go pointers
func requireStorable[T any]() {
	err := layout.CheckPointerFree(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		memutils.Fatal(err)
	}
}

// allocateBlock reserves a block from the global allocator, sets its count to 1, and returns the
// payload address. Failure is fatal.
func allocateBlock(block layout.Block) unsafe.Pointer {
	start, err := memory.Global().Allocate(block.Layout)
	if err != nil {
		memutils.Fatal(cerrors.Wrapf(err, "failed to allocate a block with layout %s", block.Layout))
	}

	(*atomic.Uintptr)(start).Store(1)
	return unsafe.Add(start, block.PayloadOffset)
}

func deallocateBlock(payload unsafe.Pointer, block layout.Block) {
	memory.Global().Deallocate(unsafe.Add(payload, -int(block.PayloadOffset)), block.Layout)
}

func blockStart(payload unsafe.Pointer, block layout.Block) unsafe.Pointer {
	return unsafe.Add(payload, -int(block.PayloadOffset))
}

func drop[T any](value *T) {
	dropper, ok := any(value).(Dropper)
	if ok {
		dropper.Drop()
	}
}

func dropAll[T any](values []T) {
	if _, ok := any((*T)(nil)).(Dropper); !ok {
		return
	}

	for i := range values {
		any(&values[i]).(Dropper).Drop()
	}
}

func clonePayload[T any](value *T) T {
	cloner, ok := any(value).(Cloner[T])
	if ok {
		return cloner.Clone()
	}

	return *value
}
