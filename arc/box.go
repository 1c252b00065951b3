package arc

import (
	"unsafe"

	"github.com/vkngwrapper/elysium/layout"
)

// Box is the only handle to its block, so its payload may be written freely. It has the same
// representation as Arc and never changes the count: it can only be obtained from a fresh block or
// from an Arc that was proven unique, and it has no way to produce a second handle.
type Box[T any] struct {
	p unsafe.Pointer
}

// NewBox moves value into a new block owned by the returned Box
func NewBox[T any](value T) Box[T] {
	return Box[T]{p: New(value).p}
}

// DefaultBox creates a block holding the zero value of T
func DefaultBox[T any]() Box[T] {
	var zero T
	return NewBox(zero)
}

// TryUnique converts a to a Box if it is the only handle to its block. On success a is consumed. On
// failure a is untouched and still owns its reference. The count is never changed.
func TryUnique[T any](a Arc[T]) (Box[T], bool) {
	if !a.IsUnique() {
		return Box[T]{}, false
	}

	return Box[T]{p: a.p}, true
}

// Unique converts a to a Box, copying the payload into a new block if a is shared. Consumes a.
func Unique[T any](a Arc[T]) Box[T] {
	box, ok := TryUnique(a)
	if ok {
		return box
	}

	box = NewBox(clonePayload(a.Get()))
	a.Release()
	return box
}

// Shareable converts the Box back to a shared handle without changing the count. Consumes the Box.
func (b Box[T]) Shareable() Arc[T] {
	return Arc[T]{p: b.p}
}

// Get returns the payload for reading or writing
func (b Box[T]) Get() *T {
	return (*T)(b.p)
}

// Copy creates a new, independent block holding a copy of the payload
func (b Box[T]) Copy() Box[T] {
	return NewBox(clonePayload(b.Get()))
}

// Release drops the payload and returns the block to the allocator. Consumes the Box.
func (b Box[T]) Release() {
	Arc[T]{p: b.p}.Release()
}

// HeapPtr returns the address of the start of the block
func (b Box[T]) HeapPtr() unsafe.Pointer {
	return blockStart(b.p, layout.ForType[T]())
}

func (b Box[T]) OffHeap() {}

func (b Box[T]) Erase() unsafe.Pointer {
	return b.p
}

func (Box[T]) Unerase(p unsafe.Pointer) Box[T] {
	return Box[T]{p: p}
}

func (Box[T]) Alignment() uintptr {
	return Arc[T]{}.Alignment()
}
