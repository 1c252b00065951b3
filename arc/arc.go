package arc

import (
	"cmp"
	"fmt"
	"hash/maphash"
	"sync/atomic"
	"unsafe"

	"github.com/vkngwrapper/elysium/layout"
	"golang.org/x/exp/constraints"
)

// Arc is a shared handle to a reference-counted block holding a T. It is exactly one word: the
// address of the payload. The count lives in the word immediately before the payload, at
// layout.PayloadOffset bytes below it.
//
// An Arc is a value type, so the compiler cannot stop it from being copied. Copying an Arc does not
// create a new reference: use Clone for that, and call Release exactly once for every Arc obtained
// from New, Clone, or FromRaw. Methods documented as consuming the handle leave it unusable.
//
// T must not hold Go pointers, other than handles that implement layout.OffHeap, because blocks are
// not scanned by the garbage collector. The zero Arc is not a valid handle.
type Arc[T any] struct {
	p unsafe.Pointer
}

// New moves value into a new block with a count of 1
func New[T any](value T) Arc[T] {
	requireStorable[T]()

	p := allocateBlock(layout.ForType[T]())
	*(*T)(p) = value
	return Arc[T]{p: p}
}

// Default creates a block holding the zero value of T
func Default[T any]() Arc[T] {
	var zero T
	return New(zero)
}

// FromRaw rebuilds a handle from an address returned by IntoRaw. The handle takes over the reference
// that IntoRaw gave up.
func FromRaw[T any](p unsafe.Pointer) Arc[T] {
	return Arc[T]{p: p}
}

func (a Arc[T]) counter() *atomic.Uintptr {
	return refcount(a.p, layout.Of[T]().Align)
}

// Clone returns a new handle to the same block, incrementing the count
func (a Arc[T]) Clone() Arc[T] {
	increment(a.counter())
	return a
}

// Release gives up this handle's reference. If it was the last one, the payload is dropped and the
// block is returned to the allocator. Consumes the handle.
func (a Arc[T]) Release() {
	if !decrement(a.counter()) {
		return
	}

	drop((*T)(a.p))
	deallocateBlock(a.p, layout.ForType[T]())
}

// Count returns the number of live handles to the block. It is only a snapshot when other goroutines
// hold handles to the same block.
func (a Arc[T]) Count() int {
	return count(a.counter())
}

// IsUnique reports whether this is the only handle to the block
func (a Arc[T]) IsUnique() bool {
	return isUnique(a.counter())
}

// Get returns the payload address. Writing through it while other handles exist is a data race that
// is the caller's responsibility.
func (a Arc[T]) Get() *T {
	return (*T)(a.p)
}

// Load copies the payload out
func (a Arc[T]) Load() T {
	return *(*T)(a.p)
}

// IntoRaw returns the payload address without releasing the reference. Consumes the handle; pass the
// address to FromRaw to recover it.
func (a Arc[T]) IntoRaw() unsafe.Pointer {
	return a.p
}

// HeapPtr returns the address of the start of the block, where the count is stored
func (a Arc[T]) HeapPtr() unsafe.Pointer {
	return blockStart(a.p, layout.ForType[T]())
}

// Borrow returns a view of the block that does not hold a reference. The view must not outlive
// every handle to the block.
func (a Arc[T]) Borrow() Borrow[T] {
	return Borrow[T]{p: a.p}
}

// PtrEq reports whether both handles refer to the same block
func (a Arc[T]) PtrEq(other Arc[T]) bool {
	return a.p == other.p
}

// Pointer returns the payload address, for printing with %p or comparing identities
func (a Arc[T]) Pointer() unsafe.Pointer {
	return a.p
}

// Format delegates to the payload. fmt handles %p before consulting a Formatter, so print Pointer for
// the address instead.
func (a Arc[T]) Format(f fmt.State, verb rune) {
	fmt.Fprintf(f, fmt.FormatString(f, verb), *(*T)(a.p))
}

func (a Arc[T]) OffHeap() {}

// Erase returns the payload address for storage in a tagged union. The reference moves with it.
func (a Arc[T]) Erase() unsafe.Pointer {
	return a.p
}

// Unerase rebuilds a handle from an address returned by Erase
func (Arc[T]) Unerase(p unsafe.Pointer) Arc[T] {
	return Arc[T]{p: p}
}

// Alignment is the guaranteed alignment of the payload address
func (Arc[T]) Alignment() uintptr {
	return max(layout.RefcountAlign, layout.Of[T]().Align)
}

// GetMut returns the payload for writing if a is the only handle to its block
func GetMut[T any](a *Arc[T]) (*T, bool) {
	if !a.IsUnique() {
		return nil, false
	}

	return a.Get(), true
}

// MakeMut returns the payload for writing. If other handles share the block, the payload is first
// copied into a new block, a is pointed at the copy, and a's reference to the old block is released.
func MakeMut[T any](a *Arc[T]) *T {
	if a.IsUnique() {
		return a.Get()
	}

	fresh := New(clonePayload(a.Get()))
	old := *a
	*a = fresh
	old.Release()

	return fresh.Get()
}

// Equal reports whether a and b refer to the same block or hold equal payloads
func Equal[T comparable](a, b Arc[T]) bool {
	return a.p == b.p || *a.Get() == *b.Get()
}

// Compare orders a and b by payload
func Compare[T constraints.Ordered](a, b Arc[T]) int {
	return cmp.Compare(*a.Get(), *b.Get())
}

// Hash hashes the payload, so equal payloads in different blocks hash the same
func Hash[T comparable](seed maphash.Seed, a Arc[T]) uint64 {
	return maphash.Comparable(seed, *a.Get())
}
