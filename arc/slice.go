package arc

import (
	"fmt"
	"hash/maphash"
	"iter"
	"slices"
	"sync/atomic"
	"unsafe"

	"github.com/vkngwrapper/elysium/layout"
	"github.com/vkngwrapper/elysium/memutils"
)

// HeaderWithLength is the start of every header-slice payload. Length is the number of elements that
// follow it, which lets a Thin handle recover the slice bound from the block itself.
type HeaderWithLength[H any] struct {
	Header H
	Length uintptr
}

// Slice is a shared handle to a block holding a header followed by a run of elements. It carries the
// element count beside the pointer, so it is two words. See Thin for the one-word form.
//
// Slice follows the same ownership rules as Arc.
type Slice[H, E any] struct {
	p   unsafe.Pointer
	len uintptr
}

// Thin is a one-word shared handle to a header-slice block. The element count is read from the
// header when it is needed.
type Thin[H, E any] struct {
	p unsafe.Pointer
}

func headerSliceLayout[H, E any](length uintptr) layout.HeaderSlice {
	return layout.ForHeaderSlice(layout.Of[HeaderWithLength[H]](), layout.Of[E](), length)
}

func headerSliceAlign[H, E any]() uintptr {
	return max(layout.Of[HeaderWithLength[H]]().Align, layout.Of[E]().Align)
}

// allocateHeaderSlice reserves a block for length elements and writes the header. The elements are
// left for the caller to fill.
func allocateHeaderSlice[H, E any](header H, length int) (unsafe.Pointer, []E) {
	requireStorable[H]()
	requireStorable[E]()

	if length < 0 {
		panic(fmt.Sprintf("invalid slice length: %d", length))
	}

	hs := headerSliceLayout[H, E](uintptr(length))
	p := allocateBlock(hs.Block)
	*(*HeaderWithLength[H])(p) = HeaderWithLength[H]{Header: header, Length: uintptr(length)}

	return p, unsafe.Slice((*E)(unsafe.Add(p, hs.ElemOffset)), length)
}

// abandonHeaderSlice drops the header and the first written elements, then frees the block
func abandonHeaderSlice[H, E any](p unsafe.Pointer, items []E, written int) {
	drop(&(*HeaderWithLength[H])(p).Header)
	dropAll(items[:written])
	deallocateBlock(p, headerSliceLayout[H, E](uintptr(len(items))).Block)
}

// FromHeaderAndSlice copies items into a new block after header. Ownership of the header and of
// every element moves into the block.
func FromHeaderAndSlice[H, E any](header H, items []E) Slice[H, E] {
	p, dest := allocateHeaderSlice[H, E](header, len(items))
	copy(dest, items)

	return Slice[H, E]{p: p, len: uintptr(len(items))}
}

// FromHeaderAndIter builds a new block from header and exactly length elements produced by seq. A
// producer that yields a different number of elements is a fatal error. If seq panics, the elements
// written so far are dropped and the block is freed before the panic continues.
func FromHeaderAndIter[H, E any](header H, length int, seq iter.Seq[E]) Slice[H, E] {
	p, dest := allocateHeaderSlice[H, E](header, length)

	written := 0
	completed := false
	defer func() {
		if !completed {
			abandonHeaderSlice[H](p, dest, written)
		}
	}()

	for item := range seq {
		if written == length {
			memutils.Fatalf(memutils.LengthMismatchError, "iterator produced more than the %d items it reported", length)
		}

		dest[written] = item
		written++
	}

	if written != length {
		memutils.Fatalf(memutils.LengthMismatchError, "iterator produced %d items but reported %d", written, length)
	}

	completed = true
	return Slice[H, E]{p: p, len: uintptr(length)}
}

// TryFromHeaderAndFunc builds a new block from header and the length elements returned by f, called
// with each index in order. If f fails, the header and the elements written so far are dropped, the
// block is freed, and the error is returned.
func TryFromHeaderAndFunc[H, E any](header H, length int, f func(index int) (E, error)) (Slice[H, E], error) {
	p, dest := allocateHeaderSlice[H, E](header, length)

	written := 0
	completed := false
	defer func() {
		if !completed {
			abandonHeaderSlice[H](p, dest, written)
		}
	}()

	for index := range dest {
		item, err := f(index)
		if err != nil {
			return Slice[H, E]{}, err
		}

		dest[index] = item
		written++
	}

	completed = true
	return Slice[H, E]{p: p, len: uintptr(length)}, nil
}

func (s Slice[H, E]) counter() *atomic.Uintptr {
	return refcount(s.p, headerSliceAlign[H, E]())
}

// Header returns the header and stored length. Writing to them while other handles exist is a data
// race that is the caller's responsibility.
func (s Slice[H, E]) Header() *HeaderWithLength[H] {
	return (*HeaderWithLength[H])(s.p)
}

// Items returns the elements in place
func (s Slice[H, E]) Items() []E {
	hs := headerSliceLayout[H, E](s.len)
	return unsafe.Slice((*E)(unsafe.Add(s.p, hs.ElemOffset)), s.len)
}

func (s Slice[H, E]) Len() int {
	return int(s.len)
}

func (s Slice[H, E]) Clone() Slice[H, E] {
	increment(s.counter())
	return s
}

// Release gives up this handle's reference. If it was the last one, the header and then each element
// in order are dropped and the block is freed. Consumes the handle.
func (s Slice[H, E]) Release() {
	if !decrement(s.counter()) {
		return
	}

	drop(&s.Header().Header)
	dropAll(s.Items())
	deallocateBlock(s.p, headerSliceLayout[H, E](s.len).Block)
}

func (s Slice[H, E]) Count() int {
	return count(s.counter())
}

func (s Slice[H, E]) IsUnique() bool {
	return isUnique(s.counter())
}

func (s Slice[H, E]) PtrEq(other Slice[H, E]) bool {
	return s.p == other.p
}

func (s Slice[H, E]) HeapPtr() unsafe.Pointer {
	return blockStart(s.p, headerSliceLayout[H, E](s.len).Block)
}

// IntoThin re-types the handle as a Thin over the same block. The stored length must equal the
// handle's length; a mismatch is a fatal error. Consumes the handle.
func (s Slice[H, E]) IntoThin() Thin[H, E] {
	stored := s.Header().Length
	if stored != s.len {
		memutils.Fatalf(memutils.LengthMismatchError, "header stores length %d but the slice has %d items", stored, s.len)
	}

	return Thin[H, E]{p: s.p}
}

func (s Slice[H, E]) OffHeap() {}

// EqualSlices reports whether a and b refer to the same block or hold equal headers and elements
func EqualSlices[H, E comparable](a, b Slice[H, E]) bool {
	if a.p == b.p {
		return true
	}

	return a.Header().Header == b.Header().Header && slices.Equal(a.Items(), b.Items())
}

// HashSlice hashes the header and elements, so equal contents in different blocks hash the same
func HashSlice[H, E comparable](seed maphash.Seed, s Slice[H, E]) uint64 {
	var hash maphash.Hash
	hash.SetSeed(seed)

	maphash.WriteComparable(&hash, s.Header().Header)
	for _, item := range s.Items() {
		maphash.WriteComparable(&hash, item)
	}

	return hash.Sum64()
}

// SliceBox is the only handle to a header-slice block, so its header and elements may be written
// freely. Like Box, it never changes the count.
type SliceBox[H, E any] struct {
	s Slice[H, E]
}

// NewSliceBox copies items into a new block after header and returns its only handle
func NewSliceBox[H, E any](header H, items []E) SliceBox[H, E] {
	return SliceBox[H, E]{s: FromHeaderAndSlice(header, items)}
}

// TryUniqueSlice converts s to a SliceBox if it is the only handle to its block. On success s is
// consumed; on failure it is untouched.
func TryUniqueSlice[H, E any](s Slice[H, E]) (SliceBox[H, E], bool) {
	if !s.IsUnique() {
		return SliceBox[H, E]{}, false
	}

	return SliceBox[H, E]{s: s}, true
}

func (b SliceBox[H, E]) Header() *H {
	return &b.s.Header().Header
}

func (b SliceBox[H, E]) Items() []E {
	return b.s.Items()
}

// Shareable converts the SliceBox back to a shared handle. Consumes the SliceBox.
func (b SliceBox[H, E]) Shareable() Slice[H, E] {
	return b.s
}

func (b SliceBox[H, E]) Release() {
	b.s.Release()
}

func (b SliceBox[H, E]) OffHeap() {}
