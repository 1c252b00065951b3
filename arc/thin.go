package arc

import (
	"hash/maphash"
	"sync/atomic"
	"unsafe"
)

// ThinFromRaw rebuilds a handle from an address returned by IntoRaw
func ThinFromRaw[H, E any](p unsafe.Pointer) Thin[H, E] {
	return Thin[H, E]{p: p}
}

// Fat re-types the handle as a Slice over the same block, using the stored length. Consumes the handle.
func (t Thin[H, E]) Fat() Slice[H, E] {
	return Slice[H, E]{p: t.p, len: (*HeaderWithLength[H])(t.p).Length}
}

// WithSlice calls f with a transient Slice over the block. f may clone it but must not release it.
func (t Thin[H, E]) WithSlice(f func(s Slice[H, E])) {
	f(t.Fat())
}

func (t Thin[H, E]) counter() *atomic.Uintptr {
	return refcount(t.p, headerSliceAlign[H, E]())
}

func (t Thin[H, E]) Header() *HeaderWithLength[H] {
	return (*HeaderWithLength[H])(t.p)
}

func (t Thin[H, E]) Items() []E {
	return t.Fat().Items()
}

func (t Thin[H, E]) Len() int {
	return int(t.Header().Length)
}

func (t Thin[H, E]) Clone() Thin[H, E] {
	increment(t.counter())
	return t
}

func (t Thin[H, E]) Release() {
	t.Fat().Release()
}

func (t Thin[H, E]) Count() int {
	return count(t.counter())
}

func (t Thin[H, E]) IsUnique() bool {
	return isUnique(t.counter())
}

func (t Thin[H, E]) PtrEq(other Thin[H, E]) bool {
	return t.p == other.p
}

// IntoRaw returns the payload address without releasing the reference. Consumes the handle.
func (t Thin[H, E]) IntoRaw() unsafe.Pointer {
	return t.p
}

func (t Thin[H, E]) HeapPtr() unsafe.Pointer {
	return t.Fat().HeapPtr()
}

func (t Thin[H, E]) OffHeap() {}

func (t Thin[H, E]) Erase() unsafe.Pointer {
	return t.p
}

func (Thin[H, E]) Unerase(p unsafe.Pointer) Thin[H, E] {
	return Thin[H, E]{p: p}
}

// Alignment is the guaranteed alignment of the payload address
func (Thin[H, E]) Alignment() uintptr {
	return headerSliceAlign[H, E]()
}

// EqualThin reports whether a and b refer to the same block or hold equal headers and elements
func EqualThin[H, E comparable](a, b Thin[H, E]) bool {
	return EqualSlices(a.Fat(), b.Fat())
}

func HashThin[H, E comparable](seed maphash.Seed, t Thin[H, E]) uint64 {
	return HashSlice(seed, t.Fat())
}
