package arc

import "unsafe"

// Borrow is a view of a block that holds no reference of its own. It is only valid while some Arc
// or Box keeps the block alive, which the caller must guarantee.
type Borrow[T any] struct {
	p unsafe.Pointer
}

// BorrowFromRaw views the payload at p, which must belong to a live block
func BorrowFromRaw[T any](p unsafe.Pointer) Borrow[T] {
	return Borrow[T]{p: p}
}

// BorrowFromRef views the payload at ref, which must be the address returned by Get on a live handle
func BorrowFromRef[T any](ref *T) Borrow[T] {
	return Borrow[T]{p: unsafe.Pointer(ref)}
}

// Leak converts a to a view without releasing its reference, so the block is never freed unless a
// handle is later recovered with CloneArc and released an extra time. Consumes a.
func Leak[T any](a Arc[T]) Borrow[T] {
	return Borrow[T]{p: a.p}
}

// CloneArc returns a new handle to the block, incrementing the count
func (b Borrow[T]) CloneArc() Arc[T] {
	return b.AsArc().Clone()
}

// AsArc reinterprets the view as a handle without touching the count. The returned handle must not
// be released or outlive the view.
func (b Borrow[T]) AsArc() Arc[T] {
	return Arc[T]{p: b.p}
}

// WithArc calls f with a transient handle to the block. f may clone the handle but must not release it.
func (b Borrow[T]) WithArc(f func(a Arc[T])) {
	f(b.AsArc())
}

func (b Borrow[T]) Get() *T {
	return (*T)(b.p)
}

func (b Borrow[T]) Count() int {
	return b.AsArc().Count()
}

func (b Borrow[T]) PtrEq(other Borrow[T]) bool {
	return b.p == other.p
}

func (b Borrow[T]) IntoRaw() unsafe.Pointer {
	return b.p
}

func (b Borrow[T]) OffHeap() {}

func (b Borrow[T]) Erase() unsafe.Pointer {
	return b.p
}

func (Borrow[T]) Unerase(p unsafe.Pointer) Borrow[T] {
	return Borrow[T]{p: p}
}

func (Borrow[T]) Alignment() uintptr {
	return Arc[T]{}.Alignment()
}
