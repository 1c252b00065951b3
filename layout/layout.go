package layout

import (
	"fmt"
	"math"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/elysium/memutils"
)

const (
	// RefcountSize is the size in bytes of the counter word at the start of every block
	RefcountSize = unsafe.Sizeof(uintptr(0))
	// RefcountAlign is the alignment of the counter word, and so the minimum alignment of every block
	RefcountAlign = unsafe.Alignof(uintptr(0))
	// MaxSize is the largest size a Layout may have, the maximum signed offset for the platform
	MaxSize = uintptr(math.MaxInt)
)

// Layout is the size and alignment of a region of memory. Align is always a nonzero power of two and
// Size never exceeds MaxSize rounded down to Align.
type Layout struct {
	Size  uintptr
	Align uintptr
}

// New validates size and align and builds a Layout from them
func New(size, align uintptr) (Layout, error) {
	err := memutils.CheckPow2(align, "align")
	if err != nil {
		return Layout{}, err
	}

	if size > MaxSize-(align-1) {
		return Layout{}, cerrors.Wrapf(memutils.LayoutOverflowError, "size %d with alignment %d", size, align)
	}

	return Layout{Size: size, Align: align}, nil
}

// Must is New, except a failure is sent to the fatal hook
func Must(size, align uintptr) Layout {
	l, err := New(size, align)
	if err != nil {
		memutils.Fatal(err)
	}
	return l
}

// Of returns the layout of T
func Of[T any]() Layout {
	var zero T
	return Layout{Size: unsafe.Sizeof(zero), Align: unsafe.Alignof(zero)}
}

func (l Layout) String() string {
	return fmt.Sprintf("{size: %d, align: %d}", l.Size, l.Align)
}

// PadToAlign rounds the size up to a multiple of the alignment
func (l Layout) PadToAlign() Layout {
	return Layout{Size: memutils.AlignUp(l.Size, l.Align), Align: l.Align}
}

// Extend appends next after l, aligned for next, and returns the combined layout along with the
// offset at which next begins. The combined layout is not padded. Overflow is fatal.
func (l Layout) Extend(next Layout) (Layout, uintptr) {
	offset, ok := memutils.CheckedAlignUp(l.Size, next.Align)
	if !ok {
		memutils.Fatalf(memutils.LayoutOverflowError, "extending %s with %s", l, next)
	}

	size, ok := memutils.CheckedAdd(offset, next.Size)
	if !ok {
		memutils.Fatalf(memutils.LayoutOverflowError, "extending %s with %s", l, next)
	}

	return Must(size, max(l.Align, next.Align)), offset
}

// Array returns the layout of n consecutive elements. Overflow is fatal.
func Array(elem Layout, n uintptr) Layout {
	stride := elem.PadToAlign().Size
	size, ok := memutils.CheckedMul(stride, n)
	if !ok {
		memutils.Fatalf(memutils.LayoutOverflowError, "array of %d elements of %s", n, elem)
	}

	return Must(size, elem.Align)
}

// PayloadOffset is the distance in bytes from the start of a block to its payload, for a payload with
// the provided alignment. A payload pointer minus this offset is the block's counter word.
func PayloadOffset(payloadAlign uintptr) uintptr {
	return memutils.AlignUp(RefcountSize, payloadAlign)
}

// Block is the layout of a whole allocation: the counter word followed by the payload
type Block struct {
	Layout
	PayloadOffset uintptr
}

// ForPayload computes the block layout holding a payload with the provided layout
func ForPayload(payload Layout) Block {
	counter := Layout{Size: RefcountSize, Align: RefcountAlign}
	block, offset := counter.Extend(payload)

	if offset != PayloadOffset(payload.Align) {
		panic(fmt.Sprintf("payload offset %d disagrees with computed offset %d for %s", offset, PayloadOffset(payload.Align), payload))
	}

	return Block{
		Layout:        block.PadToAlign(),
		PayloadOffset: offset,
	}
}

// ForType computes the block layout for a payload of type T
func ForType[T any]() Block {
	return ForPayload(Of[T]())
}

// HeaderSlice is the layout of a block whose payload is a header followed by a sequence of elements
type HeaderSlice struct {
	Block
	// Payload is the layout of the header and elements together
	Payload Layout
	// ElemOffset is the distance in bytes from the payload start to the first element
	ElemOffset uintptr
	// Length is the number of elements
	Length uintptr
}

// ForHeaderSlice computes the layout of a block holding header followed by length elements of elem.
// The elements begin at the first offset after the header that is aligned for elem.
func ForHeaderSlice(header Layout, elem Layout, length uintptr) HeaderSlice {
	payload, elemOffset := header.Extend(Array(elem, length))
	payload = payload.PadToAlign()

	return HeaderSlice{
		Block:      ForPayload(payload),
		Payload:    payload,
		ElemOffset: elemOffset,
		Length:     length,
	}
}
