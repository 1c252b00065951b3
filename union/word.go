package union

import (
	"fmt"
	"unsafe"

	"github.com/vkngwrapper/elysium/memutils"
)

// Tag identifies which candidate a Word holds
type Tag uint8

const (
	TagA Tag = iota
	TagB
	TagC
	TagD
)

// TagMask covers the low bits of a Word that hold the tag
const TagMask uintptr = 0b11

// MinAlignment is the alignment every candidate's address must have, so that the tag bits are free
const MinAlignment uintptr = TagMask + 1

var tagNames = [...]string{"TagA", "TagB", "TagC", "TagD"}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("Tag(%d)", uint8(t))
}

// Word is an address with a tag packed into its low bits. The address must refer to memory outside
// the Go heap, since a Word is not a pointer as far as the garbage collector is concerned.
type Word uintptr

// Pack stores tag in the low bits of p. An address whose low bits are already in use is a fatal
// error, since it means a candidate reported an alignment it does not have.
func Pack(p unsafe.Pointer, tag Tag) Word {
	if uintptr(tag) > TagMask {
		panic(fmt.Sprintf("invalid union tag: %s", tag))
	}

	address := uintptr(p)
	if address&TagMask != 0 {
		memutils.Fatalf(memutils.MisalignedError, "address %#x cannot carry a tag", address)
	}

	return Word(address | uintptr(tag))
}

func (w Word) Tag() Tag {
	return Tag(uintptr(w) & TagMask)
}

// Pointer returns the address with the tag bits cleared. Turning the stored uintptr back into a
// pointer is sound only because the address belongs to an off-heap block, or to a HeapPageSource
// page that its source keeps reachable, so the garbage collector never moves or frees it.
func (w Word) Pointer() unsafe.Pointer {
	return unsafe.Pointer(uintptr(w) &^ TagMask)
}

// Unpack returns the address if the word carries tag
func (w Word) Unpack(tag Tag) (unsafe.Pointer, bool) {
	if w.Tag() != tag {
		return nil, false
	}

	return w.Pointer(), true
}
