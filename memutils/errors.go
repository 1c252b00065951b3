package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

var (
	// OutOfMemoryError is reported when the page source cannot provide memory for an allocation
	OutOfMemoryError error = errors.New("out of memory")
	// LayoutOverflowError is reported when a size computation exceeds the addressable range
	LayoutOverflowError error = errors.New("allocation size overflows the address space")
	// RefcountOverflowError is reported when a shared handle is cloned past the refcount ceiling
	RefcountOverflowError error = errors.New("refcount overflow")
	// LengthMismatchError is reported when a stored slice length disagrees with the length being used
	LengthMismatchError error = errors.New("stored length does not match slice length")
	// MisalignedError is reported when a pointer does not leave room for a tag in its low bits
	MisalignedError error = errors.New("pointer alignment too small to carry a tag")
)
