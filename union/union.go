package union

import (
	"fmt"
	"reflect"
	"unsafe"

	cerrors "github.com/cockroachdb/errors"
	"github.com/vkngwrapper/elysium/memutils"
)

// ErrMisaligned is returned when a candidate type's addresses do not leave room for the tag
var ErrMisaligned = memutils.MisalignedError

// Erasable is implemented by single-word handles that can be stored in a union. Erase gives up the
// handle's address, and Unerase, called on any value of the type, rebuilds a handle from it. Alignment
// is the minimum alignment of every address Erase can return.
type Erasable[P any] interface {
	Erase() unsafe.Pointer
	Unerase(p unsafe.Pointer) P
	Alignment() uintptr
}

type releaser interface {
	Release()
}

func checkAlignment[P Erasable[P]]() error {
	var zero P
	if zero.Alignment() < MinAlignment {
		return cerrors.Wrapf(ErrMisaligned, "%s is only aligned to %d, at least %d is required",
			reflect.TypeOf(zero), zero.Alignment(), MinAlignment)
	}
	return nil
}

func unerase[P Erasable[P]](p unsafe.Pointer) P {
	var zero P
	return zero.Unerase(p)
}

func release[P Erasable[P]](w Word) {
	value := unerase[P](w.Pointer())
	r, ok := any(value).(releaser)
	if ok {
		r.Release()
	}
}

func clone[P Erasable[P]](w Word) Word {
	value := unerase[P](w.Pointer())
	cloner, ok := any(value).(interface{ Clone() P })
	if !ok {
		if _, owning := any(value).(releaser); owning {
			panic(fmt.Sprintf("%s owns its reference and cannot be cloned", reflect.TypeOf(value)))
		}
		return w
	}

	return Pack(cloner.Clone().Erase(), w.Tag())
}
