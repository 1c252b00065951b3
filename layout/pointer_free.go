package layout

import (
	"reflect"
	"sync"

	cerrors "github.com/cockroachdb/errors"
	"github.com/pkg/errors"
)

// PointerError is returned by CheckPointerFree for types that contain Go pointers. Blocks live
// outside the garbage-collected heap, so a pointer stored in one would not keep its target alive.
var PointerError error = errors.New("type contains go pointers and cannot be stored in an off-heap block")

// OffHeap is implemented by handle types whose only pointers refer to blocks outside the Go heap.
// A struct that declares OffHeap itself may hold unsafe.Pointer fields and still be stored in a block.
// Every other field is checked as usual, and a struct that only embeds a handle gets no exemption.
type OffHeap interface {
	OffHeap()
}

var offHeapType = reflect.TypeOf((*OffHeap)(nil)).Elem()

var pointerFreeCache sync.Map

// CheckPointerFree reports whether values of t can be stored in a block. Results are cached per type.
func CheckPointerFree(t reflect.Type) error {
	if cached, ok := pointerFreeCache.Load(t); ok {
		if cached == nil {
			return nil
		}
		return cached.(error)
	}

	err := findPointer(t, t.String())
	if err == nil {
		pointerFreeCache.Store(t, nil)
	} else {
		pointerFreeCache.Store(t, err)
	}
	return err
}

// declaresOffHeap reports whether struct type t implements OffHeap itself, rather than through an
// embedded field. Only such types may hold raw block addresses.
func declaresOffHeap(t reflect.Type) bool {
	if !t.Implements(offHeapType) {
		return false
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && field.Type.Implements(offHeapType) {
			return false
		}
	}
	return true
}

func findPointer(t reflect.Type, path string) error {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return nil
	case reflect.Array:
		if t.Len() == 0 {
			return nil
		}
		return findPointer(t.Elem(), path+"[]")
	case reflect.Struct:
		handle := declaresOffHeap(t)
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if handle && field.Type.Kind() == reflect.UnsafePointer {
				continue
			}

			err := findPointer(field.Type, path+"."+field.Name)
			if err != nil {
				return err
			}
		}
		return nil
	default:
		return cerrors.Wrapf(PointerError, "%s has kind %s", path, t.Kind())
	}
}

// MustBePointerFree panics if T cannot be stored in a block
func MustBePointerFree[T any]() {
	err := CheckPointerFree(reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		panic(err)
	}
}
