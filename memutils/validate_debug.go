//go:build debug_mem_utils

package memutils

import "unsafe"

const (
	// DebugMargin is the number of guard bytes placed after every suballocation. Guard bytes are
	// filled with a magic value that CheckCorruption looks for.
	DebugMargin int = 16
	// corruptionDetectionMagicValue is repeated across the guard bytes
	corruptionDetectionMagicValue uint32 = 0x7F84E666
	magicValueSize                       = int(unsafe.Sizeof(corruptionDetectionMagicValue))
)

// WriteMagicValue fills DebugMargin bytes at data+offset with the magic value.
// This method no-ops unless the debug_mem_utils build tag is present.
func WriteMagicValue(data unsafe.Pointer, offset int) {
	dest := unsafe.Add(data, offset)
	for i := 0; i < DebugMargin/magicValueSize; i++ {
		*(*uint32)(dest) = corruptionDetectionMagicValue
		dest = unsafe.Add(dest, magicValueSize)
	}
}

// ValidateMagicValue reports whether the guard bytes written by WriteMagicValue are intact.
// This method always returns true unless the debug_mem_utils build tag is present.
func ValidateMagicValue(data unsafe.Pointer, offset int) bool {
	source := unsafe.Add(data, offset)
	for i := 0; i < DebugMargin/magicValueSize; i++ {
		if *(*uint32)(source) != corruptionDetectionMagicValue {
			return false
		}
		source = unsafe.Add(source, magicValueSize)
	}

	return true
}

// DebugValidate panics if validatable reports an error.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 panics if value is not a power of two.
// This method no-ops unless the debug_mem_utils build tag is present.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
