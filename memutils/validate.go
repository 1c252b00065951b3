package memutils

// Validatable is anything that can check its own internal consistency. DebugValidate accepts it
// so that expensive checks can be compiled in or out with the debug_mem_utils build tag.
type Validatable interface {
	Validate() error
}
