package memory

import "strings"

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateExternallySynchronized ensures that the allocator will not be synchronized internally.
	// The consumer must guarantee it is used from only one goroutine at a time or is synchronized by
	// some other mechanism.
	CreateExternallySynchronized CreateFlags = 1 << iota
	// CreateReleaseEmptyChunks returns every chunk to the page source as soon as it becomes empty,
	// instead of keeping one spare empty chunk around
	CreateReleaseEmptyChunks
)

var createFlagsMapping = []struct {
	flag CreateFlags
	name string
}{
	{CreateExternallySynchronized, "CreateExternallySynchronized"},
	{CreateReleaseEmptyChunks, "CreateReleaseEmptyChunks"},
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for _, mapping := range createFlagsMapping {
		if f&mapping.flag != 0 {
			names = append(names, mapping.name)
			f &^= mapping.flag
		}
	}

	if f != 0 {
		names = append(names, "Unknown")
	}

	return strings.Join(names, "|")
}
