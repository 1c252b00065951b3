package memory

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/elysium/layout"
	"github.com/vkngwrapper/elysium/memutils/metadata"
)

var allocationPool = sync.Pool{
	New: func() any {
		return &allocation{}
	},
}

// allocation records one live block handed out by an Allocator. It is either carved out of a chunk
// or backed by its own dedicated mapping.
type allocation struct {
	address unsafe.Pointer
	layout  layout.Layout

	chunk  *chunk
	handle metadata.BlockAllocationHandle
	offset int

	mapping []byte
	prev    *allocation
	next    *allocation
}

func (a *allocation) initChunkAllocation(c *chunk, handle metadata.BlockAllocationHandle, offset int, l layout.Layout) {
	*a = allocation{
		address: unsafe.Add(c.Base(), offset),
		layout:  l,
		chunk:   c,
		handle:  handle,
		offset:  offset,
	}
}

func (a *allocation) initDedicatedAllocation(mapping []byte, address unsafe.Pointer, l layout.Layout) {
	*a = allocation{
		address: address,
		layout:  l,
		handle:  metadata.NoAllocation,
		mapping: mapping,
	}
}

func (a *allocation) isDedicated() bool {
	return a.mapping != nil
}

func (a *allocation) key() uintptr {
	return uintptr(a.address)
}

func (a *allocation) printParameters(json *jwriter.ObjectState) {
	json.Name("Address").String(fmt.Sprintf("%#x", a.key()))
	json.Name("Size").Int(int(a.layout.Size))
	json.Name("Align").Int(int(a.layout.Align))
	if a.isDedicated() {
		json.Name("MappedBytes").Int(len(a.mapping))
	} else {
		json.Name("Offset").Int(a.offset)
	}
}
