package memory

import (
	"os"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/elysium/memutils"
)

//go:generate mockgen -source page_source.go -destination ./mocks/page_source.go -package mocks

// PageSource supplies the raw memory an Allocator carves blocks out of. Memory returned from Map must
// be writable, aligned to at least PageSize, and must stay at a fixed address until it is passed
// to Unmap.
type PageSource interface {
	Map(size int) ([]byte, error)
	Unmap(data []byte) error
	PageSize() int
}

// HeapPageSource serves pages from the Go heap. Pages are retained in a registry until Unmap so
// that memory referenced only through raw pointers is not collected.
type HeapPageSource struct {
	mutex sync.Mutex
	live  map[uintptr][]byte
}

var _ PageSource = &HeapPageSource{}

func NewHeapPageSource() *HeapPageSource {
	return &HeapPageSource{
		live: make(map[uintptr][]byte),
	}
}

func (s *HeapPageSource) Map(size int) ([]byte, error) {
	if size < 1 {
		return nil, errors.Newf("invalid page mapping size: %d", size)
	}

	pageSize := s.PageSize()
	raw := make([]byte, size+pageSize)

	start := uintptr(unsafe.Pointer(unsafe.SliceData(raw)))
	offset := int(memutils.AlignUp(start, uintptr(pageSize)) - start)
	data := raw[offset : offset+size : offset+size]

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.live[uintptr(unsafe.Pointer(unsafe.SliceData(data)))] = raw
	return data, nil
}

func (s *HeapPageSource) Unmap(data []byte) error {
	key := uintptr(unsafe.Pointer(unsafe.SliceData(data)))

	s.mutex.Lock()
	defer s.mutex.Unlock()

	_, ok := s.live[key]
	if !ok {
		return errors.Newf("attempted to unmap %d bytes at %#x, which were not mapped by this page source", len(data), key)
	}

	delete(s.live, key)
	return nil
}

func (s *HeapPageSource) PageSize() int {
	return os.Getpagesize()
}

// MappedCount returns the number of mappings that have not been unmapped
func (s *HeapPageSource) MappedCount() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.live)
}
