//go:build unix

package memory

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/elysium/memutils"
	"golang.org/x/sys/unix"
)

// MmapPageSource maps anonymous private memory directly from the operating system. The garbage
// collector never scans it.
type MmapPageSource struct{}

var _ PageSource = MmapPageSource{}

func (MmapPageSource) Map(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(memutils.OutOfMemoryError, "mmap of %d bytes failed: %v", size, err)
	}

	return data, nil
}

func (MmapPageSource) Unmap(data []byte) error {
	return unix.Munmap(data)
}

func (MmapPageSource) PageSize() int {
	return unix.Getpagesize()
}

// DefaultPageSource returns the page source used when CreateOptions does not name one
func DefaultPageSource() PageSource {
	return MmapPageSource{}
}
