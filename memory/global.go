package memory

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/elysium/memutils"
	"golang.org/x/exp/slog"
)

var (
	globalMutex     sync.Mutex
	globalAllocator atomic.Pointer[Allocator]
)

// Global returns the process-wide allocator used by shared handles. It is created with default
// options on first use unless InitGlobal was called earlier. If it cannot be created, the error is
// sent to the fatal hook.
func Global() *Allocator {
	allocator := globalAllocator.Load()
	if allocator != nil {
		return allocator
	}

	globalMutex.Lock()
	defer globalMutex.Unlock()

	allocator = globalAllocator.Load()
	if allocator == nil {
		var err error
		allocator, err = New(slog.Default(), CreateOptions{})
		if err != nil {
			memutils.Fatal(errors.WithMessage(err, "failed to create the global allocator"))
		}
		globalAllocator.Store(allocator)
	}

	return allocator
}

// InitGlobal configures the process-wide allocator. It must be called before the first call to
// Global, and returns an error otherwise.
func InitGlobal(logger *slog.Logger, options CreateOptions) error {
	globalMutex.Lock()
	defer globalMutex.Unlock()

	if globalAllocator.Load() != nil {
		return errors.New("the global allocator has already been initialized")
	}

	allocator, err := New(logger, options)
	if err != nil {
		return err
	}

	globalAllocator.Store(allocator)
	return nil
}
