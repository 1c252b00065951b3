package utils

import (
	"sync"
)

// OptionalRWMutex is a read/write mutex that can be switched off for consumers that promise to
// synchronize externally. The zero value does not lock.
type OptionalRWMutex struct {
	Mutex    sync.RWMutex
	UseMutex bool
}

func (m *OptionalRWMutex) Lock() {
	if m.UseMutex {
		m.Mutex.Lock()
	}
}

func (m *OptionalRWMutex) Unlock() {
	if m.UseMutex {
		m.Mutex.Unlock()
	}
}

func (m *OptionalRWMutex) RLock() {
	if m.UseMutex {
		m.Mutex.RLock()
	}
}

func (m *OptionalRWMutex) RUnlock() {
	if m.UseMutex {
		m.Mutex.RUnlock()
	}
}

// Locked runs f while holding the write lock
func (m *OptionalRWMutex) Locked(f func()) {
	m.Lock()
	defer m.Unlock()

	f()
}

// ReadLocked runs f while holding the read lock
func (m *OptionalRWMutex) ReadLocked(f func()) {
	m.RLock()
	defer m.RUnlock()

	f()
}
