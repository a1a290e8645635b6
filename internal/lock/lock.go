// Package lock provides the RWMutex used to guard a single repository's
// in-flight sync pass. It wraps sasha-s/go-deadlock so that a misbehaving
// lock ordering (e.g. a Reconciler step that forgets to release a
// metadata-store lock before re-entering Sync) is reported with a stack
// trace during development, while compiling down to a plain sync.RWMutex
// for production builds.
package lock

import (
	"sync"

	"github.com/sasha-s/go-deadlock"
)

// deadlockDetection is flipped on by the "lockdebug" build tag; see
// lock_debug.go. Left off by default because go-deadlock's periodic
// lock-held-too-long watchdog goroutine is not free.
var deadlockDetection = false

// RWMutex is a drop-in replacement for sync.RWMutex that can be switched,
// at build time, to deadlock-detecting locking. It is used as a value
// (not pointer) field on Repository.
type RWMutex struct {
	std sync.RWMutex
	dl  deadlock.RWMutex
}

func (m *RWMutex) Lock() {
	if deadlockDetection {
		m.dl.Lock()
		return
	}
	m.std.Lock()
}

func (m *RWMutex) Unlock() {
	if deadlockDetection {
		m.dl.Unlock()
		return
	}
	m.std.Unlock()
}

func (m *RWMutex) RLock() {
	if deadlockDetection {
		m.dl.RLock()
		return
	}
	m.std.RLock()
}

func (m *RWMutex) RUnlock() {
	if deadlockDetection {
		m.dl.RUnlock()
		return
	}
	m.std.RUnlock()
}

// TryLock reports whether the lock was acquired without blocking.
func (m *RWMutex) TryLock() bool {
	if deadlockDetection {
		return m.dl.TryLock()
	}
	return m.std.TryLock()
}

// TryRLock reports whether the read lock was acquired without blocking.
func (m *RWMutex) TryRLock() bool {
	if deadlockDetection {
		return m.dl.TryRLock()
	}
	return m.std.TryRLock()
}
