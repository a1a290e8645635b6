package lock

import "testing"

func TestTryLock(t *testing.T) {
	var m RWMutex

	if !m.TryLock() {
		t.Fatal("expected TryLock to succeed on unlocked mutex")
	}
	if m.TryLock() {
		t.Fatal("expected TryLock to fail while already locked")
	}
	m.Unlock()

	if !m.TryLock() {
		t.Fatal("expected TryLock to succeed after unlock")
	}
	m.Unlock()
}

func TestTryRLock(t *testing.T) {
	var m RWMutex

	if !m.TryRLock() {
		t.Fatal("expected TryRLock to succeed on unlocked mutex")
	}
	if !m.TryRLock() {
		t.Fatal("expected a second TryRLock to succeed while read-locked")
	}
	m.RUnlock()
	m.RUnlock()

	if m2 := (&RWMutex{}); !m2.TryLock() {
		t.Fatal("expected fresh mutex to lock")
	}
}
