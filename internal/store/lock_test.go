package store

import (
	"path/filepath"
	"testing"
)

func TestAcquireDomainLockExclusive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.lock")

	first, err := acquireDomainLock(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := acquireDomainLock(path); err == nil {
		t.Fatal("second acquire succeeded while first lock is held")
	}

	if err := first.release(); err != nil {
		t.Fatalf("release: %v", err)
	}

	second, err := acquireDomainLock(path)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if err := second.release(); err != nil {
		t.Fatalf("release: %v", err)
	}
}
