package filelock

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLockUnlock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	lock := New(lockPath)
	if err := lock.Lock(); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Unlock(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
}

func TestTryLock_HeldLock(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	first := New(lockPath)
	if err := first.Lock(); err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer first.Unlock()

	second := New(lockPath)
	acquired, err := second.TryLock()
	if err != nil {
		t.Fatalf("TryLock error: %v", err)
	}
	if acquired {
		t.Error("TryLock should not acquire a held lock")
	}
}

func TestLockWithTimeout_Expires(t *testing.T) {
	lockPath := filepath.Join(t.TempDir(), "test.lock")

	holder := New(lockPath)
	if err := holder.Lock(); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer holder.Unlock()

	waiter := New(lockPath)
	start := time.Now()
	err := waiter.LockWithTimeout(150 * time.Millisecond)
	if err == nil {
		waiter.Unlock()
		t.Fatal("expected timeout acquiring held lock")
	}
	if time.Since(start) < 100*time.Millisecond {
		t.Error("LockWithTimeout returned before waiting")
	}
}

func TestAtomicWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "manifest.txt")

	if err := AtomicWrite(path, []byte("hello"), 0644); err != nil {
		t.Fatalf("AtomicWrite error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read back: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected hello, got %q", data)
	}

	// No stray temp files left behind
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".tmp-") {
			t.Errorf("leftover temp file: %s", entry.Name())
		}
	}
}

func TestAtomicWrite_Mode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signing.key")

	if err := AtomicWrite(path, []byte("secret"), 0600); err != nil {
		t.Fatalf("AtomicWrite error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected mode 0600, got %v", info.Mode().Perm())
	}
}

func TestAtomicWrite_ReplacesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.txt")
	if err := os.WriteFile(path, []byte("old"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := AtomicWrite(path, []byte("new"), 0644); err != nil {
		t.Fatalf("AtomicWrite error: %v", err)
	}

	data, _ := os.ReadFile(path)
	if string(data) != "new" {
		t.Errorf("expected new content, got %q", data)
	}
}

func TestLockAndWrite_Concurrent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "registry.txt")

	const goroutines = 8
	var wg sync.WaitGroup
	wg.Add(goroutines)

	for i := 0; i < goroutines; i++ {
		go func(n int) {
			defer wg.Done()
			line := strings.Repeat("x", 64) + "\n"
			if err := LockAndWrite(path, []byte(line), 0644); err != nil {
				t.Errorf("LockAndWrite error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	// Whatever writer won, the file is one complete line, never a tear
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 65 {
		t.Errorf("expected 65 bytes, got %d", len(data))
	}
}
