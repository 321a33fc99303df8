package filelock

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
)

func TestNewFileLock(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "test.lock")

	lock := NewFileLock(lockPath)
	if lock == nil {
		t.Fatal("NewFileLock should not return nil")
	}

	if lock.path != lockPath {
		t.Errorf("Expected lock path %s, got %s", lockPath, lock.path)
	}
}

func TestLockUnlock(t *testing.T) {
	tmpDir := t.TempDir()
	lock := NewFileLock(filepath.Join(tmpDir, "test.lock"))

	if err := lock.Lock(); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	if err := lock.Unlock(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}
}

func TestTryLock(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "test.lock")

	holder := NewFileLock(lockPath)
	if err := holder.Lock(); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	other := NewFileLock(lockPath)
	acquired, err := other.TryLock()
	if err != nil {
		t.Fatalf("TryLock returned error: %v", err)
	}
	if acquired {
		t.Error("TryLock should fail while another handle holds the lock")
	}

	holder.Unlock()

	acquired, err = other.TryLock()
	if err != nil {
		t.Fatalf("TryLock returned error: %v", err)
	}
	if !acquired {
		t.Error("TryLock should succeed after release")
	}
	other.Unlock()
}

func TestLockContextTimesOut(t *testing.T) {
	tmpDir := t.TempDir()
	lockPath := filepath.Join(tmpDir, "test.lock")

	holder := NewFileLock(lockPath)
	if err := holder.Lock(); err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer holder.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	if err := NewFileLock(lockPath).LockContext(ctx); err == nil {
		t.Error("expected LockContext to give up while the lock is held")
	}
}

func TestFlockLockerSerializes(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(tmpDir, "counter")
	counterPath := filepath.Join(tmpDir, "counter.txt")
	os.WriteFile(counterPath, []byte("0"), 0644)

	const goroutines = 4
	const iterations = 5

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				release, err := FlockLocker{}.Acquire(context.Background(), target)
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				data, _ := os.ReadFile(counterPath)
				n, _ := strconv.Atoi(string(data))
				os.WriteFile(counterPath, []byte(strconv.Itoa(n+1)), 0644)
				release()
			}
		}()
	}
	wg.Wait()

	data, err := os.ReadFile(counterPath)
	if err != nil {
		t.Fatalf("Failed to read counter: %v", err)
	}
	if string(data) != strconv.Itoa(goroutines*iterations) {
		t.Errorf("Expected counter %d, got %s", goroutines*iterations, data)
	}
}

func TestMutexLocker(t *testing.T) {
	ml := NewMutexLocker()

	release, err := ml.Acquire(context.Background(), "runs")
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}

	// A different key is independent
	otherRelease, err := ml.Acquire(context.Background(), "other")
	if err != nil {
		t.Fatalf("Acquire on other key failed: %v", err)
	}
	otherRelease()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := ml.Acquire(ctx, "runs"); err == nil {
		t.Error("expected second Acquire to time out")
	}

	release()
	release() // releasing twice is harmless

	again, err := ml.Acquire(context.Background(), "runs")
	if err != nil {
		t.Fatalf("Acquire after release failed: %v", err)
	}
	again()
}

func TestAtomicWrite(t *testing.T) {
	fs := afero.NewMemMapFs()
	path := filepath.Join("runs", "a", "record.json")

	if err := AtomicWrite(fs, path, []byte("first")); err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}
	if err := AtomicWrite(fs, path, []byte("second")); err != nil {
		t.Fatalf("AtomicWrite overwrite failed: %v", err)
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("Expected %q, got %q", "second", data)
	}

	entries, err := afero.ReadDir(fs, filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected no temp files left behind, found %d entries", len(entries))
	}
}

func TestAtomicWriteOsFs(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "nested", "out.json")

	if err := AtomicWrite(afero.NewOsFs(), path, []byte("{}")); err != nil {
		t.Fatalf("AtomicWrite failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if info.Mode().Perm() != 0644 {
		t.Errorf("Expected permissions 0644, got %v", info.Mode().Perm())
	}
}

func TestWriteNewRefusesExisting(t *testing.T) {
	fs := afero.NewMemMapFs()
	ml := NewMutexLocker()

	if err := WriteNew(context.Background(), fs, ml, "runs", "runs/1.json", []byte("one")); err != nil {
		t.Fatalf("WriteNew failed: %v", err)
	}
	err := WriteNew(context.Background(), fs, ml, "runs", "runs/1.json", []byte("two"))
	if !errors.Is(err, ErrExists) {
		t.Fatalf("Expected ErrExists, got %v", err)
	}

	data, _ := afero.ReadFile(fs, "runs/1.json")
	if string(data) != "one" {
		t.Errorf("existing file was modified: %q", data)
	}
}

func TestWriteNewConcurrentOnlyOneWins(t *testing.T) {
	fs := afero.NewMemMapFs()
	ml := NewMutexLocker()

	const writers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			if err := WriteNew(context.Background(), fs, ml, "runs", "runs/same.json", []byte(strconv.Itoa(i))); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("Expected exactly one writer to win, got %d", wins)
	}
}
