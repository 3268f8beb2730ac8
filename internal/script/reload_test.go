package script

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// countingScript carries the load generation that produced it; the
// tests count loader calls to tell a reload occurred.
type countingScript struct{ gen int }

func (c *countingScript) Dispatch(ev Event) ([]Action, error) { return nil, nil }

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "script.txt")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	loadCount := 0
	load := func(p string) (Script, error) {
		loadCount++
		return &countingScript{gen: loadCount}, nil
	}

	w, err := NewWatcher(path, load, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Close()

	if loadCount != 1 {
		t.Fatalf("expected exactly one initial load, got %d", loadCount)
	}

	if err := os.WriteFile(path, []byte("v2"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && loadCount < 2 {
		time.Sleep(20 * time.Millisecond)
	}
	if loadCount < 2 {
		t.Fatalf("expected a reload after the file changed, loadCount=%d", loadCount)
	}
}
