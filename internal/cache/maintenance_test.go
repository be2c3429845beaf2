package cache

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/treetopapp/treetop/internal/node"
)

// writeAux writes an evictable file into the cache dir, backdating its
// mtime so eviction order is deterministic.
func writeAux(t *testing.T, dir, name string, size int, age time.Duration) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("failed to backdate %s: %v", name, err)
	}
}

func TestProtectedFiles(t *testing.T) {
	for _, name := range []string{DBFileName, DBFileName + "-wal", DBFileName + "-shm", QueueFileName} {
		if !protected(name) {
			t.Errorf("%s should be protected", name)
		}
	}
	for _, name := range []string{"export.json", "debug.log", "nodes.db.bak"} {
		if protected(name) {
			t.Errorf("%s should be evictable", name)
		}
	}
}

func TestCleanupOldFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	writeAux(t, dir, "stale-export.json", 100, 45*24*time.Hour)
	writeAux(t, dir, "fresh-export.json", 100, time.Hour)

	removed, err := s.CleanupOldFiles(30)
	if err != nil {
		t.Fatalf("CleanupOldFiles failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 file removed, got %d", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "stale-export.json")); !os.IsNotExist(err) {
		t.Error("Stale file survived cleanup")
	}
	if _, err := os.Stat(filepath.Join(dir, "fresh-export.json")); err != nil {
		t.Error("Fresh file was removed")
	}
	if _, err := os.Stat(filepath.Join(dir, DBFileName)); err != nil {
		t.Error("Snapshot database was removed by age cleanup")
	}
}

func TestEnforceMaxSizeEvictsOldestFirst(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	// Seed a snapshot so the protected set has real weight.
	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.SaveNodes(ctx, []node.Node{{
		ID: "n1", Title: "Keep", Type: node.TypeFolder,
		CreatedAt: now, UpdatedAt: now,
	}}); err != nil {
		t.Fatalf("SaveNodes failed: %v", err)
	}

	writeAux(t, dir, "oldest.bak", 50_000, 72*time.Hour)
	writeAux(t, dir, "middle.bak", 50_000, 48*time.Hour)
	writeAux(t, dir, "newest.bak", 50_000, 24*time.Hour)

	size, err := s.Size()
	if err != nil {
		t.Fatalf("Size failed: %v", err)
	}

	// Budget that forces out the two oldest auxiliaries.
	removed := s.EnforceMaxSize(size - 80_000)
	if len(removed) != 2 {
		t.Fatalf("Expected 2 evictions, got %d: %v", len(removed), removed)
	}
	if removed[0] != "oldest.bak" || removed[1] != "middle.bak" {
		t.Errorf("Wrong eviction order: %v", removed)
	}
	if _, err := os.Stat(filepath.Join(dir, "newest.bak")); err != nil {
		t.Error("Newest auxiliary was evicted early")
	}

	// The snapshot survives even under an impossible budget.
	s.EnforceMaxSize(1)
	if _, err := os.Stat(filepath.Join(dir, DBFileName)); err != nil {
		t.Error("Snapshot database was evicted")
	}
	loaded, err := s.LoadNodes(ctx)
	if err != nil || len(loaded) != 1 {
		t.Errorf("Snapshot unreadable after aggressive eviction: %d nodes, err=%v", len(loaded), err)
	}
}

func TestPerformMaintenance(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	writeAux(t, dir, "ancient.dump", 1000, 60*24*time.Hour)
	writeAux(t, dir, "recent.dump", 1000, time.Hour)

	result := s.PerformMaintenance(30, 1000)
	if result.FilesRemoved != 1 {
		t.Errorf("Expected 1 removal (age), got %d", result.FilesRemoved)
	}
	if _, err := os.Stat(filepath.Join(dir, "recent.dump")); err != nil {
		t.Error("Recent file removed despite fitting the budget")
	}
}

func TestClearKeepsProtectedFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	if err := s.SaveNodes(ctx, []node.Node{{
		ID: "n1", Title: "Gone after clear", Type: node.TypeFolder,
		CreatedAt: now, UpdatedAt: now,
	}}); err != nil {
		t.Fatalf("SaveNodes failed: %v", err)
	}
	writeAux(t, dir, "scratch.tmp", 10, time.Hour)
	if err := os.WriteFile(filepath.Join(dir, QueueFileName), []byte("{}\n"), 0600); err != nil {
		t.Fatal(err)
	}

	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}

	loaded, err := s.LoadNodes(ctx)
	if err != nil {
		t.Fatalf("LoadNodes failed: %v", err)
	}
	if loaded != nil {
		t.Errorf("Expected never-saved state after clear, got %d nodes", len(loaded))
	}
	if _, err := os.Stat(filepath.Join(dir, "scratch.tmp")); !os.IsNotExist(err) {
		t.Error("Auxiliary file survived clear")
	}
	if _, err := os.Stat(filepath.Join(dir, QueueFileName)); err != nil {
		t.Error("Queue log was removed by clear")
	}
}
