package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// MaintenanceResult reports what a maintenance pass removed.
type MaintenanceResult struct {
	FilesRemoved int
	Removed      []string
}

// protected reports whether name (relative to the cache dir) must never
// be evicted. The snapshot database, its WAL sidecars, and the
// operation queue log are the files the app cannot run without.
func protected(name string) bool {
	switch name {
	case DBFileName, DBFileName + "-wal", DBFileName + "-shm", QueueFileName:
		return true
	}
	return false
}

// Size returns the total size in bytes of everything under the cache
// directory.
func (s *Store) Size() (int64, error) {
	var total int64
	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to measure cache size: %w", err)
	}
	return total, nil
}

// Clear empties the snapshot and removes every non-protected file.
func (s *Store) Clear() error {
	if _, err := s.conn.Exec("DELETE FROM nodes"); err != nil {
		return fmt.Errorf("failed to clear nodes: %w", err)
	}
	if _, err := s.conn.Exec("DELETE FROM meta"); err != nil {
		return fmt.Errorf("failed to clear meta: %w", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read cache directory: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || protected(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.logger.Printf("WARNING: failed to remove %s: %v", entry.Name(), err)
		}
	}
	return nil
}

// CleanupOldFiles removes non-protected cache files whose modification
// time is older than olderThanDays. Returns the number removed.
func (s *Store) CleanupOldFiles(olderThanDays int) (int, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || protected(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil {
			s.logger.Printf("WARNING: failed to remove stale file %s: %v", entry.Name(), err)
			continue
		}
		removed++
	}

	return removed, nil
}

// EnforceMaxSize evicts non-protected files oldest-first until the
// cache directory fits under maxBytes or nothing evictable remains.
// It never fails: whatever it managed to remove is returned.
func (s *Store) EnforceMaxSize(maxBytes int64) []string {
	total, err := s.Size()
	if err != nil {
		s.logger.Printf("WARNING: cannot measure cache for eviction: %v", err)
		return nil
	}
	if total <= maxBytes {
		return nil
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		s.logger.Printf("WARNING: cannot list cache for eviction: %v", err)
		return nil
	}

	type candidate struct {
		name    string
		size    int64
		modTime time.Time
	}
	var candidates []candidate
	for _, entry := range entries {
		if entry.IsDir() || protected(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{entry.Name(), info.Size(), info.ModTime()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.Before(candidates[j].modTime)
	})

	var removed []string
	for _, c := range candidates {
		if total <= maxBytes {
			break
		}
		if err := os.Remove(filepath.Join(s.dir, c.name)); err != nil {
			s.logger.Printf("WARNING: failed to evict %s: %v", c.name, err)
			continue
		}
		total -= c.size
		removed = append(removed, c.name)
	}

	if total > maxBytes {
		s.logger.Printf("cache still over budget after eviction (%d > %d bytes); protected files remain", total, maxBytes)
	}
	return removed
}

// PerformMaintenance composes age-based and size-based eviction: stale
// files go first, then oldest-first eviction until under the size cap.
func (s *Store) PerformMaintenance(maxAgeDays, maxSizeMB int) MaintenanceResult {
	var result MaintenanceResult

	if maxAgeDays > 0 {
		removed, err := s.CleanupOldFiles(maxAgeDays)
		if err != nil {
			s.logger.Printf("WARNING: age cleanup failed: %v", err)
		}
		result.FilesRemoved += removed
	}

	if maxSizeMB > 0 {
		removed := s.EnforceMaxSize(int64(maxSizeMB) * 1024 * 1024)
		result.FilesRemoved += len(removed)
		result.Removed = append(result.Removed, removed...)
	}

	return result
}

// maybeAutoMaintain runs a maintenance pass after a save when the
// directory has outgrown the configured threshold.
func (s *Store) maybeAutoMaintain() {
	if s.AutoMaintenanceBytes <= 0 {
		return
	}
	size, err := s.Size()
	if err != nil || size <= s.AutoMaintenanceBytes {
		return
	}

	maxAge := s.MaxAgeDays
	if maxAge == 0 {
		maxAge = 30
	}
	maxSize := s.MaxSizeMB
	if maxSize == 0 {
		maxSize = int(s.AutoMaintenanceBytes / (1024 * 1024))
	}

	result := s.PerformMaintenance(maxAge, maxSize)
	if result.FilesRemoved > 0 {
		s.logger.Printf("auto maintenance removed %d files", result.FilesRemoved)
	}
}
