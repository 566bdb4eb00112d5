package usecase

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// PurgeResult counts what a purge pass removed.
type PurgeResult struct {
	Deleted int
	Bytes   int64
}

// Purge deletes entries in one database's backup directory whose
// modification time is strictly older than the retention cutoff. A zero
// retention disables purging. The commit rename stamps fresh backups with
// the current time, so files written in the same run are never candidates.
//
// Per-file failures are collected and returned together; callers treat
// them as warnings, not backup failures.
func Purge(dir string, retentionDays int, now time.Time) (PurgeResult, error) {
	var result PurgeResult

	if retentionDays <= 0 {
		return result, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return result, fmt.Errorf("failed to read backup directory: %w", err)
	}

	cutoff := now.AddDate(0, 0, -retentionDays)

	var errs []error
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// entry vanished mid-scan
			errs = append(errs, fmt.Errorf("stat %s: %w", entry.Name(), err))
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", entry.Name(), err))
			continue
		}
		result.Deleted++
		result.Bytes += info.Size()
	}

	return result, errors.Join(errs...)
}
