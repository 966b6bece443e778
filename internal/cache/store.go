package cache

import (
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Entry describes one cached artifact on disk.
type Entry struct {
	Path      string
	SizeBytes int64
	ModTime   time.Time
}

// Stats summarizes the cache tree for reporting.
type Stats struct {
	FileCount   int     `json:"file_count"`
	TotalSizeMB float64 `json:"total_size_mb"`
	// Oldest/Newest are zero when the cache is empty.
	Oldest time.Time `json:"oldest,omitempty"`
	Newest time.Time `json:"newest,omitempty"`
}

// Exists stats the given final path. A directory at the path does not count
// as a cached artifact.
func Exists(path string) (bool, int64, time.Time) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false, 0, time.Time{}
	}
	return true, info.Size(), info.ModTime()
}

// Scan walks the sharded cache tree and returns every artifact with its
// size and modification time. Each call rescans; unreadable files are
// skipped rather than aborting the walk.
func Scan(cacheRoot string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(cacheRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == cacheRoot {
				return err
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		entries = append(entries, Entry{Path: path, SizeBytes: info.Size(), ModTime: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// TotalSizeBytes sums the sizes of every artifact under the cache root.
func TotalSizeBytes(cacheRoot string) (int64, error) {
	entries, err := Scan(cacheRoot)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
	}
	return total, nil
}

// CollectStats reports file count, total size in MB and the oldest/newest
// modification times. An empty cache yields zero values.
func CollectStats(cacheRoot string) (Stats, error) {
	entries, err := Scan(cacheRoot)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{FileCount: len(entries)}
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
		if st.Oldest.IsZero() || e.ModTime.Before(st.Oldest) {
			st.Oldest = e.ModTime
		}
		if st.Newest.IsZero() || e.ModTime.After(st.Newest) {
			st.Newest = e.ModTime
		}
	}
	st.TotalSizeMB = float64(total) / (1024 * 1024)
	return st, nil
}

// Commit atomically moves a finished artifact into the cache tree, replacing
// any stale entry at the final path. The temp file must live on the same
// filesystem as the cache root for the rename to stay atomic.
func Commit(tmpPath, finalPath string) error {
	if _, err := os.Stat(finalPath); err == nil {
		if err := os.Remove(finalPath); err != nil {
			return err
		}
	}
	return os.Rename(tmpPath, finalPath)
}
