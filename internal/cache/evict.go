package cache

import (
	"os"
	"sort"
	"time"

	"mediacache/internal/logging"
)

// sizeEvictionTarget is the fraction of the size limit the cache is trimmed
// down to once the limit is exceeded, so consecutive sweeps do not thrash
// right at the boundary.
const sizeEvictionTarget = 0.8

// SweepResult accumulates what one eviction pass removed.
type SweepResult struct {
	Deleted    int
	FreedBytes int64
}

// EvictByAge deletes every artifact whose modification time is older than
// maxAge relative to now. A maxAge of zero disables age eviction. Per-file
// errors are logged and skipped.
func EvictByAge(cacheRoot string, maxAge time.Duration, now time.Time) SweepResult {
	var res SweepResult
	if maxAge <= 0 {
		return res
	}
	entries, err := Scan(cacheRoot)
	if err != nil {
		logging.LogEvictionFileError(cacheRoot, err)
		return res
	}
	cutoff := now.Add(-maxAge)
	for _, e := range entries {
		if !e.ModTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(e.Path); err != nil {
			logging.LogEvictionFileError(e.Path, err)
			continue
		}
		res.Deleted++
		res.FreedBytes += e.SizeBytes
	}
	return res
}

// EvictBySize trims the cache tree when its total size exceeds maxSizeBytes,
// deleting oldest-modification-time-first until the total falls to the 80%
// target. Equal mtimes break ties by path so one run is deterministic. A
// maxSizeBytes of zero disables size eviction.
func EvictBySize(cacheRoot string, maxSizeBytes int64) SweepResult {
	var res SweepResult
	if maxSizeBytes <= 0 {
		return res
	}
	entries, err := Scan(cacheRoot)
	if err != nil {
		logging.LogEvictionFileError(cacheRoot, err)
		return res
	}
	var total int64
	for _, e := range entries {
		total += e.SizeBytes
	}
	if total <= maxSizeBytes {
		return res
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].ModTime.Before(entries[j].ModTime)
	})

	target := int64(float64(maxSizeBytes) * sizeEvictionTarget)
	for _, e := range entries {
		if total <= target {
			break
		}
		if err := os.Remove(e.Path); err != nil {
			logging.LogEvictionFileError(e.Path, err)
			continue
		}
		total -= e.SizeBytes
		res.Deleted++
		res.FreedBytes += e.SizeBytes
	}
	return res
}
