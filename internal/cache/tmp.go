package cache

import (
	"os"
	"path/filepath"
	"time"
)

// TmpMaxAge is how long intermediate artifacts may linger in the temp
// directory before the best-effort sweep removes them.
const TmpMaxAge = time.Hour

// SweepTmp removes regular files under tmpRoot older than maxAge. It
// returns the number of files removed and the first listing error, if any;
// individual remove failures are skipped.
func SweepTmp(tmpRoot string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(tmpRoot)
	if err != nil {
		return 0, err
	}
	removed := 0
	cutoff := now.Add(-maxAge)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(tmpRoot, e.Name())); err == nil {
			removed++
		}
	}
	return removed, nil
}
