package cache

import (
	"context"
	"time"

	"mediacache/internal/logging"
)

// checkInterval is how often the sweeper wakes up to see whether the daily
// maintenance window has arrived.
const checkInterval = 5 * time.Minute

// Sweeper enforces the cache retention policy: one full sweep at startup,
// then one sweep per calendar day during the configured maintenance hour.
// If the process is down for that hour the sweep waits for the next day's
// window; staleness there is accepted.
type Sweeper struct {
	cacheRoot    string
	tmpRoot      string
	maxAge       time.Duration
	maxSizeBytes int64
	hour         int

	// now is injectable for tests.
	now func() time.Time

	lastSweepDay int
}

// NewSweeper creates a Sweeper for the given cache and temp roots.
func NewSweeper(cacheRoot, tmpRoot string, maxAge time.Duration, maxSizeBytes int64, maintenanceHour int) *Sweeper {
	return &Sweeper{
		cacheRoot:    cacheRoot,
		tmpRoot:      tmpRoot,
		maxAge:       maxAge,
		maxSizeBytes: maxSizeBytes,
		hour:         maintenanceHour,
		now:          time.Now,
	}
}

// Run blocks until ctx is cancelled, sweeping immediately and then on the
// daily schedule.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep()
	s.lastSweepDay = s.now().Day()

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.due() {
				s.Sweep()
				s.lastSweepDay = s.now().Day()
			}
			removed, err := SweepTmp(s.tmpRoot, TmpMaxAge, s.now())
			logging.LogTmpSweep(removed, err)
		}
	}
}

// due reports whether the daily maintenance window has arrived since the
// last sweep.
func (s *Sweeper) due() bool {
	now := s.now()
	return now.Day() != s.lastSweepDay && now.Hour() == s.hour
}

// Sweep runs one full retention pass: age eviction first, then size
// eviction over whatever remains.
func (s *Sweeper) Sweep() SweepResult {
	start := s.now()
	res := EvictByAge(s.cacheRoot, s.maxAge, start)
	bySize := EvictBySize(s.cacheRoot, s.maxSizeBytes)
	res.Deleted += bySize.Deleted
	res.FreedBytes += bySize.FreedBytes
	logging.LogEvictionSweep(res.Deleted, res.FreedBytes, time.Since(start))
	return res
}
