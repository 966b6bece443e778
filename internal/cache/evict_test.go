package cache

import (
	"os"
	"testing"
	"time"
)

func TestEvictByAge(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	fresh := writeEntry(t, root, "aa111.mp4", 10, now.Add(-2*24*time.Hour))
	stale := writeEntry(t, root, "bb222.mp4", 20, now.Add(-8*24*time.Hour))

	res := EvictByAge(root, 7*24*time.Hour, now)

	if res.Deleted != 1 {
		t.Fatalf("expected 1 deletion, got %d", res.Deleted)
	}
	if res.FreedBytes != 20 {
		t.Errorf("expected 20 freed bytes, got %d", res.FreedBytes)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("expected 8-day-old entry removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Error("expected 2-day-old entry kept")
	}
}

func TestEvictByAge_Disabled(t *testing.T) {
	root := t.TempDir()
	writeEntry(t, root, "aa111.mp4", 10, time.Now().Add(-365*24*time.Hour))

	res := EvictByAge(root, 0, time.Now())
	if res.Deleted != 0 {
		t.Errorf("expected no deletions with maxAge=0, got %d", res.Deleted)
	}
}

func TestEvictBySize_OldestFirstToTarget(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	mb := 1024 * 1024

	// 1200MB total across entries of 400MB each, oldest first by mtime.
	// Scaled down 1000x to keep the test fast: 1200KB total, 1000KB limit,
	// 800KB target.
	oldest := writeEntry(t, root, "aa111.mp4", 400*mb/1000, now.Add(-3*time.Hour))
	middle := writeEntry(t, root, "bb222.mp4", 400*mb/1000, now.Add(-2*time.Hour))
	newest := writeEntry(t, root, "cc333.mp4", 400*mb/1000, now.Add(-1*time.Hour))

	limit := int64(1000 * mb / 1000)
	res := EvictBySize(root, limit)

	// 1200KB -> target 800KB: exactly one 400KB deletion suffices; it must
	// be the oldest and nothing more.
	if res.Deleted != 1 {
		t.Fatalf("expected exactly 1 deletion, got %d", res.Deleted)
	}
	if _, err := os.Stat(oldest); !os.IsNotExist(err) {
		t.Error("expected oldest entry evicted")
	}
	if _, err := os.Stat(middle); err != nil {
		t.Error("expected middle entry kept")
	}
	if _, err := os.Stat(newest); err != nil {
		t.Error("expected newest entry kept")
	}

	total, err := TotalSizeBytes(root)
	if err != nil {
		t.Fatal(err)
	}
	if total > int64(float64(limit)*sizeEvictionTarget) {
		t.Errorf("expected total <= 80%% of limit, got %d", total)
	}
}

func TestEvictBySize_UnderLimitNoop(t *testing.T) {
	root := t.TempDir()
	writeEntry(t, root, "aa111.mp4", 100, time.Now())

	res := EvictBySize(root, 1<<20)
	if res.Deleted != 0 {
		t.Errorf("expected no deletions under the limit, got %d", res.Deleted)
	}
}

func TestEvictBySize_TieBreakDeterministic(t *testing.T) {
	mtime := time.Now().Add(-time.Hour).Truncate(time.Second)

	// Two runs over identically-shaped trees must delete the same entry.
	var deletedFirst string
	for run := 0; run < 2; run++ {
		root := t.TempDir()
		a := writeEntry(t, root, "aa111.mp4", 600, mtime)
		b := writeEntry(t, root, "bb222.mp4", 600, mtime)

		EvictBySize(root, 1000)

		var gone string
		if _, err := os.Stat(a); os.IsNotExist(err) {
			gone = "aa111.mp4"
		}
		if _, err := os.Stat(b); os.IsNotExist(err) {
			if gone != "" {
				t.Fatal("expected only one entry deleted")
			}
			gone = "bb222.mp4"
		}
		if gone == "" {
			t.Fatal("expected one entry deleted")
		}
		if run == 0 {
			deletedFirst = gone
		} else if gone != deletedFirst {
			t.Errorf("tie-break not deterministic: %s vs %s", deletedFirst, gone)
		}
	}
}
