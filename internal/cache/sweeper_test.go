package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSweeper_Due(t *testing.T) {
	s := NewSweeper(t.TempDir(), t.TempDir(), 0, 0, 3)

	day1 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return day1 }
	s.lastSweepDay = day1.Day()

	// Same day, wrong hour.
	if s.due() {
		t.Error("sweep must not be due on the day it already ran")
	}

	// Next day but outside the maintenance hour.
	s.now = func() time.Time { return time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC) }
	if s.due() {
		t.Error("sweep must not be due outside the maintenance hour")
	}

	// Next day inside the maintenance hour.
	s.now = func() time.Time { return time.Date(2024, 5, 2, 3, 15, 0, 0, time.UTC) }
	if !s.due() {
		t.Error("sweep should be due on a new day during the maintenance hour")
	}
}

func TestSweeper_SweepCombinesAgeAndSize(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	writeEntry(t, root, "aa111.mp4", 600, now.Add(-10*24*time.Hour)) // too old
	writeEntry(t, root, "bb222.mp4", 600, now.Add(-2*time.Hour))
	writeEntry(t, root, "cc333.mp4", 600, now.Add(-1*time.Hour))

	// Age limit of 7 days removes the first entry; the remaining 1200 bytes
	// exceed the 1000-byte size limit, so the older survivor goes too.
	s := NewSweeper(root, t.TempDir(), 7*24*time.Hour, 1000, 3)
	res := s.Sweep()

	if res.Deleted != 2 {
		t.Fatalf("expected 2 deletions, got %d", res.Deleted)
	}
	entries, err := Scan(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 survivor, got %d", len(entries))
	}
	if filepath.Base(entries[0].Path) != "cc333.mp4" {
		t.Errorf("expected newest entry to survive, got %s", entries[0].Path)
	}
}

func TestSweepTmp(t *testing.T) {
	tmp := t.TempDir()
	now := time.Now()

	oldFile := filepath.Join(tmp, "stale.mp4")
	if err := os.WriteFile(oldFile, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	staleTime := now.Add(-2 * time.Hour)
	if err := os.Chtimes(oldFile, staleTime, staleTime); err != nil {
		t.Fatal(err)
	}

	freshFile := filepath.Join(tmp, "fresh.mp4")
	if err := os.WriteFile(freshFile, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}

	removed, err := SweepTmp(tmp, time.Hour, now)
	if err != nil {
		t.Fatalf("SweepTmp: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removal, got %d", removed)
	}
	if _, err := os.Stat(oldFile); !os.IsNotExist(err) {
		t.Error("expected stale temp file removed")
	}
	if _, err := os.Stat(freshFile); err != nil {
		t.Error("expected fresh temp file kept")
	}
}

func TestSweepTmp_MissingDir(t *testing.T) {
	if _, err := SweepTmp(filepath.Join(t.TempDir(), "nope"), time.Hour, time.Now()); err == nil {
		t.Error("expected error for missing tmp dir")
	}
}
