package orchestrator

import (
	"strings"
	"testing"
	"time"
)

// fakeClock drives the reporter's throttle deterministically.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestReporter() (*Reporter, *fakeClock) {
	clk := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	r := NewReporter()
	r.now = clk.now
	return r, clk
}

func frame(id string, pct float64) Frame {
	return Frame{RequestID: id, Requester: "u", State: StateDownloading, Percent: pct}
}

func TestPublishThrottle(t *testing.T) {
	r, clk := newTestReporter()

	if !r.Publish(frame("r1", 0), true) {
		t.Fatal("forced first frame should emit")
	}

	// Enough percent, not enough time.
	clk.advance(time.Second)
	if r.Publish(frame("r1", 10), false) {
		t.Error("frame within 2s should be suppressed")
	}

	// Enough time, not enough percent.
	clk.advance(3 * time.Second)
	if r.Publish(frame("r1", 1), false) {
		t.Error("frame under 2 percent delta should be suppressed")
	}

	// Both thresholds cleared.
	if !r.Publish(frame("r1", 10), false) {
		t.Error("frame clearing both thresholds should emit")
	}

	// Force bypasses the throttle entirely.
	if !r.Publish(frame("r1", 10.1), true) {
		t.Error("forced frame should always emit")
	}
}

func TestPublishThrottlePerRequest(t *testing.T) {
	r, _ := newTestReporter()

	if !r.Publish(frame("r1", 50), false) {
		t.Error("first frame for r1 should emit")
	}
	if !r.Publish(frame("r2", 50), false) {
		t.Error("first frame for r2 should emit despite r1's mark")
	}
}

func TestPublishPlaylistItemBoundary(t *testing.T) {
	r, clk := newTestReporter()

	f := frame("r1", 10)
	f.ItemIndex = 1
	f.ItemCount = 5
	if !r.Publish(f, false) {
		t.Fatal("first playlist frame should emit")
	}

	// Same item within the per-item interval: suppressed.
	clk.advance(time.Second)
	f.Percent = 90
	if r.Publish(f, false) {
		t.Error("same-item frame within interval should be suppressed")
	}

	// New item: emits regardless of elapsed time.
	f.ItemIndex = 2
	f.Percent = 0
	if !r.Publish(f, false) {
		t.Error("item boundary frame should emit")
	}
}

func TestForgetResetsThrottle(t *testing.T) {
	r, _ := newTestReporter()

	r.Publish(frame("r1", 50), false)
	r.Forget("r1")
	if !r.Publish(frame("r1", 50), false) {
		t.Error("frame after Forget should emit like a first frame")
	}
}

func TestSubscribeReceivesFrames(t *testing.T) {
	r, _ := newTestReporter()
	ch, cancel := r.Subscribe()
	defer cancel()

	r.Publish(frame("r1", 42), true)
	select {
	case f := <-ch:
		if f.Percent != 42 || f.Bar == "" || f.Text == "" {
			t.Errorf("frame not fully rendered: %+v", f)
		}
	default:
		t.Fatal("subscriber received no frame")
	}
}

func TestSubscribeBackloggedDrops(t *testing.T) {
	r, _ := newTestReporter()
	ch, cancel := r.Subscribe()
	defer cancel()

	for i := 0; i <= frameBuffer+3; i++ {
		r.Publish(frame("r1", float64(i)), true)
	}
	if n := len(ch); n != frameBuffer {
		t.Errorf("buffered frames = %d, want %d (overflow dropped)", n, frameBuffer)
	}
}

func TestRenderBar(t *testing.T) {
	tests := []struct {
		percent float64
		filled  int
	}{
		{-1, 0},
		{0, 0},
		{9, 0},
		{10, 1},
		{40, 4},
		{95, 9},
		{100, 10},
		{150, 10},
	}
	for _, tt := range tests {
		bar := RenderBar(tt.percent)
		if got := strings.Count(bar, barFilled); got != tt.filled {
			t.Errorf("RenderBar(%v) filled = %d, want %d (%q)", tt.percent, got, tt.filled, bar)
		}
		if strings.Count(bar, barFilled)+strings.Count(bar, barEmpty) != barSegments {
			t.Errorf("RenderBar(%v) width wrong: %q", tt.percent, bar)
		}
	}
}

func TestRenderText(t *testing.T) {
	f := Frame{Percent: 40, Bar: RenderBar(40), Eta: "35s"}
	if got := renderText(f); got != "[████░░░░░░] 40.0% ETA 35s" {
		t.Errorf("renderText = %q", got)
	}

	unknown := Frame{Percent: -1, Bar: RenderBar(-1)}
	if got := renderText(unknown); !strings.Contains(got, "?") {
		t.Errorf("unknown progress should render ?: %q", got)
	}

	item := Frame{Percent: 50, Bar: RenderBar(50), ItemIndex: 2, ItemCount: 5, Eta: "1m2s"}
	if got := renderText(item); !strings.Contains(got, "item 2/5") {
		t.Errorf("playlist text missing item counter: %q", got)
	}
}

func TestFormatEta(t *testing.T) {
	tests := []struct {
		sec  float64
		want string
	}{
		{-1, "?"},
		{0, "?"},
		{42, "42s"},
		{90, "1m30s"},
		{3720, "1h2m"},
	}
	for _, tt := range tests {
		if got := FormatEta(tt.sec); got != tt.want {
			t.Errorf("FormatEta(%v) = %q, want %q", tt.sec, got, tt.want)
		}
	}
}
