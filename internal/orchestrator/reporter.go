package orchestrator

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

const (
	barSegments = 10
	barFilled   = "█"
	barEmpty    = "░"

	// Throttle thresholds. A frame is emitted only when both the percent
	// delta and the elapsed time since the last emitted frame clear these,
	// except for forced frames (start, item boundary, terminal).
	minPercentDelta = 2.0
	minInterval     = 2 * time.Second
	// Playlists emit at most one frame per item every playlistInterval.
	playlistInterval = 3 * time.Second

	frameBuffer = 16
)

// Frame is one progress update pushed to subscribers.
type Frame struct {
	RequestID string  `json:"request_id"`
	Requester string  `json:"requester"`
	State     State   `json:"state"`
	Percent   float64 `json:"percent"` // -1 when unknown
	Bar       string  `json:"bar"`
	Eta       string  `json:"eta"`
	ItemIndex int     `json:"item_index,omitempty"` // 1-based, playlists only
	ItemCount int     `json:"item_count,omitempty"`
	Text      string  `json:"text"`
}

type frameMark struct {
	percent float64
	at      time.Time
	item    int
}

// Reporter throttles progress updates and fans them out to subscribers.
// Slow subscribers drop frames instead of blocking the download path.
type Reporter struct {
	mu    sync.Mutex
	subs  map[chan Frame]struct{}
	marks map[string]frameMark
	now   func() time.Time
}

func NewReporter() *Reporter {
	return &Reporter{
		subs:  make(map[chan Frame]struct{}),
		marks: make(map[string]frameMark),
		now:   time.Now,
	}
}

// Subscribe registers a new frame receiver. The returned cancel function
// unregisters it and closes the channel.
func (r *Reporter) Subscribe() (<-chan Frame, func()) {
	ch := make(chan Frame, frameBuffer)
	r.mu.Lock()
	r.subs[ch] = struct{}{}
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ch)
			r.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish emits a frame if it clears the throttle, or unconditionally when
// force is set. Returns whether the frame was emitted.
func (r *Reporter) Publish(f Frame, force bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	mark, seen := r.marks[f.RequestID]
	if !force && seen {
		if f.ItemCount > 1 {
			// Playlist: emit on item boundary or per-item interval.
			if f.ItemIndex == mark.item && now.Sub(mark.at) < playlistInterval {
				return false
			}
		} else {
			if f.Percent-mark.percent < minPercentDelta || now.Sub(mark.at) < minInterval {
				return false
			}
		}
	}
	r.marks[f.RequestID] = frameMark{percent: f.Percent, at: now, item: f.ItemIndex}

	if f.Bar == "" {
		f.Bar = RenderBar(f.Percent)
	}
	if f.Text == "" {
		f.Text = renderText(f)
	}
	for ch := range r.subs {
		select {
		case ch <- f:
		default:
			// subscriber backlogged, drop
		}
	}
	return true
}

// Forget clears the throttle mark for a finished request.
func (r *Reporter) Forget(requestID string) {
	r.mu.Lock()
	delete(r.marks, requestID)
	r.mu.Unlock()
}

// RenderBar draws a fixed-width progress bar. Unknown progress (negative
// percent) renders fully empty.
func RenderBar(percent float64) string {
	filled := 0
	if percent > 0 {
		filled = int(percent / (100.0 / barSegments))
	}
	if filled > barSegments {
		filled = barSegments
	}
	return strings.Repeat(barFilled, filled) + strings.Repeat(barEmpty, barSegments-filled)
}

func renderText(f Frame) string {
	pct := "?"
	if f.Percent >= 0 {
		pct = fmt.Sprintf("%.1f%%", f.Percent)
	}
	eta := f.Eta
	if eta == "" {
		eta = "?"
	}
	if f.ItemCount > 1 {
		return fmt.Sprintf("[%s] %s (item %d/%d) ETA %s", f.Bar, pct, f.ItemIndex, f.ItemCount, eta)
	}
	return fmt.Sprintf("[%s] %s ETA %s", f.Bar, pct, eta)
}

// FormatEta renders an ETA in seconds for display. Non-positive values are
// shown as unknown.
func FormatEta(sec float64) string {
	if sec <= 0 {
		return "?"
	}
	d := time.Duration(sec) * time.Second
	if d >= time.Hour {
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	}
	if d >= time.Minute {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%ds", int(d.Seconds()))
}
