package download

import (
	"bufio"
	"strings"
	"testing"
)

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		name     string
		line     string
		wantOK   bool
		wantDown float64
		wantTot  float64
		wantEta  float64
	}{
		{
			name:     "complete line",
			line:     "mediacache-1024-2048-NA-12",
			wantOK:   true,
			wantDown: 1024,
			wantTot:  2048,
			wantEta:  12,
		},
		{
			name:     "estimate fallback",
			line:     "mediacache-500-NA-1000-3",
			wantOK:   true,
			wantDown: 500,
			wantTot:  1000,
			wantEta:  3,
		},
		{
			name:     "fractional bytes",
			line:     "mediacache-10.5-100.0-NA-NA",
			wantOK:   true,
			wantDown: 10.5,
			wantTot:  100,
			wantEta:  -1,
		},
		{
			name:   "missing downloaded",
			line:   "mediacache-NA-100-NA-NA",
			wantOK: false,
		},
		{
			name:   "foreign output",
			line:   "[download] Destination: video.mp4",
			wantOK: false,
		},
		{
			name:   "truncated line",
			line:   "mediacache-100-200",
			wantOK: false,
		},
		{
			name:   "empty",
			line:   "",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := parseProgressLine(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if ev.DownloadedBytes != tt.wantDown {
				t.Errorf("downloaded = %f, want %f", ev.DownloadedBytes, tt.wantDown)
			}
			if ev.TotalBytes != tt.wantTot {
				t.Errorf("total = %f, want %f", ev.TotalBytes, tt.wantTot)
			}
			if ev.EtaSeconds != tt.wantEta {
				t.Errorf("eta = %f, want %f", ev.EtaSeconds, tt.wantEta)
			}
		})
	}
}

func TestProgressEvent_Percent(t *testing.T) {
	tests := []struct {
		name string
		ev   ProgressEvent
		want float64
	}{
		{"half", ProgressEvent{DownloadedBytes: 50, TotalBytes: 100}, 50},
		{"overflow clamps", ProgressEvent{DownloadedBytes: 150, TotalBytes: 100}, 100},
		{"unknown total", ProgressEvent{DownloadedBytes: 10, TotalBytes: 0}, -1},
		{"negative total", ProgressEvent{DownloadedBytes: 10, TotalBytes: -1}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ev.Percent(); got != tt.want {
				t.Errorf("Percent() = %f, want %f", got, tt.want)
			}
		})
	}
}

func TestParseFloat64(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"123", 123},
		{"12.5", 12.5},
		{"-3", -3},
		{"", -1},
		{"NA", -1},
		{"1.2.3", -1},
		{" 42 ", 42},
	}
	for _, tt := range tests {
		if got := parseFloat64(tt.in); got != tt.want {
			t.Errorf("parseFloat64(%q) = %f, want %f", tt.in, got, tt.want)
		}
	}
}

func TestScanCRorLF(t *testing.T) {
	input := "line1\nline2\rline3\r\nline4"
	sc := bufio.NewScanner(strings.NewReader(input))
	sc.Split(scanCRorLF)

	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	want := []string{"line1", "line2", "line3", "line4"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d: %v", len(want), len(lines), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}
