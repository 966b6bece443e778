package download

import (
	"strings"
)

// ProgressEvent is one progress chunk reported by the extraction tool.
// Transient: produced by the worker, consumed by the reporter, never stored.
type ProgressEvent struct {
	DownloadedBytes float64
	TotalBytes      float64
	EtaSeconds      float64 // negative when unknown
	Status          string
}

// Percent computes the completion percentage, clamped to [0,100]. Returns
// -1 when the total is unknown.
func (e ProgressEvent) Percent() float64 {
	if e.TotalBytes <= 0 {
		return -1
	}
	p := e.DownloadedBytes / e.TotalBytes * 100.0
	if p > 100 {
		p = 100
	} else if p < 0 {
		p = 0
	}
	return p
}

// progressPrefix marks lines emitted by our yt-dlp progress template so the
// scanner can ignore everything else the tool prints.
const progressPrefix = "mediacache-"

// progressTemplate is passed to yt-dlp --progress-template. Fields are
// joined with dashes; absent fields print as "NA" and parse to -1.
const progressTemplate = "download:" + progressPrefix +
	"%(progress.downloaded_bytes)s-%(progress.total_bytes)s-%(progress.total_bytes_estimate)s-%(progress.eta)s"

// parseProgressLine decodes one templated progress line. The boolean is
// false for lines that are not ours or are malformed.
func parseProgressLine(line string) (ProgressEvent, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, progressPrefix) {
		return ProgressEvent{}, false
	}
	parts := strings.Split(line, "-")
	if len(parts) < 5 {
		return ProgressEvent{}, false
	}
	// parts[0] = "mediacache"
	downloaded := parseFloat64(parts[1])
	total := parseFloat64(parts[2])
	estimate := parseFloat64(parts[3])
	eta := parseFloat64(parts[4])

	if total <= 0 && estimate > 0 {
		total = estimate
	}
	if downloaded < 0 {
		return ProgressEvent{}, false
	}
	return ProgressEvent{
		DownloadedBytes: downloaded,
		TotalBytes:      total,
		EtaSeconds:      eta,
		Status:          "downloading",
	}, true
}

// parseFloat64 parses a simple decimal number, returning -1 on error.
func parseFloat64(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return -1
	}
	var whole int64
	var frac int64
	var fracPow float64 = 1
	neg := false
	i := 0
	if s[0] == '-' {
		neg = true
		i = 1
	}
	dotSeen := false
	for ; i < len(s); i++ {
		c := s[i]
		if c == '.' && !dotSeen {
			dotSeen = true
			continue
		}
		if c < '0' || c > '9' {
			return -1
		}
		d := int64(c - '0')
		if !dotSeen {
			whole = whole*10 + d
		} else {
			frac = frac*10 + d
			fracPow *= 10
		}
	}
	val := float64(whole)
	if fracPow > 1 {
		val += float64(frac) / fracPow
	}
	if neg {
		val = -val
	}
	return val
}

// scanCRorLF is like bufio.ScanLines but treats a bare '\r' as a line
// terminator as well. It also handles CRLF and strips a trailing CR.
// yt-dlp often rewrites progress on the same line using carriage returns.
func scanCRorLF(data []byte, atEOF bool) (advance int, token []byte, err error) {
	// If at EOF and no data, return no token
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	// Search for newline or carriage return
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' {
			// Return the line without the trailing CR, if present
			line := data[:i]
			if i > 0 && data[i-1] == '\r' {
				line = data[:i-1]
			}
			return i + 1, line, nil
		}
		if data[i] == '\r' {
			// If CRLF, consume both; else just CR
			if i+1 < len(data) && data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
	}
	// If at EOF, return the remaining data.
	if atEOF {
		// Drop a trailing CR, if any
		if len(data) > 0 && data[len(data)-1] == '\r' {
			return len(data), data[:len(data)-1], nil
		}
		return len(data), data, nil
	}
	// Request more data.
	return 0, nil, nil
}
