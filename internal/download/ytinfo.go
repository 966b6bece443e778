package download

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os/exec"
)

// MediaInfo is the sidecar metadata yt-dlp reports for a resource. Fields
// missing from the source stay zero.
type MediaInfo struct {
	Title       string
	Uploader    string
	Description string
	DurationSec int64
	ViewCount   int64
	LikeCount   int64
	UploadDate  string
	WebpageURL  string

	// Music-oriented sources supply these.
	Track  string
	Artist string

	// Entries is non-empty when the URL resolves to a collection.
	Entries []PlaylistEntry
}

// PlaylistEntry is one member of a resolved collection.
type PlaylistEntry struct {
	URL   string
	Title string
}

// IsPlaylist reports whether the probed resource is a collection.
func (m MediaInfo) IsPlaylist() bool { return len(m.Entries) > 0 }

// Probe runs `yt-dlp -J` against the URL without downloading and parses
// the descriptive metadata, including collection entries for playlists.
func Probe(url, cookiesFile string) (MediaInfo, error) {
	if err := CheckYTDLP(); err != nil {
		return MediaInfo{}, err
	}
	args := []string{"-J", "--quiet", "--no-warnings"}
	if cookiesFile != "" {
		args = append(args, "--cookies", cookiesFile)
	}
	args = append(args, url)

	cmd := exec.Command("yt-dlp", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		tail := tailString(stderr.String(), 256)
		if tail != "" {
			return MediaInfo{}, fmt.Errorf("probe: %w: %s", err, tail)
		}
		return MediaInfo{}, fmt.Errorf("probe: %w", err)
	}

	// Parse generically to allow missing fields.
	var m map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &m); err != nil {
		return MediaInfo{}, ErrNoMediaInfo
	}
	return infoFromMap(m, url), nil
}

func infoFromMap(m map[string]any, url string) MediaInfo {
	info := MediaInfo{
		Title:       stringField(m, "title"),
		Uploader:    stringField(m, "uploader"),
		Description: stringField(m, "description"),
		DurationSec: intField(m, "duration"),
		ViewCount:   intField(m, "view_count"),
		LikeCount:   intField(m, "like_count"),
		UploadDate:  stringField(m, "upload_date"),
		WebpageURL:  stringField(m, "webpage_url"),
		Track:       stringField(m, "track"),
		Artist:      stringField(m, "artist"),
	}
	if info.Title == "" {
		info.Title = url
	}
	if info.WebpageURL == "" {
		info.WebpageURL = url
	}
	if arr, ok := m["entries"].([]any); ok {
		for _, raw := range arr {
			em, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			entryURL := stringField(em, "webpage_url")
			if entryURL == "" {
				entryURL = stringField(em, "url")
			}
			if entryURL == "" {
				continue
			}
			info.Entries = append(info.Entries, PlaylistEntry{
				URL:   entryURL,
				Title: stringField(em, "title"),
			})
		}
	}
	return info
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intField(m map[string]any, key string) int64 {
	switch v := m[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	}
	return 0
}
