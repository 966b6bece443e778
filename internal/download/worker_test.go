package download

import (
	"slices"
	"strings"
	"testing"
)

func TestParseProfile(t *testing.T) {
	valid := []string{"best", "1080", "720", "480", "360", "audio"}
	for _, s := range valid {
		p, err := ParseProfile(s)
		if err != nil {
			t.Errorf("ParseProfile(%q): %v", s, err)
		}
		if string(p) != s {
			t.Errorf("ParseProfile(%q) = %q", s, p)
		}
	}

	for _, s := range []string{"", "4k", "AUDIO", "720p"} {
		if _, err := ParseProfile(s); err == nil {
			t.Errorf("ParseProfile(%q): expected error", s)
		}
	}
}

func TestProfile_Extension(t *testing.T) {
	if ProfileAudio.Extension() != "mp3" {
		t.Errorf("audio extension = %s", ProfileAudio.Extension())
	}
	for _, p := range []Profile{ProfileBest, Profile720, Profile1080} {
		if p.Extension() != "mp4" {
			t.Errorf("%s extension = %s", p, p.Extension())
		}
	}
}

func TestProfile_FormatSelector(t *testing.T) {
	if got := Profile720.FormatSelector(); got != "bestvideo[height<=720]+bestaudio/best[height<=720]" {
		t.Errorf("720 selector = %q", got)
	}
	if got := ProfileBest.FormatSelector(); got != "bestvideo*+bestaudio/best" {
		t.Errorf("best selector = %q", got)
	}
	if got := ProfileAudio.FormatSelector(); got != "bestaudio/best" {
		t.Errorf("audio selector = %q", got)
	}
}

func TestBuildArgs_Video(t *testing.T) {
	w := NewWorker("")
	req := FetchRequest{
		ID:      "r1",
		URL:     "https://example.com/v1",
		Profile: Profile720,
		OutPath: "/tmp/key.mp4",
	}
	args := w.buildArgs(req)

	if !slices.Contains(args, "--no-playlist") {
		t.Error("expected --no-playlist")
	}
	if !slices.Contains(args, "--merge-output-format") {
		t.Error("expected merge container flag for video")
	}
	if i := slices.Index(args, "-o"); i < 0 || args[i+1] != "/tmp/key.mp4" {
		t.Errorf("expected -o /tmp/key.mp4, args=%v", args)
	}
	if args[len(args)-1] != req.URL {
		t.Errorf("expected URL last, got %s", args[len(args)-1])
	}
	if slices.Contains(args, "--cookies") {
		t.Error("no cookies flag expected without a cookies file")
	}
}

func TestBuildArgs_AudioStripsExtension(t *testing.T) {
	w := NewWorker("/etc/cookies.txt")
	req := FetchRequest{
		ID:      "r1",
		URL:     "https://example.com/v1",
		Profile: ProfileAudio,
		OutPath: "/tmp/key.mp3",
	}
	args := w.buildArgs(req)

	if i := slices.Index(args, "-o"); i < 0 || args[i+1] != "/tmp/key" {
		t.Errorf("expected extension-less output template, args=%v", args)
	}
	if !slices.Contains(args, "-x") {
		t.Error("expected audio extraction flag")
	}
	if i := slices.Index(args, "--audio-quality"); i < 0 || args[i+1] != "320K" {
		t.Error("expected 320K audio quality")
	}
	if i := slices.Index(args, "--cookies"); i < 0 || args[i+1] != "/etc/cookies.txt" {
		t.Error("expected cookies flag")
	}
}

func TestTailString(t *testing.T) {
	if got := tailString("hello world", 5); got != "world" {
		t.Errorf("tailString = %q", got)
	}
	if got := tailString("short", 100); got != "short" {
		t.Errorf("tailString = %q", got)
	}
	if got := tailString("anything", 0); got != "" {
		t.Errorf("tailString with n=0 = %q", got)
	}
}

func TestInfoFromMap(t *testing.T) {
	m := map[string]any{
		"title":       "Song",
		"uploader":    "Channel",
		"duration":    float64(212),
		"description": "desc",
		"webpage_url": "https://example.com/canonical",
		"track":       "Song Title",
		"artist":      "Band",
		"view_count":  float64(1000),
	}
	info := infoFromMap(m, "https://example.com/raw")

	if info.Title != "Song" || info.Uploader != "Channel" {
		t.Errorf("unexpected info: %+v", info)
	}
	if info.DurationSec != 212 {
		t.Errorf("duration = %d", info.DurationSec)
	}
	if info.WebpageURL != "https://example.com/canonical" {
		t.Errorf("webpage url = %s", info.WebpageURL)
	}
	if info.Track != "Song Title" || info.Artist != "Band" {
		t.Errorf("music fields: %+v", info)
	}
	if info.IsPlaylist() {
		t.Error("single item must not be a playlist")
	}
}

func TestInfoFromMap_Fallbacks(t *testing.T) {
	info := infoFromMap(map[string]any{}, "https://example.com/raw")
	if info.Title != "https://example.com/raw" {
		t.Errorf("expected URL title fallback, got %q", info.Title)
	}
	if info.WebpageURL != "https://example.com/raw" {
		t.Errorf("expected URL webpage fallback, got %q", info.WebpageURL)
	}
}

func TestInfoFromMap_PlaylistEntries(t *testing.T) {
	m := map[string]any{
		"title": "My Mix",
		"entries": []any{
			map[string]any{"webpage_url": "https://example.com/e1", "title": "One"},
			map[string]any{"url": "https://example.com/e2"},
			map[string]any{"title": "no url, skipped"},
			"not a map",
		},
	}
	info := infoFromMap(m, "https://example.com/mix")

	if !info.IsPlaylist() {
		t.Fatal("expected playlist")
	}
	if len(info.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(info.Entries))
	}
	if info.Entries[0].URL != "https://example.com/e1" || info.Entries[0].Title != "One" {
		t.Errorf("entry 0: %+v", info.Entries[0])
	}
	if info.Entries[1].URL != "https://example.com/e2" {
		t.Errorf("entry 1: %+v", info.Entries[1])
	}
}

func TestMetadataPairs(t *testing.T) {
	meta := MediaInfo{
		Title:       "T",
		Uploader:    "U",
		Description: strings.Repeat("x", 500),
		WebpageURL:  "https://example.com/v",
		Track:       "Tr",
		Artist:      "Ar",
	}

	video := metadataPairs(meta, false)
	if slices.Contains(video, "track=Tr") {
		t.Error("track tag must be audio-only")
	}
	if !slices.Contains(video, "title=T") || !slices.Contains(video, "artist=U") {
		t.Errorf("missing base tags: %v", video)
	}

	audio := metadataPairs(meta, true)
	if !slices.Contains(audio, "track=Tr") {
		t.Error("expected track tag for audio")
	}
	if !slices.Contains(audio, "artist=Ar") {
		t.Error("expected artist override for music sources")
	}

	// Description tag must be truncated.
	for _, kv := range audio {
		if strings.HasPrefix(kv, "comment=") && len([]rune(kv)) > 300 {
			t.Errorf("description not truncated: %d runes", len([]rune(kv)))
		}
	}

	empty := metadataPairs(MediaInfo{}, false)
	if len(empty) != 0 {
		t.Errorf("expected no tags for empty metadata, got %v", empty)
	}
}

func TestTruncateWithEllipsis(t *testing.T) {
	if got := TruncateWithEllipsis("hello", 10); got != "hello" {
		t.Errorf("short string changed: %q", got)
	}
	if got := TruncateWithEllipsis("hello", 3); got != "hel…" {
		t.Errorf("truncated = %q", got)
	}
	if got := TruncateWithEllipsis("hello", 0); got != "" {
		t.Errorf("zero max = %q", got)
	}
}
