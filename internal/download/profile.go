package download

import "fmt"

// Profile is an enumerated quality selector governing format selection.
type Profile string

const (
	// ProfileBest requests the best available streams, merged.
	ProfileBest Profile = "best"
	// Capped-resolution variants.
	Profile1080 Profile = "1080"
	Profile720  Profile = "720"
	Profile480  Profile = "480"
	Profile360  Profile = "360"
	// ProfileAudio extracts the best audio stream as mp3.
	ProfileAudio Profile = "audio"
)

// ParseProfile validates a raw profile string.
func ParseProfile(s string) (Profile, error) {
	switch Profile(s) {
	case ProfileBest, Profile1080, Profile720, Profile480, Profile360, ProfileAudio:
		return Profile(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProfile, s)
}

// IsAudio reports whether the profile is the audio-only extraction.
func (p Profile) IsAudio() bool { return p == ProfileAudio }

// Extension returns the container extension artifacts of this profile use.
func (p Profile) Extension() string {
	if p.IsAudio() {
		return "mp3"
	}
	return "mp4"
}

// FormatSelector returns the yt-dlp -f selector for the profile.
func (p Profile) FormatSelector() string {
	switch p {
	case ProfileAudio:
		return "bestaudio/best"
	case ProfileBest:
		return "bestvideo*+bestaudio/best"
	default:
		// Capped resolution: prefer merged streams no taller than the cap,
		// falling back to the best pre-merged format under it.
		return fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", string(p), string(p))
	}
}
