package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"mediacache/internal/logging"
)

const (
	// compressThresholdBytes is the delivery-channel size above which the
	// re-encode uses the heavier compression factor.
	compressThresholdBytes = 50 * 1024 * 1024

	crfLight = 23
	crfHeavy = 28

	// postProcessTimeout is the hard wall-clock limit for one ffmpeg stage;
	// on expiry the stage degrades to copy-through instead of hanging.
	postProcessTimeout = 5 * time.Minute

	// descriptionMaxRunes caps the embedded description tag.
	descriptionMaxRunes = 256
)

// StageResult is the outcome of one post-processing stage. Degraded means
// the stage fell back to the unprocessed input; the request still succeeds
// with Path.
type StageResult struct {
	Path     string
	Degraded bool
	Err      error
}

// Optimize re-encodes a video for delivery: x264 at CRF 28 when the input
// exceeds 50MB and CRF 23 otherwise, dimensions normalized to even values,
// aac audio, progressive-start container layout. On any ffmpeg failure or
// timeout the input is copied through unchanged and the result is marked
// degraded. The input file is never modified.
func Optimize(ctx context.Context, requestID, inPath, outPath string) StageResult {
	info, err := os.Stat(inPath)
	if err != nil {
		return StageResult{Path: inPath, Degraded: true, Err: err}
	}
	crf := crfLight
	if info.Size() > compressThresholdBytes {
		crf = crfHeavy
	}

	runCtx, cancel := context.WithTimeout(ctx, postProcessTimeout)
	defer cancel()

	args := []string{
		"-i", inPath,
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", strconv.Itoa(crf),
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-vf", "scale=trunc(iw/2)*2:trunc(ih/2)*2",
		"-y",
		outPath,
	}
	if err := runFFmpeg(runCtx, args); err != nil {
		logging.LogPostProcess(requestID, "optimize", true, err)
		if cpErr := copyFile(inPath, outPath); cpErr != nil {
			return StageResult{Path: inPath, Degraded: true, Err: cpErr}
		}
		return StageResult{Path: outPath, Degraded: true, Err: err}
	}
	logging.LogPostProcess(requestID, "optimize", false, nil)
	return StageResult{Path: outPath}
}

// Tag embeds descriptive metadata into the container by stream copy, no
// re-encode. On failure the untagged input is kept and the result is
// degraded; the original bytes are never lost.
func Tag(ctx context.Context, requestID, inPath, outPath string, meta MediaInfo, audio bool) StageResult {
	runCtx, cancel := context.WithTimeout(ctx, postProcessTimeout)
	defer cancel()

	args := []string{"-i", inPath, "-c", "copy"}
	for _, kv := range metadataPairs(meta, audio) {
		args = append(args, "-metadata", kv)
	}
	args = append(args, "-y", outPath)

	if err := runFFmpeg(runCtx, args); err != nil {
		logging.LogPostProcess(requestID, "tag", true, err)
		_ = os.Remove(outPath)
		return StageResult{Path: inPath, Degraded: true, Err: err}
	}
	logging.LogPostProcess(requestID, "tag", false, nil)
	return StageResult{Path: outPath}
}

// metadataPairs builds the key=value tag list from probed metadata,
// skipping empty fields.
func metadataPairs(meta MediaInfo, audio bool) []string {
	var pairs []string
	add := func(key, val string) {
		if val != "" {
			pairs = append(pairs, key+"="+val)
		}
	}
	add("title", meta.Title)
	add("artist", meta.Uploader)
	add("comment", TruncateWithEllipsis(meta.Description, descriptionMaxRunes))
	add("purl", meta.WebpageURL)
	if audio {
		// Music-centric sources carry dedicated track/artist fields that
		// supersede the uploader.
		add("track", meta.Track)
		if meta.Artist != "" {
			pairs = append(pairs, "artist="+meta.Artist)
		}
	}
	return pairs
}

func runFFmpeg(ctx context.Context, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("ffmpeg timeout: %w", ctx.Err())
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, tailString(string(out), 256))
	}
	return nil
}

// copyFile copies src to dst, truncating any existing dst.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// TruncateWithEllipsis truncates text to maxRunes and appends an ellipsis when needed.
func TruncateWithEllipsis(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "…"
}
