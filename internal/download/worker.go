package download

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"mediacache/internal/logging"
)

// Worker performs one end-to-end fetch per call: it invokes yt-dlp with a
// profile-derived format selector, writes to a caller-chosen temp path,
// forwards progress chunks, and polls the cancellation token on every chunk.
type Worker struct {
	cookiesFile string
}

// NewWorker creates a Worker. cookiesFile may be empty.
func NewWorker(cookiesFile string) *Worker {
	return &Worker{cookiesFile: cookiesFile}
}

// FetchRequest carries everything a single fetch needs.
type FetchRequest struct {
	ID      string
	URL     string
	Profile Profile
	// OutPath is the temp destination. For audio profiles the extension is
	// stripped from the template; yt-dlp's extractor appends ".mp3".
	OutPath  string
	Token    *CancelToken
	Progress func(ProgressEvent)
}

// CheckYTDLP ensures yt-dlp is in PATH and recent enough to support the
// progress template our parser relies on.
func CheckYTDLP() error {
	p, err := exec.LookPath("yt-dlp")
	if err != nil {
		return err
	}
	out, err := exec.Command(p, "--help").CombinedOutput()
	if err != nil {
		return fmt.Errorf("yt-dlp not runnable: %w", err)
	}
	if !strings.Contains(string(out), "--progress-template") {
		return fmt.Errorf("yt_dlp_outdated: missing --progress-template support")
	}
	return nil
}

// CheckFFmpeg ensures ffmpeg is in PATH for the post-processing stages.
func CheckFFmpeg() error {
	_, err := exec.LookPath("ffmpeg")
	return err
}

// Fetch blocks until the download completes, fails, or is cancelled.
// Returns ErrCancelled when the token was set, ErrEmptyArtifact when the
// tool exited cleanly but produced nothing, and a wrapped tool error
// otherwise.
func (w *Worker) Fetch(ctx context.Context, req FetchRequest) error {
	if err := CheckYTDLP(); err != nil {
		return fmt.Errorf("yt_dlp_not_found: %w", err)
	}

	args := w.buildArgs(req)
	logging.LogWorkerStart(req.ID, req.URL, req.Profile.FormatSelector(), req.OutPath)

	// The token cancels the subprocess context; the scan loop additionally
	// polls it per chunk so a set token is observed even while the tool is
	// between writes.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-req.Token.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	cmd := exec.CommandContext(runCtx, "yt-dlp", args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout: %w", err)
	}
	var stderrBuf, stdoutBuf bytes.Buffer

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}

	// Progress may appear on either stream; read both concurrently and tee
	// into buffers for diagnostics.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		w.scanProgress(req, cancel, bufio.NewScanner(io.TeeReader(stderr, &stderrBuf)))
	}()
	go func() {
		defer wg.Done()
		w.scanProgress(req, cancel, bufio.NewScanner(io.TeeReader(stdout, &stdoutBuf)))
	}()
	wg.Wait()

	waitErr := cmd.Wait()

	if req.Token.IsSet() {
		return ErrCancelled
	}
	if waitErr != nil {
		tail := tailString(stderrBuf.String(), 512)
		if tail != "" {
			return fmt.Errorf("yt-dlp: %w: %s", waitErr, tail)
		}
		return fmt.Errorf("yt-dlp: %w", waitErr)
	}

	// A clean exit with no bytes on disk is a failure, not a success.
	final := req.OutPath
	info, err := os.Stat(final)
	if err != nil || info.Size() == 0 {
		return ErrEmptyArtifact
	}
	return nil
}

// buildArgs constructs the yt-dlp argument list for the request's profile.
func (w *Worker) buildArgs(req FetchRequest) []string {
	args := []string{
		"--newline", "--no-color", "--no-playlist",
		"--progress-template", progressTemplate,
		"--quiet", "--no-warnings", "--progress",
	}
	if req.Profile.IsAudio() {
		// Output template without extension: the mp3 extractor appends it.
		tpl := strings.TrimSuffix(req.OutPath, ".mp3")
		args = append(args,
			"-f", req.Profile.FormatSelector(),
			"-x", "--audio-format", "mp3", "--audio-quality", "320K",
			"--embed-metadata", "--embed-thumbnail",
			"-o", tpl,
		)
	} else {
		args = append(args,
			"-f", req.Profile.FormatSelector(),
			"--merge-output-format", "mp4",
			"-o", req.OutPath,
		)
	}
	if w.cookiesFile != "" {
		args = append(args, "--cookies", w.cookiesFile)
	}
	args = append(args, req.URL)
	return args
}

// scanProgress forwards templated progress lines to the request's sink,
// polling the cancellation token on every chunk.
func (w *Worker) scanProgress(req FetchRequest, abort context.CancelFunc, sc *bufio.Scanner) {
	buf := make([]byte, 0, 64*1024)
	sc.Buffer(buf, 1024*1024)
	sc.Split(scanCRorLF)
	for sc.Scan() {
		if req.Token.IsSet() {
			abort()
			return
		}
		ev, ok := parseProgressLine(sc.Text())
		if !ok {
			continue
		}
		if req.Progress != nil {
			req.Progress(ev)
		}
	}
	if err := sc.Err(); err != nil {
		logging.LogProgressScanError(req.ID, err)
	}
}

// tailString returns the last at most n bytes from s (by rune boundary best-effort).
func tailString(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(s[len(s)-n:])
}
