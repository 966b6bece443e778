package download

import "errors"

var (
	// ErrCancelled indicates the requester cancelled the fetch mid-flight.
	// Distinct from failure: cleanup runs, but no error is surfaced beyond
	// the cancellation acknowledgment.
	ErrCancelled = errors.New("download_cancelled")

	// ErrEmptyArtifact indicates the tool exited successfully but produced
	// a zero-byte (or missing) output file.
	ErrEmptyArtifact = errors.New("empty_artifact")

	// ErrNoMediaInfo indicates metadata extraction produced no results
	ErrNoMediaInfo = errors.New("no_media_info")

	// ErrUnknownProfile indicates an unrecognized quality profile string.
	ErrUnknownProfile = errors.New("unknown_profile")

	// ErrDurationExceeded indicates the probed duration is over the
	// configured cap.
	ErrDurationExceeded = errors.New("duration_exceeded")
)
