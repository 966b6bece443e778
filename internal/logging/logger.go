package logging

import (
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
)

var (
	// Logger is the global structured logger instance
	Logger *slog.Logger
)

// Init initializes the global structured logger
func Init(level slog.Level) {
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Format time as ISO8601
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	handler := slog.NewJSONHandler(os.Stdout, opts)
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// ParseLevel converts a string log level to slog.Level
func ParseLevel(level string) slog.Level {
	switch level {
	case "debug", "DEBUG":
		return slog.LevelDebug
	case "info", "INFO":
		return slog.LevelInfo
	case "warn", "WARN":
		return slog.LevelWarn
	case "error", "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RedactURL removes secrets from URL logs while retaining debugging value.
// It strips userinfo and masks query parameter values.
func RedactURL(rawURL string) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}

	parsed, err := url.Parse(rawURL)
	if err != nil || parsed == nil {
		return rawURL
	}

	parsed.User = nil

	if parsed.RawQuery != "" {
		query := parsed.Query()
		for key := range query {
			query.Set(key, "***")
		}
		parsed.RawQuery = query.Encode()
	}

	return parsed.String()
}

// Helper functions for common logging patterns

// LogRequestReceived logs an accepted download request.
func LogRequestReceived(requestID, requester, profile, rawURL string) {
	if Logger == nil {
		return
	}
	Logger.Info("request received",
		"event", "request_received",
		"request_id", requestID,
		"requester", requester,
		"profile", profile,
		"url", RedactURL(rawURL))
}

// LogCacheHit logs a request served directly from the cache tree.
func LogCacheHit(requestID, key, path string, sizeBytes int64) {
	if Logger == nil {
		return
	}
	Logger.Info("cache hit",
		"event", "cache_hit",
		"request_id", requestID,
		"key", key,
		"path", path,
		"size_bytes", sizeBytes)
}

// LogRateLimited logs a request rejected by the cooldown gate.
func LogRateLimited(requester string, cooldown time.Duration) {
	if Logger == nil {
		return
	}
	Logger.Info("request rate limited",
		"event", "rate_limited",
		"requester", requester,
		"cooldown", cooldown.String())
}

// LogWorkerStart logs the start of a fetch worker.
func LogWorkerStart(requestID, rawURL, format, output string) {
	if Logger == nil {
		return
	}
	Logger.Info("worker started",
		"event", "worker_start",
		"request_id", requestID,
		"url", RedactURL(rawURL),
		"format", format,
		"output", output)
}

// LogWorkerDone logs a terminal worker outcome.
func LogWorkerDone(requestID, outcome string, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error("worker finished",
			"event", "worker_done",
			"request_id", requestID,
			"outcome", outcome,
			"error", err)
		return
	}
	Logger.Info("worker finished",
		"event", "worker_done",
		"request_id", requestID,
		"outcome", outcome)
}

// LogPostProcess logs a post-processing stage result. Degraded stages are
// warnings: the request still succeeds with the earlier artifact.
func LogPostProcess(requestID, stage string, degraded bool, err error) {
	if Logger == nil {
		return
	}
	if degraded {
		Logger.Warn("post-processing degraded",
			"event", "postprocess_degraded",
			"request_id", requestID,
			"stage", stage,
			"error", err)
		return
	}
	Logger.Info("post-processing done",
		"event", "postprocess_done",
		"request_id", requestID,
		"stage", stage)
}

// LogFinalize logs the atomic move of an artifact into the cache tree.
func LogFinalize(requestID, key, path string, sizeBytes int64) {
	if Logger == nil {
		return
	}
	Logger.Info("artifact cached",
		"event", "finalize",
		"request_id", requestID,
		"key", key,
		"path", path,
		"size_bytes", sizeBytes)
}

// LogCancel logs a cancellation, either acknowledged or with nothing to cancel.
func LogCancel(requester string, active bool) {
	if Logger == nil {
		return
	}
	Logger.Info("cancel requested",
		"event", "cancel",
		"requester", requester,
		"active", active)
}

// LogEvictionSweep logs the result of one full eviction sweep.
func LogEvictionSweep(deletedCount int, freedBytes int64, took time.Duration) {
	if Logger == nil {
		return
	}
	Logger.Info("eviction sweep",
		"event", "eviction_sweep",
		"deleted", deletedCount,
		"freed_bytes", freedBytes,
		"took_ms", took.Milliseconds())
}

// LogEvictionFileError logs a per-file failure during a sweep. The sweep
// continues past these.
func LogEvictionFileError(path string, err error) {
	if Logger == nil {
		return
	}
	Logger.Warn("eviction file error",
		"event", "eviction_file_error",
		"path", path,
		"error", err)
}

// LogTmpSweep logs a temp-directory cleanup pass.
func LogTmpSweep(removed int, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Warn("tmp sweep error",
			"event", "tmp_sweep_error",
			"removed", removed,
			"error", err)
		return
	}
	if removed > 0 {
		Logger.Info("tmp sweep",
			"event", "tmp_sweep",
			"removed", removed)
	}
}

// LogHistoryWrite logs a history store write failure; writes are best-effort.
func LogHistoryWrite(requestID string, err error) {
	if Logger == nil || err == nil {
		return
	}
	Logger.Error("history write failed",
		"event", "history_write_error",
		"request_id", requestID,
		"error", err)
}

// LogProgressScanError logs progress scanning errors
func LogProgressScanError(id string, err error) {
	if Logger == nil {
		return
	}
	Logger.Warn("progress scan error",
		"event", "progress_scan_error",
		"request_id", id,
		"error", err)
}

// LogServerStart logs server startup
func LogServerStart(addr string, config map[string]any) {
	if Logger == nil {
		return
	}
	attrs := []any{
		"event", "server_start",
		"addr", addr,
	}
	for k, v := range config {
		attrs = append(attrs, k, v)
	}
	Logger.Info("server started", attrs...)
}

// LogServerShutdown logs server shutdown events
func LogServerShutdown(msg string, err error) {
	if Logger == nil {
		return
	}
	if err != nil {
		Logger.Error(msg,
			"event", "server_shutdown_error",
			"error", err)
		return
	}
	Logger.Info(msg,
		"event", "server_shutdown")
}
