package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"mediacache/internal/cache"
	"mediacache/internal/download"
	"mediacache/internal/orchestrator"
	"mediacache/internal/store"
)

type coordinator interface {
	Submit(ctx context.Context, requester, rawURL, profile string) (*orchestrator.Request, error)
	Cancel(requester string) bool
	Status(id string) *orchestrator.Request
	List() []*orchestrator.Request
	CacheStats() (cache.Stats, error)
	Reporter() *orchestrator.Reporter
}

type historyLister interface {
	ListRecent(ctx context.Context, limit int) ([]store.Record, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

type rateLimiter interface {
	Allow(key string) bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Progress frames carry no secrets and the API is origin-agnostic.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// New returns an http.Handler with routes and middleware wired.
// A nil history store disables the /api/history endpoint.
func New(coord coordinator, hist historyLister) http.Handler {
	rl := newIPRateLimiter(60, time.Minute) // 60 req/min/IP
	mux := http.NewServeMux()

	mux.HandleFunc("/api/request", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req struct {
			URL       string `json:"url"`
			Profile   string `json:"profile"`
			Requester string `json:"requester"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil || req.URL == "" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_request"})
			return
		}
		if !validURL(req.URL) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_url"})
			return
		}
		if req.Profile == "" {
			req.Profile = string(download.ProfileBest)
		}
		requester := req.Requester
		if requester == "" {
			requester = clientIP(r)
		}
		out, err := coord.Submit(r.Context(), requester, req.URL, req.Profile)
		if err != nil {
			code, msg := submitErrorStatus(err)
			writeJSON(w, code, map[string]any{"status": "error", "message": msg})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "request": out})
	}))

	mux.HandleFunc("/api/cancel", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		var req struct {
			Requester string `json:"requester"`
		}
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"status": "error", "message": "invalid_request"})
			return
		}
		requester := req.Requester
		if requester == "" {
			requester = clientIP(r)
		}
		cancelled := coord.Cancel(requester)
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "cancelled": cancelled})
	}))

	mux.HandleFunc("/api/status", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		if id := r.URL.Query().Get("id"); id != "" {
			req := coord.Status(id)
			if req == nil {
				writeJSON(w, http.StatusNotFound, map[string]any{"status": "error", "message": "not_found"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "success", "requests": []*orchestrator.Request{req}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "requests": coord.List()})
	}))

	mux.HandleFunc("/api/cache_stats", with(rl, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		stats, err := coord.CacheStats()
		if err != nil {
			log.Printf("cache stats: %v", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "internal_error"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "cache": stats})
	}))

	// Progress is a websocket feed of rendered frames; id= or requester=
	// narrow the stream to one request or one requester.
	mux.HandleFunc("/api/progress", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		serveProgress(coord.Reporter(), w, r)
	})

	if hist != nil {
		mux.HandleFunc("/api/history", with(rl, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				methodNotAllowed(w)
				return
			}
			limit := 0
			if raw := r.URL.Query().Get("limit"); raw != "" {
				if n, err := strconv.Atoi(raw); err == nil {
					limit = n
				}
			}
			recs, err := hist.ListRecent(r.Context(), limit)
			if err != nil {
				log.Printf("list history: %v", err)
				writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "internal_error"})
				return
			}
			counts, err := hist.CountByStatus(r.Context())
			if err != nil {
				log.Printf("count history: %v", err)
				counts = nil
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "success", "history": recs, "counts": counts})
		}))
	}

	// Healthcheck
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// Add minimal logging + recover
	return recoverer(logger(mux))
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

func serveProgress(rep *orchestrator.Reporter, w http.ResponseWriter, r *http.Request) {
	requester := r.URL.Query().Get("requester")
	requestID := r.URL.Query().Get("id")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}
	defer conn.Close()

	frames, unsubscribe := rep.Subscribe()
	defer unsubscribe()

	// Reader detects client close; its exit tears down the writer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return
			}
			if requester != "" && f.Requester != requester {
				continue
			}
			if requestID != "" && f.RequestID != requestID {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(f); err != nil {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func submitErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, orchestrator.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, orchestrator.ErrBusy):
		return http.StatusConflict, "request_in_flight"
	case errors.Is(err, orchestrator.ErrQueueFull):
		return http.StatusTooManyRequests, "queue_full"
	case errors.Is(err, orchestrator.ErrShuttingDown):
		return http.StatusServiceUnavailable, "shutting_down"
	case errors.Is(err, download.ErrUnknownProfile):
		return http.StatusBadRequest, "unknown_profile"
	}
	return http.StatusInternalServerError, "internal_error"
}

// Utilities

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"status": "error", "message": "method_not_allowed"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func validURL(u string) bool {
	if len(u) == 0 || len(u) > 2048 { // sanity cap
		return false
	}
	parsed, err := url.Parse(u)
	if err != nil || parsed == nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	if parsed.Host == "" {
		return false
	}
	return true
}

// Middleware

func with(rl rateLimiter, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.Allow(ip) {
			writeJSON(w, http.StatusTooManyRequests, map[string]any{"status": "error", "message": "rate_limited"})
			return
		}
		h(w, r)
	}
}

func logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		// The progress socket is long-lived; logging it per-request is noise.
		if r.URL.Path == "/api/progress" {
			return
		}
		log.Printf("%s %s %s %s", r.RemoteAddr, r.Method, r.URL.Path, time.Since(start))
	})
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				log.Printf("panic: %v", v)
				writeJSON(w, http.StatusInternalServerError, map[string]any{"status": "error", "message": "internal_error"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	// Respect common proxy headers, then fall back to RemoteAddr
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		return strings.TrimSpace(xr)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// Simple token bucket per IP with fixed refill interval and capacity.
// Stale buckets are dropped by a background cleanup so the map does not
// grow unbounded with one-off client IPs.
type ipRateLimiter struct {
	cap     int
	refill  time.Duration
	buckets map[string]*bucket
	// protect buckets
	mu sync.Mutex

	stopOnce sync.Once
	stopCh   chan struct{}
}

type bucket struct {
	tokens int
	last   time.Time
}

const bucketMaxIdle = 24 * time.Hour

func newIPRateLimiter(cap int, refill time.Duration) *ipRateLimiter {
	rl := &ipRateLimiter{
		cap:     cap,
		refill:  refill,
		buckets: make(map[string]*bucket),
		stopCh:  make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

func (rl *ipRateLimiter) cleanupLoop() {
	t := time.NewTicker(time.Hour)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			rl.cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

func (rl *ipRateLimiter) cleanup() {
	cutoff := time.Now().Add(-bucketMaxIdle)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, b := range rl.buckets {
		if b.last.Before(cutoff) {
			delete(rl.buckets, ip)
		}
	}
}

// Stop terminates the cleanup goroutine. Safe to call multiple times.
func (rl *ipRateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
}

func (rl *ipRateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := time.Now()
	b := rl.buckets[key]
	if b == nil {
		b = &bucket{tokens: rl.cap - 1, last: now}
		rl.buckets[key] = b
		return true
	}
	if d := now.Sub(b.last); d >= rl.refill {
		// reset once per interval
		b.tokens = rl.cap
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
