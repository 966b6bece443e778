package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mediacache/internal/cache"
	"mediacache/internal/config"
	"mediacache/internal/download"
	"mediacache/internal/logging"
	"mediacache/internal/ratelimit"
	"mediacache/internal/store"
)

var (
	ErrRateLimited  = errors.New("rate_limited")
	ErrBusy         = errors.New("request_in_flight")
	ErrQueueFull    = errors.New("queue_full")
	ErrShuttingDown = errors.New("shutting_down")
)

// HistoryStore receives terminal request outcomes. Implementations should
// be fast; the coordinator logs and continues on write errors.
type HistoryStore interface {
	RecordOutcome(ctx context.Context, rec store.Record) (int64, error)
}

// Fetcher runs a single media fetch. Satisfied by *download.Worker.
type Fetcher interface {
	Fetch(ctx context.Context, req download.FetchRequest) error
}

type task struct {
	id        string
	requester string
	url       string
	profile   download.Profile
	token     *download.CancelToken
}

// Options overrides external tool integration, mainly for tests.
type Options struct {
	Fetcher  Fetcher
	Probe    func(url, cookiesFile string) (download.MediaInfo, error)
	Optimize func(ctx context.Context, requestID, inPath, outPath string) download.StageResult
	Tag      func(ctx context.Context, requestID, inPath, outPath string, meta download.MediaInfo, audio bool) download.StageResult
	History  HistoryStore
	Now      func() time.Time
}

// Coordinator owns the request pipeline: a worker pool consumes submitted
// tasks from a bounded queue, and each task moves through probe, fetch,
// post-process, and cache commit.
type Coordinator struct {
	cfg *config.Config

	registry *Registry
	reporter *Reporter
	sessions *sessionSet
	flight   *flightGroup
	limiter  *ratelimit.Limiter

	fetcher  Fetcher
	probe    func(url, cookiesFile string) (download.MediaInfo, error)
	optimize func(ctx context.Context, requestID, inPath, outPath string) download.StageResult
	tag      func(ctx context.Context, requestID, inPath, outPath string, meta download.MediaInfo, audio bool) download.StageResult
	history  HistoryStore
	now      func() time.Time

	jobs    chan task
	wg      sync.WaitGroup
	closing atomic.Bool
}

func New(cfg *config.Config, opts Options) *Coordinator {
	c := &Coordinator{
		cfg:      cfg,
		registry: NewRegistry(cfg.QueueCap * 2),
		reporter: NewReporter(),
		sessions: newSessionSet(),
		flight:   newFlightGroup(),
		limiter:  ratelimit.New(0),
		fetcher:  opts.Fetcher,
		probe:    opts.Probe,
		optimize: opts.Optimize,
		tag:      opts.Tag,
		history:  opts.History,
		now:      opts.Now,
		jobs:     make(chan task, cfg.QueueCap),
	}
	if c.fetcher == nil {
		c.fetcher = download.NewWorker(cfg.CookiesFile)
	}
	if c.probe == nil {
		c.probe = download.Probe
	}
	if c.optimize == nil {
		c.optimize = download.Optimize
	}
	if c.tag == nil {
		c.tag = download.Tag
	}
	if c.now == nil {
		c.now = time.Now
	}
	for i := 0; i < cfg.Workers; i++ {
		c.wg.Add(1)
		go c.worker()
	}
	return c
}

// Reporter exposes the progress fan-out for subscribers.
func (c *Coordinator) Reporter() *Reporter { return c.reporter }

// StopAccepting rejects new submissions; in-flight work continues.
func (c *Coordinator) StopAccepting() {
	c.closing.Store(true)
}

// Shutdown drains the queue and waits for workers. Safe to call once.
func (c *Coordinator) Shutdown() {
	c.closing.Store(true)
	close(c.jobs)
	c.wg.Wait()
}

// Submit validates and enqueues a request, returning its assigned ID.
// Cache hits complete immediately without consuming the requester's
// cooldown or an active slot.
func (c *Coordinator) Submit(ctx context.Context, requester, rawURL, profileName string) (*Request, error) {
	if c.closing.Load() {
		return nil, ErrShuttingDown
	}
	profile, err := download.ParseProfile(profileName)
	if err != nil {
		return nil, err
	}
	id := uuid.NewString()
	logging.LogRequestReceived(id, requester, string(profile), rawURL)

	// Cache lookup first: serving a hit costs nothing, so it neither
	// consumes the cooldown nor needs a slot.
	key := cache.ComputeKey(rawURL, string(profile), profile.IsAudio())
	finalPath, err := cache.ResolvePath(c.cfg.AbsCacheRoot, key, profile.Extension())
	if err != nil {
		return nil, fmt.Errorf("resolve cache path: %w", err)
	}
	if ok, size, _ := cache.Exists(finalPath); ok {
		logging.LogCacheHit(id, key, finalPath, size)
		req, err := c.registry.Create(id, requester, rawURL, profile)
		if err != nil {
			return nil, err
		}
		_ = c.registry.SetResult(id, key, []string{finalPath}, size)
		_ = c.registry.Update(id, func(r *Request) {
			r.State = StateCached
			r.Progress = 100
		})
		c.recordOutcome(ctx, id, requester, rawURL, profile, key, StateCached, size, "")
		c.publishTerminal(id, requester, StateCached)
		req = c.registry.Get(id)
		return req, nil
	}

	cooldown := c.cfg.Cooldown()
	if !c.limiter.Allow(requester, cooldown) {
		logging.LogRateLimited(requester, cooldown)
		return nil, ErrRateLimited
	}
	token, ok := c.sessions.Acquire(requester)
	if !ok {
		return nil, ErrBusy
	}

	req, err := c.registry.Create(id, requester, rawURL, profile)
	if err != nil {
		c.sessions.Release(requester)
		return nil, err
	}
	select {
	case c.jobs <- task{id: id, requester: requester, url: rawURL, profile: profile, token: token}:
		return req, nil
	default:
		c.registry.Delete(id)
		c.sessions.Release(requester)
		return nil, ErrQueueFull
	}
}

// Cancel requests cooperative cancellation of the requester's active
// request. Returns true when something was in flight to cancel.
func (c *Coordinator) Cancel(requester string) bool {
	active := c.sessions.Cancel(requester)
	logging.LogCancel(requester, active)
	return active
}

// Status returns a copy of one request, or nil if unknown.
func (c *Coordinator) Status(id string) *Request {
	return c.registry.Get(id)
}

// List returns copies of all tracked requests.
func (c *Coordinator) List() []*Request {
	return c.registry.Snapshot("")
}

// CacheStats scans the cache tree for reporting.
func (c *Coordinator) CacheStats() (cache.Stats, error) {
	return cache.CollectStats(c.cfg.AbsCacheRoot)
}

func (c *Coordinator) worker() {
	defer c.wg.Done()
	for t := range c.jobs {
		c.process(t)
	}
}

func (c *Coordinator) process(t task) {
	ctx := context.Background()
	defer c.sessions.Release(t.requester)
	defer c.reporter.Forget(t.id)

	if t.token.IsSet() {
		c.finish(ctx, t, StateCancelled, "", 0, nil, "")
		return
	}

	_ = c.registry.SetState(t.id, StateProbing, "")
	info, err := c.probe(t.url, c.cfg.CookiesFile)
	if err != nil {
		c.finish(ctx, t, StateFailed, "", 0, nil, err.Error())
		return
	}
	if info.IsPlaylist() {
		c.processPlaylist(ctx, t, info)
		return
	}
	if max := int64(c.cfg.MaxDurationSeconds); max > 0 && info.DurationSec > max {
		c.finish(ctx, t, StateFailed, "", 0, nil, download.ErrDurationExceeded.Error())
		return
	}
	_ = c.registry.SetMeta(t.id, info.Title, info.DurationSec, 0)

	key := cache.ComputeKey(t.url, string(t.profile), t.profile.IsAudio())
	path, size, err := c.fetchOne(ctx, t, t.url, key, info, 0, 0)
	switch {
	case err == nil:
		c.finish(ctx, t, StateCompleted, key, size, []string{path}, "")
	case errors.Is(err, download.ErrCancelled):
		c.finish(ctx, t, StateCancelled, key, 0, nil, "")
	default:
		c.finish(ctx, t, StateFailed, key, 0, nil, err.Error())
	}
}

// processPlaylist fetches each entry in order, skipping failed entries so
// one broken item does not sink the batch.
func (c *Coordinator) processPlaylist(ctx context.Context, t task, info download.MediaInfo) {
	count := len(info.Entries)
	_ = c.registry.SetMeta(t.id, info.Title, 0, count)

	var paths []string
	var total int64
	var lastKey string
	for i, entry := range info.Entries {
		if t.token.IsSet() {
			c.finish(ctx, t, StateCancelled, lastKey, total, paths, "")
			return
		}
		entryInfo, err := c.probe(entry.URL, c.cfg.CookiesFile)
		if err != nil {
			continue
		}
		if max := int64(c.cfg.MaxDurationSeconds); max > 0 && entryInfo.DurationSec > max {
			continue
		}
		key := cache.ComputeKey(entry.URL, string(t.profile), t.profile.IsAudio())
		path, size, err := c.fetchOne(ctx, t, entry.URL, key, entryInfo, i+1, count)
		if err != nil {
			if errors.Is(err, download.ErrCancelled) {
				c.finish(ctx, t, StateCancelled, key, total, paths, "")
				return
			}
			continue
		}
		lastKey = key
		paths = append(paths, path)
		total += size
		_, _, _ = c.registry.SetProgress(t.id, float64(i+1)/float64(count)*100)
	}
	if len(paths) == 0 {
		c.finish(ctx, t, StateFailed, lastKey, 0, nil, "no playlist entries could be fetched")
		return
	}
	c.finish(ctx, t, StateCompleted, lastKey, total, paths, "")
}

// fetchOne resolves one media item to a cached artifact path. Concurrent
// requests for the same key share a single download.
func (c *Coordinator) fetchOne(ctx context.Context, t task, url, key string, info download.MediaInfo, itemIndex, itemCount int) (string, int64, error) {
	finalPath, err := cache.ResolvePath(c.cfg.AbsCacheRoot, key, t.profile.Extension())
	if err != nil {
		return "", 0, err
	}
	if ok, size, _ := cache.Exists(finalPath); ok {
		logging.LogCacheHit(t.id, key, finalPath, size)
		return finalPath, size, nil
	}
	path, size, err, _ := c.flight.Do(key, t.token.Done(), download.ErrCancelled, func() (string, int64, error) {
		return c.download(ctx, t, url, key, finalPath, info, itemIndex, itemCount)
	})
	return path, size, err
}

func (c *Coordinator) download(ctx context.Context, t task, url, key, finalPath string, info download.MediaInfo, itemIndex, itemCount int) (string, int64, error) {
	_ = c.registry.SetState(t.id, StateDownloading, "")
	c.publishFrame(t, StateDownloading, 0, "", itemIndex, itemCount, true)

	// Temp names derive from the key; single-flight guarantees at most one
	// concurrent execution per key, so they cannot collide.
	tmpPath := filepath.Join(c.cfg.AbsTmpRoot, key+"."+t.profile.Extension())
	defer removeIfExists(tmpPath)

	err := c.fetcher.Fetch(ctx, download.FetchRequest{
		ID:      t.id,
		URL:     url,
		Profile: t.profile,
		OutPath: tmpPath,
		Token:   t.token,
		Progress: func(ev download.ProgressEvent) {
			pct := ev.Percent()
			if pct >= 0 {
				_, _, _ = c.registry.SetProgress(t.id, pct)
			}
			c.publishFrame(t, StateDownloading, pct, FormatEta(ev.EtaSeconds), itemIndex, itemCount, false)
		},
	})
	if err != nil {
		return "", 0, err
	}

	_ = c.registry.SetState(t.id, StateProcessing, "")
	c.publishFrame(t, StateProcessing, 100, "", itemIndex, itemCount, true)

	staged := tmpPath
	if !t.profile.IsAudio() {
		optPath := filepath.Join(c.cfg.AbsTmpRoot, key+"_optimized."+t.profile.Extension())
		res := c.optimize(ctx, t.id, staged, optPath)
		staged = res.Path
		defer removeIfExists(optPath)
	}
	tagPath := filepath.Join(c.cfg.AbsTmpRoot, key+"_meta."+t.profile.Extension())
	res := c.tag(ctx, t.id, staged, tagPath, info, t.profile.IsAudio())
	staged = res.Path
	defer removeIfExists(tagPath)

	fi, err := os.Stat(staged)
	if err != nil || fi.Size() == 0 {
		return "", 0, download.ErrEmptyArtifact
	}
	if err := cache.Commit(staged, finalPath); err != nil {
		return "", 0, fmt.Errorf("commit artifact: %w", err)
	}
	logging.LogFinalize(t.id, key, finalPath, fi.Size())
	return finalPath, fi.Size(), nil
}

func (c *Coordinator) finish(ctx context.Context, t task, state State, key string, size int64, paths []string, errMsg string) {
	if paths != nil {
		_ = c.registry.SetResult(t.id, key, paths, size)
	}
	if state == StateCompleted {
		_, _, _ = c.registry.SetProgress(t.id, 100)
	}
	_ = c.registry.SetState(t.id, state, errMsg)
	logging.LogWorkerDone(t.id, string(state), errFromMsg(errMsg))
	c.recordOutcome(ctx, t.id, t.requester, t.url, t.profile, key, state, size, errMsg)
	c.publishTerminal(t.id, t.requester, state)
}

func (c *Coordinator) recordOutcome(ctx context.Context, id, requester, url string, profile download.Profile, key string, state State, size int64, errMsg string) {
	if c.history == nil {
		return
	}
	kind := "video"
	if profile.IsAudio() {
		kind = "audio"
	}
	var durationSec int64
	if req := c.registry.Get(id); req != nil {
		durationSec = req.DurationSec
	}
	_, err := c.history.RecordOutcome(ctx, store.Record{
		RequestID:   id,
		Requester:   requester,
		URL:         url,
		Profile:     string(profile),
		Kind:        kind,
		CacheKey:    key,
		Status:      string(state),
		SizeBytes:   size,
		DurationSec: durationSec,
		Error:       errMsg,
	})
	logging.LogHistoryWrite(id, err)
}

func (c *Coordinator) publishFrame(t task, state State, percent float64, eta string, itemIndex, itemCount int, force bool) {
	c.reporter.Publish(Frame{
		RequestID: t.id,
		Requester: t.requester,
		State:     state,
		Percent:   percent,
		Eta:       eta,
		ItemIndex: itemIndex,
		ItemCount: itemCount,
	}, force)
}

func (c *Coordinator) publishTerminal(id, requester string, state State) {
	pct := float64(100)
	if state == StateFailed || state == StateCancelled {
		pct = -1
	}
	c.reporter.Publish(Frame{
		RequestID: id,
		Requester: requester,
		State:     state,
		Percent:   pct,
	}, true)
}

func removeIfExists(path string) {
	if _, err := os.Stat(path); err == nil {
		_ = os.Remove(path)
	}
}

func errFromMsg(msg string) error {
	if msg == "" {
		return nil
	}
	return errors.New(msg)
}
