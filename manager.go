package audiocache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/semaphore"

	"github.com/steveroseik/just-audio-cache/internal/cachekey"
	"github.com/steveroseik/just-audio-cache/internal/fetch"
	"github.com/steveroseik/just-audio-cache/internal/index"
)

// ErrNoEngine is returned by playback operations on a Manager that was
// built without an engine (allowed for prefetch-only use, e.g. the CLI).
var ErrNoEngine = errors.New("audiocache: no playback engine configured")

// stalePartAge is how old a partial download file must be before
// ClearCache treats it as abandoned rather than in flight.
const stalePartAge = time.Hour

// Manager is the public face of the cache. It decides, per URL, whether
// the engine plays a cached file or a remote stream, and keeps the
// cache filled and consistent along the way.
//
// A single Manager is meant to be shared process-wide; every method is
// safe for concurrent use.
type Manager struct {
	engine   Engine
	idx      *index.Index
	fetcher  *fetch.Coordinator
	cacheDir string
	sem      *semaphore.Weighted
	logger   *log.Logger

	bg sync.WaitGroup
}

// NewManager builds a Manager around the given engine. engine may be
// nil for callers that only prefetch and manage the cache; playback
// methods then fail with ErrNoEngine. config may be nil for defaults.
func NewManager(engine Engine, config *Config) (*Manager, error) {
	cfg := Config{}
	if config != nil {
		cfg = *config
	}

	if cfg.CacheDir == "" {
		dir, err := DefaultCacheDir()
		if err != nil {
			return nil, err
		}
		cfg.CacheDir = dir
	}
	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	if cfg.Store == nil {
		store, err := index.NewFileStore(filepath.Join(cfg.CacheDir, "index.json"))
		if err != nil {
			return nil, err
		}
		cfg.Store = store
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.ResolveConcurrency <= 0 {
		cfg.ResolveConcurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}

	idx := index.New(cfg.Store)

	return &Manager{
		engine:   engine,
		idx:      idx,
		fetcher:  fetch.NewCoordinator(cfg.HTTPClient, idx, cfg.DownloadTimeout, cfg.Logger),
		cacheDir: cfg.CacheDir,
		sem:      semaphore.NewWeighted(cfg.ResolveConcurrency),
		logger:   cfg.Logger,
	}, nil
}

// Resolve starts playback of url, from the cache when possible. On a
// cache miss playback streams from the network immediately; when
// opts.AutoCache is set the bytes are downloaded in the background so
// the next Resolve plays offline. A nil opts means
// DefaultResolveOptions.
func (m *Manager) Resolve(ctx context.Context, url string, opts *ResolveOptions) (Resolution, error) {
	if m.engine == nil {
		return Resolution{}, ErrNoEngine
	}
	if opts == nil {
		opts = DefaultResolveOptions()
	}

	if opts.Exclude != nil && opts.Exclude(url) {
		m.logger.Debug("url excluded from caching", "url", url)
		return m.streamRemote(ctx, url)
	}

	key := cachekey.Derive(url)

	if opts.ForceRefresh {
		return m.refresh(ctx, url, key)
	}

	entry, ok, err := m.idx.Lookup(key)
	if err != nil {
		// A broken index must not break playback.
		m.logger.Warn("index lookup failed", "url", url, "err", err)
	}
	if ok {
		res, err := m.playLocal(ctx, url, entry.LocalPath)
		if err == nil {
			return res, nil
		}
		// Index hit but the file is gone or unplayable: cache
		// corruption. Drop the entry and stream instead.
		m.logger.Warn("cached file unusable, falling back to stream",
			"url", url, "path", entry.LocalPath, "err", err)
		m.evict(key, entry.LocalPath)
	}

	if opts.AutoCache {
		m.backgroundFetch(url, key)
	}
	return m.streamRemote(ctx, url)
}

// ResolveAll resolves every URL and returns one result per URL, in
// input order. A failing URL never aborts the rest. Work is capped at
// Config.ResolveConcurrency URLs at a time (default: one).
func (m *Manager) ResolveAll(ctx context.Context, urls []string, opts *ResolveOptions) []ResolveResult {
	results := make([]ResolveResult, len(urls))

	var wg sync.WaitGroup
	for i, url := range urls {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			results[i] = ResolveResult{URL: url, Err: err}
			continue
		}
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			defer m.sem.Release(1)
			res, err := m.Resolve(ctx, url, opts)
			results[i] = ResolveResult{URL: url, Resolution: res, Err: err}
		}(i, url)
	}
	wg.Wait()

	return results
}

// Prefetch downloads and commits url without starting playback. It
// returns the cached file's path once the entry is complete. A URL
// already cached with its file intact is a no-op.
func (m *Manager) Prefetch(ctx context.Context, url string) (string, error) {
	key := cachekey.Derive(url)

	if entry, ok, _ := m.idx.Lookup(key); ok {
		if _, err := os.Stat(entry.LocalPath); err == nil {
			return entry.LocalPath, nil
		}
		m.evict(key, entry.LocalPath)
	}

	entry, err := m.fetcher.Fetch(ctx, key, url, m.filePath(key))
	if err != nil {
		return "", fmt.Errorf("prefetch %s: %w", url, err)
	}
	return entry.LocalPath, nil
}

// CachedPath reports whether url is cached with its file present, and
// where. It never touches the network.
func (m *Manager) CachedPath(url string) (string, bool) {
	entry, ok, err := m.idx.Lookup(cachekey.Derive(url))
	if err != nil || !ok {
		return "", false
	}
	if _, err := os.Stat(entry.LocalPath); err != nil {
		return "", false
	}
	return entry.LocalPath, true
}

// Remove evicts url from the cache: its file is deleted and its index
// entry removed. Removing an uncached URL succeeds.
func (m *Manager) Remove(url string) error {
	key := cachekey.Derive(url)
	entry, ok, err := m.idx.Lookup(key)
	if err != nil {
		return err
	}
	if ok {
		if err := os.Remove(entry.LocalPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove cached file: %w", err)
		}
	}
	return m.idx.Remove(key)
}

// CachedFile describes one committed cache entry for listings.
type CachedFile struct {
	Key       string
	LocalPath string
	SizeBytes int64
	Missing   bool
}

// Entries lists every committed cache entry with its on-disk size.
// Entries whose file has gone missing are flagged, not dropped.
func (m *Manager) Entries() ([]CachedFile, error) {
	entries, err := m.idx.Entries()
	if err != nil {
		return nil, err
	}

	files := make([]CachedFile, 0, len(entries))
	for _, e := range entries {
		file := CachedFile{Key: e.Key, LocalPath: e.LocalPath}
		if info, err := os.Stat(e.LocalPath); err != nil {
			file.Missing = true
		} else {
			file.SizeBytes = info.Size()
		}
		files = append(files, file)
	}
	return files, nil
}

// ClearCache deletes every cached file and empties the index. A file
// that is already gone counts as Missing and is tolerated; a file that
// cannot be deleted is reported in Failed and in the returned error,
// but never stops the rest of the sweep. Clearing an empty cache
// succeeds trivially.
func (m *Manager) ClearCache(ctx context.Context) (ClearReport, error) {
	var report ClearReport

	entries, err := m.idx.Entries()
	if err != nil {
		return report, err
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		switch err := os.Remove(entry.LocalPath); {
		case err == nil:
			report.Deleted++
		case errors.Is(err, fs.ErrNotExist):
			report.Missing++
		default:
			report.Failed = append(report.Failed, entry.LocalPath)
			m.logger.Warn("could not delete cached file", "path", entry.LocalPath, "err", err)
		}
	}

	// Sweep stranded partial downloads too. An in-flight download keeps
	// its temp file's mtime fresh, so only stale ones are removed.
	if parts, err := filepath.Glob(filepath.Join(m.cacheDir, "*.part")); err == nil {
		for _, part := range parts {
			info, err := os.Stat(part)
			if err != nil || time.Since(info.ModTime()) < stalePartAge {
				continue
			}
			_ = os.Remove(part)
		}
	}

	if err := m.idx.Clear(); err != nil {
		return report, err
	}

	if len(report.Failed) > 0 {
		return report, fmt.Errorf("cache cleared, but %d file(s) could not be deleted", len(report.Failed))
	}
	return report, nil
}

// Wait blocks until every background cache fill started by Resolve has
// settled. Useful on shutdown and in tests.
func (m *Manager) Wait() {
	m.bg.Wait()
}

// CacheDir returns the directory cached files live in.
func (m *Manager) CacheDir() string {
	return m.cacheDir
}

// refresh serves ForceRefresh: always re-download, then play the fresh
// local copy. If the download fails, playback still happens, streamed.
func (m *Manager) refresh(ctx context.Context, url, key string) (Resolution, error) {
	entry, err := m.fetcher.Fetch(ctx, key, url, m.filePath(key))
	if err != nil {
		m.logger.Warn("refresh failed, falling back to stream", "url", url, "err", err)
		return m.streamRemote(ctx, url)
	}
	return m.playLocal(ctx, url, entry.LocalPath)
}

// backgroundFetch fills the cache without blocking the caller. Failures
// are logged, never surfaced: the user-visible playback already runs.
func (m *Manager) backgroundFetch(url, key string) {
	m.bg.Add(1)
	go func() {
		defer m.bg.Done()
		if _, err := m.fetcher.Fetch(context.Background(), key, url, m.filePath(key)); err != nil {
			m.logger.Warn("background cache fill failed", "url", url, "err", err)
		}
	}()
}

func (m *Manager) playLocal(ctx context.Context, url, path string) (Resolution, error) {
	if _, err := os.Stat(path); err != nil {
		return Resolution{}, fmt.Errorf("cached file: %w", err)
	}
	duration, err := m.engine.LoadFromPath(ctx, path)
	if err != nil {
		return Resolution{}, fmt.Errorf("load %s: %w", path, err)
	}
	if err := m.engine.Play(ctx); err != nil {
		return Resolution{}, fmt.Errorf("play %s: %w", path, err)
	}
	m.logger.Debug("playing from cache", "url", url, "path", path)
	return Resolution{URL: url, Source: SourceLocal, LocalPath: path, Duration: duration}, nil
}

func (m *Manager) streamRemote(ctx context.Context, url string) (Resolution, error) {
	duration, err := m.engine.LoadFromURL(ctx, url)
	if err != nil {
		return Resolution{}, fmt.Errorf("stream %s: %w", url, err)
	}
	if err := m.engine.Play(ctx); err != nil {
		return Resolution{}, fmt.Errorf("play %s: %w", url, err)
	}
	m.logger.Debug("streaming from remote", "url", url)
	return Resolution{URL: url, Source: SourceRemote, Duration: duration}, nil
}

// evict drops a stale entry and whatever is left of its file.
func (m *Manager) evict(key, path string) {
	if err := m.idx.Remove(key); err != nil {
		m.logger.Warn("could not remove stale index entry", "key", key, "err", err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		m.logger.Warn("could not remove stale cached file", "path", path, "err", err)
	}
}

func (m *Manager) filePath(key string) string {
	return filepath.Join(m.cacheDir, key)
}
