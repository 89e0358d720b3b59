package audiocache

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steveroseik/just-audio-cache/internal/index"
)

// newTestManager wires a Manager to a mock engine, an in-memory store,
// and a temp cache dir.
func newTestManager(t *testing.T, engine Engine) *Manager {
	t.Helper()
	m, err := NewManager(engine, &Config{
		CacheDir: t.TempDir(),
		Store:    index.NewMemoryStore(),
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

// newCountingServer serves the request path as the body and counts
// requests.
func newCountingServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("audio:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestManager_MissStreamsThenHitsLocally(t *testing.T) {
	var hits atomic.Int32
	srv := newCountingServer(t, &hits)
	engine := NewMockEngine(3 * time.Minute)
	m := newTestManager(t, engine)

	url := srv.URL + "/track.mp3"

	res, err := m.Resolve(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Source != SourceRemote {
		t.Errorf("first Resolve source = %s, want remote", res.Source)
	}
	if res.Duration != 3*time.Minute {
		t.Errorf("Duration = %v, want 3m", res.Duration)
	}
	if got := engine.LoadedURLs(); len(got) != 1 || got[0] != url {
		t.Errorf("engine streamed %v, want [%s]", got, url)
	}

	// Background fill completes; the next resolve is an offline hit.
	m.Wait()
	if got := hits.Load(); got != 1 {
		t.Fatalf("server saw %d requests after background fill, want 1", got)
	}

	res, err = m.Resolve(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("second Resolve failed: %v", err)
	}
	if res.Source != SourceLocal {
		t.Errorf("second Resolve source = %s, want local", res.Source)
	}
	if !strings.HasPrefix(res.LocalPath, m.CacheDir()) {
		t.Errorf("LocalPath %s not under cache dir %s", res.LocalPath, m.CacheDir())
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("cache hit caused network access: %d requests", got)
	}
	if engine.Plays() != 2 {
		t.Errorf("Plays = %d, want 2", engine.Plays())
	}
}

func TestManager_ExcludedURLNeverCaches(t *testing.T) {
	var hits atomic.Int32
	srv := newCountingServer(t, &hits)
	engine := NewMockEngine(0)
	m := newTestManager(t, engine)

	url := srv.URL + "/live-stream"
	opts := &ResolveOptions{
		AutoCache: true,
		Exclude:   func(u string) bool { return strings.Contains(u, "live") },
	}

	res, err := m.Resolve(context.Background(), url, opts)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Source != SourceRemote {
		t.Errorf("source = %s, want remote", res.Source)
	}

	m.Wait()
	if got := hits.Load(); got != 0 {
		t.Errorf("excluded URL was downloaded: %d requests", got)
	}
	if _, ok := m.CachedPath(url); ok {
		t.Error("excluded URL ended up in the cache")
	}
}

func TestManager_AutoCacheOff(t *testing.T) {
	var hits atomic.Int32
	srv := newCountingServer(t, &hits)
	m := newTestManager(t, NewMockEngine(0))

	url := srv.URL + "/track.ogg"
	if _, err := m.Resolve(context.Background(), url, &ResolveOptions{AutoCache: false}); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	m.Wait()
	if got := hits.Load(); got != 0 {
		t.Errorf("AutoCache=false still downloaded: %d requests", got)
	}
}

func TestManager_ForceRefreshRedownloadsAndPlaysLocal(t *testing.T) {
	var hits atomic.Int32
	srv := newCountingServer(t, &hits)
	engine := NewMockEngine(0)
	m := newTestManager(t, engine)

	url := srv.URL + "/track.mp3"
	if _, err := m.Prefetch(context.Background(), url); err != nil {
		t.Fatalf("Prefetch failed: %v", err)
	}

	res, err := m.Resolve(context.Background(), url, &ResolveOptions{ForceRefresh: true, AutoCache: true})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Source != SourceLocal {
		t.Errorf("source = %s, want local (fresh copy)", res.Source)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2 (prefetch + refresh)", got)
	}
	if paths := engine.LoadedPaths(); len(paths) != 1 {
		t.Errorf("engine loaded %d local paths, want 1", len(paths))
	}
}

func TestManager_ConcurrentResolvesShareOneDownload(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		<-release
		_, _ = w.Write([]byte("one download"))
	}))
	t.Cleanup(srv.Close)

	m := newTestManager(t, NewMockEngine(0))
	url := srv.URL + "/popular.mp3"

	const callers = 6
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Resolve(context.Background(), url, nil); err != nil {
				t.Errorf("Resolve failed: %v", err)
			}
		}()
	}
	wg.Wait()

	// All background fills are registered; let the one download finish.
	time.Sleep(100 * time.Millisecond)
	close(release)
	m.Wait()

	if got := hits.Load(); got != 1 {
		t.Errorf("server saw %d downloads, want exactly 1", got)
	}
	if _, ok := m.CachedPath(url); !ok {
		t.Error("URL not cached after shared download")
	}
}

func TestManager_ResolveAllIsolatesFailures(t *testing.T) {
	var hits atomic.Int32
	srv := newCountingServer(t, &hits)

	engine := NewMockEngine(0)
	bad := srv.URL + "/broken.mp3"
	engine.URLErrors = map[string]error{bad: errors.New("decoder blew up")}

	m := newTestManager(t, engine)
	urls := []string{srv.URL + "/one.mp3", bad, srv.URL + "/three.mp3"}

	results := m.ResolveAll(context.Background(), urls, nil)
	m.Wait()
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.URL != urls[i] {
			t.Errorf("result %d is for %s, want %s (input order)", i, r.URL, urls[i])
		}
	}
	if results[0].Err != nil || results[2].Err != nil {
		t.Errorf("healthy URLs failed: %v, %v", results[0].Err, results[2].Err)
	}
	if results[1].Err == nil {
		t.Error("broken URL reported success")
	}
}

func TestManager_PrefetchIsIdempotent(t *testing.T) {
	var hits atomic.Int32
	srv := newCountingServer(t, &hits)
	m := newTestManager(t, nil)

	url := srv.URL + "/warm.mp3"
	path1, err := m.Prefetch(context.Background(), url)
	if err != nil {
		t.Fatalf("Prefetch failed: %v", err)
	}
	path2, err := m.Prefetch(context.Background(), url)
	if err != nil {
		t.Fatalf("second Prefetch failed: %v", err)
	}
	if path1 != path2 {
		t.Errorf("prefetch paths differ: %s vs %s", path1, path2)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
}

func TestManager_PrefetchFailureLeavesNoEntry(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	m := newTestManager(t, nil)

	url := srv.URL + "/missing.mp3"
	if _, err := m.Prefetch(context.Background(), url); err == nil {
		t.Fatal("Prefetch of a 404 succeeded")
	}
	if _, ok := m.CachedPath(url); ok {
		t.Error("failed prefetch left an index entry")
	}
	files, err := os.ReadDir(m.CacheDir())
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(files) != 0 {
		t.Errorf("failed prefetch left files behind: %v", files)
	}
}

func TestManager_CorruptedCacheFallsBackToStream(t *testing.T) {
	var hits atomic.Int32
	srv := newCountingServer(t, &hits)
	engine := NewMockEngine(0)
	m := newTestManager(t, engine)

	url := srv.URL + "/track.mp3"
	path, err := m.Prefetch(context.Background(), url)
	if err != nil {
		t.Fatalf("Prefetch failed: %v", err)
	}

	// Someone deleted the file behind our back.
	if err := os.Remove(path); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	res, err := m.Resolve(context.Background(), url, nil)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if res.Source != SourceRemote {
		t.Errorf("source = %s, want remote fallback", res.Source)
	}

	// The stale entry was evicted and the cache refilled in background.
	m.Wait()
	if _, ok := m.CachedPath(url); !ok {
		t.Error("cache not refilled after corruption fallback")
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2 (prefetch + refill)", got)
	}
}

func TestManager_RemoveEvictsEntryAndFile(t *testing.T) {
	var hits atomic.Int32
	srv := newCountingServer(t, &hits)
	m := newTestManager(t, nil)

	url := srv.URL + "/track.mp3"
	path, err := m.Prefetch(context.Background(), url)
	if err != nil {
		t.Fatalf("Prefetch failed: %v", err)
	}

	if err := m.Remove(url); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("cached file still on disk: %v", err)
	}
	if _, ok := m.CachedPath(url); ok {
		t.Error("entry still resolvable after Remove")
	}

	// Removing an uncached URL succeeds.
	if err := m.Remove(url); err != nil {
		t.Errorf("second Remove failed: %v", err)
	}
}

func TestManager_ClearCacheToleratesMissingFiles(t *testing.T) {
	var hits atomic.Int32
	srv := newCountingServer(t, &hits)
	m := newTestManager(t, nil)

	urls := []string{srv.URL + "/a.mp3", srv.URL + "/b.mp3", srv.URL + "/c.mp3"}
	var paths []string
	for _, url := range urls {
		path, err := m.Prefetch(context.Background(), url)
		if err != nil {
			t.Fatalf("Prefetch %s failed: %v", url, err)
		}
		paths = append(paths, path)
	}

	// One file is already gone when the sweep runs.
	if err := os.Remove(paths[1]); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	report, err := m.ClearCache(context.Background())
	if err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}
	if report.Deleted != 2 || report.Missing != 1 || len(report.Failed) != 0 {
		t.Errorf("report = %+v, want 2 deleted, 1 missing, 0 failed", report)
	}

	entries, err := m.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("index not empty after ClearCache: %d entries", len(entries))
	}

	// Second clear is trivially clean.
	report, err = m.ClearCache(context.Background())
	if err != nil {
		t.Fatalf("second ClearCache failed: %v", err)
	}
	if report.Deleted != 0 || report.Missing != 0 || len(report.Failed) != 0 {
		t.Errorf("second report = %+v, want all zero", report)
	}
}

func TestManager_ClearCacheSweepsOnlyStaleParts(t *testing.T) {
	m := newTestManager(t, nil)

	// An abandoned partial download from a past crash...
	stale := filepath.Join(m.CacheDir(), "12345678.part")
	if err := os.WriteFile(stale, []byte("abandoned"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}

	// ...and one that a concurrent download is still writing.
	live := filepath.Join(m.CacheDir(), "87654321.part")
	if err := os.WriteFile(live, []byte("in flight"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	if _, err := m.ClearCache(context.Background()); err != nil {
		t.Fatalf("ClearCache failed: %v", err)
	}

	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("stale partial file not swept: %v", err)
	}
	if _, err := os.Stat(live); err != nil {
		t.Errorf("in-flight partial file was deleted: %v", err)
	}
}

func TestManager_EntriesReportsSizesAndMissing(t *testing.T) {
	var hits atomic.Int32
	srv := newCountingServer(t, &hits)
	m := newTestManager(t, nil)

	okURL := srv.URL + "/keep.mp3"
	goneURL := srv.URL + "/gone.mp3"

	if _, err := m.Prefetch(context.Background(), okURL); err != nil {
		t.Fatalf("Prefetch failed: %v", err)
	}
	gonePath, err := m.Prefetch(context.Background(), goneURL)
	if err != nil {
		t.Fatalf("Prefetch failed: %v", err)
	}
	if err := os.Remove(gonePath); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	entries, err := m.Entries()
	if err != nil {
		t.Fatalf("Entries failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	for _, e := range entries {
		if e.LocalPath == gonePath {
			if !e.Missing {
				t.Error("gone entry not flagged missing")
			}
		} else {
			if e.Missing {
				t.Error("intact entry flagged missing")
			}
			if e.SizeBytes == 0 {
				t.Error("intact entry has zero size")
			}
		}
	}
}

func TestManager_NoEngine(t *testing.T) {
	m := newTestManager(t, nil)

	if _, err := m.Resolve(context.Background(), "https://example.com/x.mp3", nil); !errors.Is(err, ErrNoEngine) {
		t.Errorf("Resolve error = %v, want ErrNoEngine", err)
	}
}

func TestManager_IndexSurvivesRestart(t *testing.T) {
	var hits atomic.Int32
	srv := newCountingServer(t, &hits)

	dir := t.TempDir()
	storePath := filepath.Join(dir, "index.json")

	store, err := index.NewFileStore(storePath)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	m, err := NewManager(nil, &Config{CacheDir: dir, Store: store})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	url := srv.URL + "/persist.mp3"
	if _, err := m.Prefetch(context.Background(), url); err != nil {
		t.Fatalf("Prefetch failed: %v", err)
	}

	// A new manager over the same store and dir sees the entry.
	store2, err := index.NewFileStore(storePath)
	if err != nil {
		t.Fatalf("reopen store failed: %v", err)
	}
	m2, err := NewManager(nil, &Config{CacheDir: dir, Store: store2})
	if err != nil {
		t.Fatalf("second NewManager failed: %v", err)
	}
	if _, ok := m2.CachedPath(url); !ok {
		t.Error("entry lost across restart")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server saw %d requests, want 1", got)
	}
}
