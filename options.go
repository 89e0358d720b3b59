package audiocache

import (
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
)

// appName scopes the default cache and config directories.
const appName = "just-audio-cache"

// Config configures a Manager. The zero value of every field has a
// working default; see NewManager.
type Config struct {
	// CacheDir is the directory cached files live in. Defaults to the
	// user cache directory for the application (see DefaultCacheDir).
	CacheDir string

	// Store is the key-value backend for the URL→path index. Defaults
	// to a preferences file named index.json inside CacheDir.
	Store Store

	// HTTPClient performs the downloads. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// DownloadTimeout bounds each individual download. Zero means no
	// timeout beyond what the caller's context imposes.
	DownloadTimeout time.Duration

	// ResolveConcurrency caps how many URLs ResolveAll works on at
	// once. Defaults to 1: strictly serial, in input order.
	ResolveConcurrency int64

	// Logger receives cache decisions (debug) and background fetch
	// failures (warn). Defaults to log.Default().
	Logger *log.Logger
}

// Store is the durable key-value backend the cache index persists
// into, typically the platform's preferences facility. Implementations
// must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ok=false when absent.
	Get(key string) (value string, ok bool, err error)

	// Set writes or overwrites the value for key.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Keys lists every stored key.
	Keys() ([]string, error)
}

// ResolveOptions controls a single Resolve call.
type ResolveOptions struct {
	// ForceRefresh bypasses the index and re-downloads the URL before
	// playing the fresh local copy.
	ForceRefresh bool

	// AutoCache downloads uncached URLs in the background while they
	// stream. DefaultResolveOptions enables it.
	AutoCache bool

	// Exclude marks URLs that must never be cached; they always stream.
	Exclude func(url string) bool
}

// DefaultResolveOptions returns the options Resolve uses when passed
// nil: background caching on, no refresh, nothing excluded.
func DefaultResolveOptions() *ResolveOptions {
	return &ResolveOptions{AutoCache: true}
}

// DefaultCacheDir returns the platform cache directory for the
// application (e.g. ~/.cache/just-audio-cache on Linux).
func DefaultCacheDir() (string, error) {
	scope := gap.NewScope(gap.User, appName)
	dir, err := scope.CacheDir()
	if err != nil {
		return "", fmt.Errorf("resolve cache directory: %w", err)
	}
	return dir, nil
}

// Source says where a resolved URL is being played from.
type Source int

const (
	// SourceLocal means playback runs from a cached file on disk.
	SourceLocal Source = iota

	// SourceRemote means playback streams from the network.
	SourceRemote
)

// String returns a human-readable source name.
func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceRemote:
		return "remote"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of a successful Resolve: playback has
// started from Source. LocalPath is set only for SourceLocal.
type Resolution struct {
	URL       string
	Source    Source
	LocalPath string
	Duration  time.Duration
}

// ResolveResult pairs one URL from a ResolveAll batch with its outcome.
type ResolveResult struct {
	URL        string
	Resolution Resolution
	Err        error
}

// ClearReport summarizes a ClearCache run. Missing counts entries whose
// file was already gone, which is tolerated, not an error.
type ClearReport struct {
	Deleted int
	Missing int
	Failed  []string
}
