// Package fetch performs the physical downloads behind the cache. It
// guarantees two things: at most one download per cache key is in
// flight at any time, and a destination file only becomes visible once
// it is fully written.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/steveroseik/just-audio-cache/internal/index"
)

// Sentinel errors classifying fetch failures. Wrapped errors carry the
// underlying detail; match with errors.Is.
var (
	// ErrNetwork means the download did not complete.
	ErrNetwork = errors.New("network failure")

	// ErrStorage means the downloaded bytes could not be written,
	// renamed, or committed.
	ErrStorage = errors.New("storage failure")
)

// tempPattern is the name pattern for in-progress download files. They
// live in the destination directory so the final rename stays on one
// filesystem.
const tempPattern = "*.part"

// Coordinator deduplicates concurrent downloads per cache key and
// writes each download atomically: temp file first, rename on success,
// index commit before any caller is released.
type Coordinator struct {
	client  *http.Client
	idx     *index.Index
	timeout time.Duration
	logger  *log.Logger

	group singleflight.Group
}

// NewCoordinator creates a Coordinator. client must not be nil; a zero
// timeout means downloads run without a deadline of their own.
func NewCoordinator(client *http.Client, idx *index.Index, timeout time.Duration, logger *log.Logger) *Coordinator {
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		client:  client,
		idx:     idx,
		timeout: timeout,
		logger:  logger,
	}
}

// Fetch downloads url to destPath and commits the result to the index.
// Concurrent calls for the same key share one download and observe the
// same outcome. The flight is deregistered the moment it settles, so a
// caller arriving after settlement starts a fresh attempt.
//
// A caller whose context expires stops waiting and gets the context
// error, but the shared download keeps running for the other waiters.
func (c *Coordinator) Fetch(ctx context.Context, key, url, destPath string) (index.Entry, error) {
	ch := c.group.DoChan(key, func() (any, error) {
		// Settle-then-forget: later callers must not join a dead flight.
		defer c.group.Forget(key)

		// The download is shared; no single caller's cancellation may
		// abort it for everyone else.
		return c.download(context.WithoutCancel(ctx), key, url, destPath)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return index.Entry{}, res.Err
		}
		return res.Val.(index.Entry), nil
	case <-ctx.Done():
		return index.Entry{}, ctx.Err()
	}
}

func (c *Coordinator) download(ctx context.Context, key, url, destPath string) (index.Entry, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()

	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return index.Entry{}, fmt.Errorf("%w: create cache directory: %v", ErrStorage, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return index.Entry{}, fmt.Errorf("%w: build request for %s: %v", ErrNetwork, url, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return index.Entry{}, fmt.Errorf("%w: get %s: %v", ErrNetwork, url, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < http.StatusOK || resp.StatusCode > 299 {
		return index.Entry{}, fmt.Errorf("%w: get %s: unexpected status %d", ErrNetwork, url, resp.StatusCode)
	}

	tmp, err := os.CreateTemp(dir, tempPattern)
	if err != nil {
		return index.Entry{}, fmt.Errorf("%w: create temp file: %v", ErrStorage, err)
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		c.discard(tmpName)
		return index.Entry{}, fmt.Errorf("%w: download %s: %v", ErrNetwork, url, err)
	}

	if err := os.Rename(tmpName, destPath); err != nil {
		c.discard(tmpName)
		return index.Entry{}, fmt.Errorf("%w: finalize %s: %v", ErrStorage, destPath, err)
	}

	entry := index.Entry{Key: key, LocalPath: destPath, SizeBytes: written}

	// Commit before releasing callers: a successful Fetch guarantees a
	// subsequent Lookup hit. A failed commit must not leave an orphan
	// file either.
	if err := c.idx.Commit(entry); err != nil {
		c.discard(destPath)
		return index.Entry{}, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	c.logger.Debug("cached remote file",
		"url", url,
		"key", key,
		"bytes", written,
		"elapsed", time.Since(start))

	return entry, nil
}

// discard removes a partial or orphaned file, keeping the cache free of
// half-written artifacts.
func (c *Coordinator) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		c.logger.Warn("could not remove partial download", "path", path, "err", err)
	}
}
