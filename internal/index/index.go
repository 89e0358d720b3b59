package index

import (
	"errors"
	"fmt"
	"sync"
)

// Entry describes one completed cache entry: a derived key and the
// absolute path of the fully written local file. SizeBytes is advisory
// and only set when known (it is not persisted).
type Entry struct {
	Key       string
	LocalPath string
	SizeBytes int64
}

// Index is the durable key→path mapping. All methods are safe for
// concurrent use; a commit is atomic from the point of view of a
// concurrent lookup.
type Index struct {
	mu    sync.Mutex
	store Store
}

// New creates an Index over the given store.
func New(store Store) *Index {
	return &Index{store: store}
}

// Lookup returns the committed entry for key, or ok=false on a miss.
// A miss is a normal outcome, not an error.
func (ix *Index) Lookup(key string) (Entry, bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	path, ok, err := ix.store.Get(key)
	if err != nil {
		return Entry{}, false, fmt.Errorf("index lookup %s: %w", key, err)
	}
	if !ok || path == "" {
		return Entry{}, false, nil
	}
	return Entry{Key: key, LocalPath: path}, true, nil
}

// Commit persists a completed entry, overwriting any prior entry for
// the same key.
func (ix *Index) Commit(entry Entry) error {
	if entry.Key == "" {
		return errors.New("index commit: empty key")
	}
	if entry.LocalPath == "" {
		return errors.New("index commit: empty local path")
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.store.Set(entry.Key, entry.LocalPath); err != nil {
		return fmt.Errorf("index commit %s: %w", entry.Key, err)
	}
	return nil
}

// Remove deletes the entry for key. Removing an absent key succeeds.
func (ix *Index) Remove(key string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if err := ix.store.Delete(key); err != nil {
		return fmt.Errorf("index remove %s: %w", key, err)
	}
	return nil
}

// Entries returns every committed entry, in no particular order.
func (ix *Index) Entries() ([]Entry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	keys, err := ix.store.Keys()
	if err != nil {
		return nil, fmt.Errorf("index entries: %w", err)
	}

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		path, ok, err := ix.store.Get(key)
		if err != nil {
			return nil, fmt.Errorf("index entries: %w", err)
		}
		if !ok || path == "" {
			continue
		}
		entries = append(entries, Entry{Key: key, LocalPath: path})
	}
	return entries, nil
}

// Clear removes every committed entry. It does not touch the files the
// entries point at; that is the caller's responsibility.
func (ix *Index) Clear() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	keys, err := ix.store.Keys()
	if err != nil {
		return fmt.Errorf("index clear: %w", err)
	}
	for _, key := range keys {
		if err := ix.store.Delete(key); err != nil {
			return fmt.Errorf("index clear %s: %w", key, err)
		}
	}
	return nil
}
