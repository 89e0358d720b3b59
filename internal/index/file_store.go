package index

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/viper"
)

// entriesKey is the single top-level key the entry map lives under in
// the preferences file.
const entriesKey = "entries"

// FileStore is a Store persisted as a JSON preferences file via viper.
// Every mutation rewrites the file, so a store reopened on the same
// path sees all previously committed values.
type FileStore struct {
	mu   sync.Mutex
	v    *viper.Viper
	path string
}

// NewFileStore opens (or lazily creates) the preferences file at path.
// The parent directory is created when missing.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("file store: empty path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("file store: create directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	if err := v.ReadInConfig(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("file store: read %s: %w", path, err)
	}

	return &FileStore{v: v, path: path}, nil
}

// Path returns the location of the preferences file.
func (s *FileStore) Path() string {
	return s.path
}

// Get returns the value for key.
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.v.GetStringMapString(entriesKey)[key]
	return value, ok, nil
}

// Set writes the value for key and flushes the file.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cloneEntries()
	entries[key] = value
	return s.write(entries)
}

// Delete removes key and flushes the file.
func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cloneEntries()
	if _, ok := entries[key]; !ok {
		return nil
	}
	delete(entries, key)
	return s.write(entries)
}

// Keys lists every stored key.
func (s *FileStore) Keys() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.v.GetStringMapString(entriesKey)
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	return keys, nil
}

// cloneEntries copies the current entry map so mutations never alias
// viper's internal state.
func (s *FileStore) cloneEntries() map[string]string {
	entries := make(map[string]string)
	for key, value := range s.v.GetStringMapString(entriesKey) {
		entries[key] = value
	}
	return entries
}

func (s *FileStore) write(entries map[string]string) error {
	s.v.Set(entriesKey, entries)
	if err := s.v.WriteConfigAs(s.path); err != nil {
		return fmt.Errorf("file store: write %s: %w", s.path, err)
	}
	return nil
}
