package audiocache

import (
	"context"
	"sync"
	"time"
)

// MockEngine is an Engine implementation for testing. It records every
// load and play call and can be told to fail any of them. All methods
// are safe for concurrent use.
type MockEngine struct {
	mu sync.Mutex

	// Failure injection. Set before use.
	LoadPathErr error
	LoadURLErr  error
	PlayErr     error

	// URLErrors fails LoadFromURL for specific URLs only.
	URLErrors map[string]error

	// Duration reported by both load methods.
	Duration time.Duration

	loadedPaths []string
	loadedURLs  []string
	plays       int
}

// NewMockEngine creates a mock engine reporting the given duration.
func NewMockEngine(duration time.Duration) *MockEngine {
	return &MockEngine{Duration: duration}
}

// LoadFromPath records the path and returns the configured duration.
func (m *MockEngine) LoadFromPath(_ context.Context, path string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadPathErr != nil {
		return 0, m.LoadPathErr
	}
	m.loadedPaths = append(m.loadedPaths, path)
	return m.Duration, nil
}

// LoadFromURL records the URL and returns the configured duration.
func (m *MockEngine) LoadFromURL(_ context.Context, url string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.URLErrors[url]; ok {
		return 0, err
	}
	if m.LoadURLErr != nil {
		return 0, m.LoadURLErr
	}
	m.loadedURLs = append(m.loadedURLs, url)
	return m.Duration, nil
}

// Play records a play call.
func (m *MockEngine) Play(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PlayErr != nil {
		return m.PlayErr
	}
	m.plays++
	return nil
}

// LoadedPaths returns every path loaded so far.
func (m *MockEngine) LoadedPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.loadedPaths...)
}

// LoadedURLs returns every URL loaded so far.
func (m *MockEngine) LoadedURLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.loadedURLs...)
}

// Plays returns how many times Play succeeded.
func (m *MockEngine) Plays() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plays
}
