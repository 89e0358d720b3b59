package audiocache

import (
	"context"
	"time"
)

// Engine is the playback engine the cache layers over. The engine is an
// external collaborator; this package never decodes or plays audio
// itself, it only decides which source to hand the engine.
type Engine interface {
	// LoadFromPath prepares playback from a local file and returns the
	// track duration.
	LoadFromPath(ctx context.Context, path string) (time.Duration, error)

	// LoadFromURL prepares streaming playback from a remote URL and
	// returns the track duration.
	LoadFromURL(ctx context.Context, url string) (time.Duration, error)

	// Play starts playback of the most recently loaded source.
	Play(ctx context.Context) error
}
