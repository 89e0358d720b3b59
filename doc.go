// Package audiocache adds play-from-URL-with-offline-cache semantics on
// top of an external audio playback engine. The first playback of a URL
// streams from the network while the bytes are downloaded to a local
// cache directory in the background; every later playback of the same
// URL loads straight from disk.
//
// The cache is a single logical instance safe for concurrent use:
// concurrent requests for the same URL share one download, files become
// visible only once fully written, and the URL→path index survives
// restarts through a pluggable key-value store.
package audiocache
