// Package cachekey derives filesystem-safe cache keys from URLs.
// The same derivation is used everywhere a key is needed: as the index
// key, as the cache file name, and as the download dedup key.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
)

// Derive maps a URL to a deterministic, filesystem-safe cache key.
// It is a pure function of the input bytes: two byte-identical URLs
// always map to the same key, in this process and across restarts.
//
// The key is the hex encoding of the first 16 bytes of the SHA-256 of
// the raw URL string: 32 lowercase hex characters, no path separators,
// no dots. Malformed input is not an error; any string hashes.
func Derive(rawURL string) string {
	sum := sha256.Sum256([]byte(rawURL))
	return hex.EncodeToString(sum[:16])
}
