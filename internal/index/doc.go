// Package index maintains the durable mapping from cache keys to local
// file paths. It sits on top of a pluggable key-value Store so the same
// index logic works against an in-memory map or a preferences file.
// Only fully downloaded entries are ever written to the store; in-flight
// and failed downloads never appear in it.
package index
