package index

// Store is the key-value preferences backend the index persists into.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ok=false when the key is absent.
	Get(key string) (value string, ok bool, err error)

	// Set writes or overwrites the value for key.
	Set(key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key string) error

	// Keys lists every stored key.
	Keys() ([]string, error)
}
