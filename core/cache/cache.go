package cache

import (
	"errors"
	"io"
	"io/fs"
)

// ErrTooLarge is returned by Put when content cannot fit within the
// configured size limit even after pruning.
var ErrTooLarge = errors.New("cache: content exceeds cache size limit")

// Cache stores materialized files keyed by digest.
//
// Keys are typically the SHA-256 of the content (the entry's integrity
// hash), so two archives shipping the same file share one copy. The ext
// argument becomes the file name suffix; loaders that dispatch on extension
// keep working on cached paths.
//
// Implementations should handle their own size limits and eviction policies.
// Implementations must be safe for concurrent use.
type Cache interface {
	// Path returns the location of cached content.
	// Returns "", false if content is not cached.
	Path(key []byte, ext string) (string, bool)

	// Put stores r under key with the given permission bits and returns the
	// resulting path. An existing entry is returned unchanged.
	Put(key []byte, ext string, r io.Reader, perm fs.FileMode) (string, error)

	// Delete removes cached content for the given key.
	// Implementations should treat missing entries as a no-op.
	Delete(key []byte, ext string) error

	// MaxBytes returns the configured cache size limit (0 = unlimited).
	MaxBytes() int64

	// SizeBytes returns the current cache size in bytes.
	SizeBytes() int64

	// Prune removes cached entries until the cache is at or below targetBytes.
	// Returns the number of bytes freed.
	Prune(targetBytes int64) (int64, error)
}
