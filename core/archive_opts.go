package asar

import (
	"io"
	"log/slog"
	"time"
)

// DefaultMaxLinkHops bounds how many links a single lookup may follow.
const DefaultMaxLinkHops = 32

// Option configures an Archive.
type Option func(*Archive)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Archive) {
		a.logger = logger
	}
}

// WithVerifyIntegrity controls whether reads check the per-file block
// digests embedded in the header (default: false).
//
// When enabled, files without integrity metadata cannot be read and every
// mismatch fails the read with ErrIntegrity.
func WithVerifyIntegrity(enabled bool) Option {
	return func(a *Archive) {
		a.verify = enabled
	}
}

// WithMaxLinkHops sets the link hop limit. Values <= 0 use DefaultMaxLinkHops.
func WithMaxLinkHops(n int) Option {
	return func(a *Archive) {
		if n <= 0 {
			n = DefaultMaxLinkHops
		}
		a.maxLinkHops = n
	}
}

// WithMaxHeaderSize limits the JSON header length. Zero uses
// DefaultMaxHeaderSize.
func WithMaxHeaderSize(limit uint64) Option {
	return func(a *Archive) {
		a.maxHeaderSize = limit
	}
}

// WithPath records the absolute host path of the container. It is reported
// by Path and used in log output.
func WithPath(path string) Option {
	return func(a *Archive) {
		a.path = path
	}
}

// WithModTime sets the modification time reported for every entry.
func WithModTime(t time.Time) Option {
	return func(a *Archive) {
		a.modTime = t
	}
}

// WithCloser hands ownership of c to the Archive; Close closes it.
func WithCloser(c io.Closer) Option {
	return func(a *Archive) {
		a.closer = c
	}
}
