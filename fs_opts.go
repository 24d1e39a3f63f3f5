package asar

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	asarcore "github.com/meigma/asar/core"
	"github.com/meigma/asar/core/cache"
	"github.com/meigma/asar/integrity"
)

// Option configures an FS.
type Option func(*FS) error

// DefaultCopyOutCacheSize is the size limit used by WithCacheDir when none
// is given.
const DefaultCopyOutCacheSize int64 = 512 << 20 // 512 MB

// WithHost sets the host primitive. Defaults to OSHost.
func WithHost(host Host) Option {
	return func(f *FS) error {
		if host == nil {
			return errors.New("asar: host is nil")
		}
		f.host = host
		return nil
	}
}

// WithLogger sets the logger for the FS and everything it creates.
func WithLogger(logger *slog.Logger) Option {
	return func(f *FS) error {
		f.logger = logger
		return nil
	}
}

// WithDisabled turns container handling off. Every path is delegated to
// the host unchanged.
func WithDisabled(disabled bool) Option {
	return func(f *FS) error {
		f.disabled = disabled
		return nil
	}
}

// WithExtension sets the file extension that marks containers
// (default ".asar"). Matching is case-insensitive.
func WithExtension(ext string) Option {
	return func(f *FS) error {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 || strings.ContainsAny(ext, `/\`) {
			return fmt.Errorf("asar: invalid extension %q", ext)
		}
		f.extension = ext
		return nil
	}
}

// WithSniff also treats regular files without the container extension as
// containers when their first bytes look like a container header. Every
// regular file on a path is opened to check, so this is off by default.
func WithSniff(enabled bool) Option {
	return func(f *FS) error {
		f.sniff = enabled
		return nil
	}
}

// WithVerifier sets the manifest verifier used by IsArchiveTrusted.
func WithVerifier(v *integrity.Verifier) Option {
	return func(f *FS) error {
		f.verifier = v
		return nil
	}
}

// WithIdentity sets how archive paths map to manifest identifiers.
// See RelativeIdentity.
func WithIdentity(fn func(path string) string) Option {
	return func(f *FS) error {
		if fn == nil {
			return errors.New("asar: identity function is nil")
		}
		f.identity = fn
		return nil
	}
}

// WithVerifyIntegrity makes every read check the block digests embedded in
// container headers.
func WithVerifyIntegrity(enabled bool) Option {
	return WithArchiveOptions(asarcore.WithVerifyIntegrity(enabled))
}

// WithMaxLinkHops bounds link resolution inside containers (default 32).
func WithMaxLinkHops(n int) Option {
	return func(f *FS) error {
		if n < 1 {
			return fmt.Errorf("asar: max link hops must be positive, got %d", n)
		}
		f.archiveOpts = append(f.archiveOpts, asarcore.WithMaxLinkHops(n))
		return nil
	}
}

// WithArchiveOptions passes options to every archive the FS opens.
func WithArchiveOptions(opts ...asarcore.Option) Option {
	return func(f *FS) error {
		f.archiveOpts = append(f.archiveOpts, opts...)
		return nil
	}
}

// WithCache sets the cache used by CopyFileOut.
func WithCache(c cache.Cache) Option {
	return func(f *FS) error {
		f.cache = c
		return nil
	}
}

// WithCacheDir stores copied-out files under dir, pruned to maxBytes.
// A maxBytes of zero uses DefaultCopyOutCacheSize; a negative value
// disables the limit.
func WithCacheDir(dir string, maxBytes int64) Option {
	return func(f *FS) error {
		if dir == "" {
			return errors.New("asar: cache dir is empty")
		}
		switch {
		case maxBytes == 0:
			maxBytes = DefaultCopyOutCacheSize
		case maxBytes < 0:
			maxBytes = 0
		}
		f.cacheDir = dir
		f.cacheMaxBytes = maxBytes
		return nil
	}
}
