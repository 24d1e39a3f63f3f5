package integrity

import (
	"errors"
	"fmt"
)

// ErrUntrusted is the parent of every trust rejection.
var ErrUntrusted = errors.New("integrity: untrusted")

// Rejection reasons. Each wraps ErrUntrusted.
var (
	// ErrNoManifestEntry is returned when the manifest has no digest for the
	// archive. A missing entry is never treated as trusted.
	ErrNoManifestEntry = fmt.Errorf("%w: no manifest entry", ErrUntrusted)

	// ErrDigestMismatch is returned when the computed digest differs from
	// the manifest.
	ErrDigestMismatch = fmt.Errorf("%w: digest mismatch", ErrUntrusted)

	// ErrUnsupportedAlgorithm is returned for algorithm tags this package
	// cannot compute.
	ErrUnsupportedAlgorithm = fmt.Errorf("%w: unsupported algorithm", ErrUntrusted)

	// ErrMalformedDigest is returned when an expected digest cannot be decoded
	// or has the wrong length for its algorithm.
	ErrMalformedDigest = fmt.Errorf("%w: malformed digest", ErrUntrusted)

	// ErrVerifyIO is returned when the archive could not be read for hashing.
	ErrVerifyIO = fmt.Errorf("%w: read failed", ErrUntrusted)

	// ErrBadSignature is returned when a manifest signature does not verify
	// against the trusted keyring.
	ErrBadSignature = fmt.Errorf("%w: bad manifest signature", ErrUntrusted)
)

// ErrMalformedManifest is returned when manifest bytes cannot be parsed.
var ErrMalformedManifest = errors.New("integrity: malformed manifest")
