// Package integrity decides whether an archive may be trusted.
//
// A [Manifest] maps archive identifiers to expected digests. It is delivered
// through a channel independent of the archive, optionally protected by an
// OpenPGP detached signature. A [Verifier] digests the archive (either its
// JSON header or the whole file, see [Scope]) and compares the result with
// the manifest in constant time.
//
// Every rejection wraps [ErrUntrusted], so callers can tell a trust failure
// apart from ordinary I/O errors with errors.Is.
package integrity
