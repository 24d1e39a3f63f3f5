package integrity

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Scope selects which bytes of an archive are digested.
type Scope uint8

const (
	// ScopeFile digests the whole container file.
	ScopeFile Scope = iota

	// ScopeHeader digests only the JSON header. Combined with per-file
	// block integrity this covers the whole archive without hashing it
	// up front.
	ScopeHeader
)

func (s Scope) String() string {
	switch s {
	case ScopeFile:
		return "file"
	case ScopeHeader:
		return "header"
	default:
		return "unknown"
	}
}

// ParseScope parses "file" or "header".
func ParseScope(s string) (Scope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "file", "":
		return ScopeFile, nil
	case "header":
		return ScopeHeader, nil
	}
	return 0, fmt.Errorf("integrity: unknown scope %q", s)
}

// Target is the archive being verified.
type Target struct {
	// Source reads the container bytes.
	Source io.ReaderAt

	// Size is the container length.
	Size int64

	// Header is the raw JSON header, used by ScopeHeader.
	Header []byte
}

// Result is the outcome of a verification.
type Result struct {
	ID        string
	Algorithm Algorithm
	Scope     Scope

	// Computed is the digest of the archive, when it could be computed.
	Computed []byte

	// Err is nil when the archive is trusted and wraps ErrUntrusted otherwise.
	Err error
}

// Trusted reports whether the archive passed verification.
func (r Result) Trusted() bool {
	return r.Err == nil
}

// Digest returns the computed digest in manifest form.
func (r Result) Digest() Digest {
	return NewDigest(r.Algorithm, r.Computed)
}

// Verifier checks archives against a manifest.
type Verifier struct {
	manifest *Manifest
	scope    Scope
	logger   *slog.Logger
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithScope sets what is digested (default: ScopeFile).
func WithScope(s Scope) Option {
	return func(v *Verifier) {
		v.scope = s
	}
}

// WithLogger sets the logger for verification outcomes.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) {
		v.logger = logger
	}
}

// NewVerifier returns a Verifier backed by manifest. A nil manifest rejects
// everything with ErrNoManifestEntry.
func NewVerifier(manifest *Manifest, opts ...Option) *Verifier {
	v := &Verifier{manifest: manifest}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) log() *slog.Logger {
	if v.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return v.logger
}

// Scope returns the configured scope.
func (v *Verifier) Scope() Scope {
	return v.scope
}

// Verify digests target and compares it with the manifest entry for id.
func (v *Verifier) Verify(id string, target Target) Result {
	res := Result{ID: id, Scope: v.scope}
	res.Err = v.verify(id, target, &res)
	if res.Err != nil {
		v.log().Warn("archive rejected", "id", id, "scope", v.scope.String(), "error", res.Err)
	} else {
		v.log().Debug("archive trusted", "id", id, "scope", v.scope.String(), "algorithm", string(res.Algorithm))
	}
	return res
}

func (v *Verifier) verify(id string, target Target, res *Result) error {
	expected, ok := v.manifest.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoManifestEntry, id)
	}
	alg, want, err := expected.Decode()
	if err != nil {
		return err
	}
	res.Algorithm = alg

	got, err := Compute(alg, v.scope, target)
	if err != nil {
		return err
	}
	res.Computed = got

	if subtle.ConstantTimeCompare(got, want) != 1 {
		return fmt.Errorf("%w: %q: computed %s, expected %s",
			ErrDigestMismatch, id, hex.EncodeToString(got), hex.EncodeToString(want))
	}
	return nil
}

// Compute digests target with alg over the given scope.
func Compute(alg Algorithm, scope Scope, target Target) ([]byte, error) {
	h, err := alg.New()
	if err != nil {
		return nil, err
	}
	switch scope {
	case ScopeHeader:
		if target.Header == nil {
			return nil, fmt.Errorf("%w: no header bytes", ErrVerifyIO)
		}
		h.Write(target.Header)
	case ScopeFile:
		if target.Source == nil {
			return nil, fmt.Errorf("%w: no source", ErrVerifyIO)
		}
		buf := make([]byte, 1<<20)
		n, err := io.CopyBuffer(h, io.NewSectionReader(target.Source, 0, target.Size), buf)
		if err != nil {
			return nil, errors.Join(ErrVerifyIO, err)
		}
		if n != target.Size {
			return nil, fmt.Errorf("%w: read %d of %d bytes", ErrVerifyIO, n, target.Size)
		}
	default:
		return nil, fmt.Errorf("integrity: unknown scope %d", scope)
	}
	return h.Sum(nil), nil
}
