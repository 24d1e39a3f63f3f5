package integrity

import (
	_ "crypto/sha256" // registers SHA-256 for go-digest
	_ "crypto/sha512" // registers SHA-384 and SHA-512 for go-digest
	"fmt"
	"hash"
	"strings"

	"github.com/opencontainers/go-digest"
	"github.com/zeebo/blake3"
)

// Algorithm names a digest algorithm as written in manifests.
type Algorithm string

// Supported algorithms.
const (
	SHA256 Algorithm = "SHA256"
	SHA384 Algorithm = "SHA384"
	SHA512 Algorithm = "SHA512"
	BLAKE3 Algorithm = "BLAKE3"
)

// DefaultAlgorithm is used when a manifest entry omits the algorithm.
const DefaultAlgorithm = SHA256

// ParseAlgorithm normalizes an algorithm tag. It accepts any case and the
// dashed and OCI spellings ("SHA-256", "sha256").
func ParseAlgorithm(s string) (Algorithm, error) {
	norm := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), "-", ""))
	switch Algorithm(norm) {
	case SHA256, SHA384, SHA512, BLAKE3:
		return Algorithm(norm), nil
	case "":
		return DefaultAlgorithm, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, s)
}

// ociAlgorithm maps SHA-2 algorithms to their go-digest counterparts.
func (a Algorithm) ociAlgorithm() (digest.Algorithm, bool) {
	switch a {
	case SHA256:
		return digest.SHA256, true
	case SHA384:
		return digest.SHA384, true
	case SHA512:
		return digest.SHA512, true
	}
	return "", false
}

// New returns a fresh hash for the algorithm.
func (a Algorithm) New() (hash.Hash, error) {
	if a == BLAKE3 {
		return blake3.New(), nil
	}
	oci, ok := a.ociAlgorithm()
	if !ok || !oci.Available() {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(a))
	}
	return oci.Hash(), nil
}

// Size returns the digest length in bytes.
func (a Algorithm) Size() int {
	switch a {
	case SHA256, BLAKE3:
		return 32
	case SHA384:
		return 48
	case SHA512:
		return 64
	}
	return 0
}

// Prefix returns the lower-case name used in "algo:hex" digests.
func (a Algorithm) Prefix() string {
	if oci, ok := a.ociAlgorithm(); ok {
		return string(oci)
	}
	return strings.ToLower(string(a))
}

func (a Algorithm) String() string {
	return string(a)
}
