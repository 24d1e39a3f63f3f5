package integrity

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/opencontainers/go-digest"
)

// Digest is an expected digest as recorded in a manifest.
type Digest struct {
	Algorithm Algorithm `json:"algorithm"`
	Value     string    `json:"digest"`
}

// Decode returns the raw digest bytes. Value may be hex in any case, the
// OCI "algo:hex" form, or standard base64 (padded or not).
func (d Digest) Decode() (Algorithm, []byte, error) {
	alg, err := ParseAlgorithm(string(d.Algorithm))
	if err != nil {
		return "", nil, err
	}
	value := strings.TrimSpace(d.Value)

	if prefix, rest, ok := strings.Cut(value, ":"); ok {
		if !strings.EqualFold(prefix, alg.Prefix()) {
			return "", nil, fmt.Errorf("%w: prefix %q does not match algorithm %s", ErrMalformedDigest, prefix, alg)
		}
		if oci, isOCI := alg.ociAlgorithm(); isOCI {
			parsed := digest.NewDigestFromEncoded(oci, strings.ToLower(rest))
			if err := parsed.Validate(); err != nil {
				return "", nil, fmt.Errorf("%w: %v", ErrMalformedDigest, err)
			}
		}
		value = rest
	}

	size := alg.Size()
	if len(value) == 2*size {
		if raw, err := hex.DecodeString(value); err == nil {
			return alg, raw, nil
		}
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding} {
		if raw, err := enc.DecodeString(value); err == nil && len(raw) == size {
			return alg, raw, nil
		}
	}
	return "", nil, fmt.Errorf("%w: %q is not a %d-byte %s digest", ErrMalformedDigest, d.Value, size, alg)
}

// String formats the digest in "algo:hex" form.
func (d Digest) String() string {
	alg, raw, err := d.Decode()
	if err != nil {
		return string(d.Algorithm) + ":" + d.Value
	}
	return alg.Prefix() + ":" + hex.EncodeToString(raw)
}

// NewDigest builds a Digest from raw bytes, encoded as lower-case hex.
func NewDigest(alg Algorithm, raw []byte) Digest {
	return Digest{Algorithm: alg, Value: hex.EncodeToString(raw)}
}
