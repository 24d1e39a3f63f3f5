package integrity

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func target(data []byte, header []byte) Target {
	return Target{Source: bytes.NewReader(data), Size: int64(len(data)), Header: header}
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func TestVerifyTrusted(t *testing.T) {
	t.Parallel()

	archive := []byte("pretend this is an archive")
	m := NewManifest(map[string]Digest{
		"app.asar": {Algorithm: SHA256, Value: sha256Hex(archive)},
	})
	res := NewVerifier(m).Verify("app.asar", target(archive, nil))
	require.NoError(t, res.Err)
	assert.True(t, res.Trusted())
	assert.Equal(t, SHA256, res.Algorithm)
	assert.Equal(t, sha256Hex(archive), hex.EncodeToString(res.Computed))
}

func TestVerifyRejectsEveryBitFlip(t *testing.T) {
	t.Parallel()

	archive := []byte("abc")
	expected := sha256.Sum256(archive)
	for i := range len(expected) * 8 {
		flipped := expected
		flipped[i/8] ^= 1 << (i % 8)
		m := NewManifest(map[string]Digest{"x": NewDigest(SHA256, flipped[:])})
		res := NewVerifier(m).Verify("x", target(archive, nil))
		require.ErrorIs(t, res.Err, ErrDigestMismatch, "bit %d", i)
		require.ErrorIs(t, res.Err, ErrUntrusted)
		require.False(t, res.Trusted())
	}
}

func TestVerifyMissingEntry(t *testing.T) {
	t.Parallel()

	m := NewManifest(map[string]Digest{"other": {Algorithm: SHA256, Value: sha256Hex(nil)}})
	res := NewVerifier(m).Verify("x", target(nil, nil))
	assert.ErrorIs(t, res.Err, ErrNoManifestEntry)
	assert.ErrorIs(t, res.Err, ErrUntrusted)

	res = NewVerifier(nil).Verify("x", target(nil, nil))
	assert.ErrorIs(t, res.Err, ErrNoManifestEntry)
}

func TestVerifyDefaultEntry(t *testing.T) {
	t.Parallel()

	archive := []byte("content")
	m := NewManifest(map[string]Digest{DefaultID: {Algorithm: SHA256, Value: sha256Hex(archive)}})
	res := NewVerifier(m).Verify("anything", target(archive, nil))
	assert.NoError(t, res.Err)
}

func TestVerifyScopes(t *testing.T) {
	t.Parallel()

	header := []byte(`{"files":{}}`)
	archive := append([]byte{12, 0, 0, 0, 0, 0, 0, 0}, header...)

	m := NewManifest(map[string]Digest{"a": {Algorithm: SHA256, Value: sha256Hex(header)}})
	res := NewVerifier(m, WithScope(ScopeHeader)).Verify("a", target(archive, header))
	require.NoError(t, res.Err)
	assert.Equal(t, ScopeHeader, res.Scope)

	// The header digest does not match the whole file.
	res = NewVerifier(m, WithScope(ScopeFile)).Verify("a", target(archive, header))
	assert.ErrorIs(t, res.Err, ErrDigestMismatch)
}

func TestVerifyAlgorithms(t *testing.T) {
	t.Parallel()

	data := []byte("multi-algorithm")
	s384 := sha512.Sum384(data)
	s512 := sha512.Sum512(data)
	b3 := blake3.Sum256(data)
	s256 := sha256.Sum256(data)

	tests := []struct {
		name string
		d    Digest
	}{
		{"sha256 upper hex", Digest{Algorithm: "sha-256", Value: strings.ToUpper(hex.EncodeToString(s256[:]))}},
		{"sha256 oci", Digest{Algorithm: SHA256, Value: "sha256:" + hex.EncodeToString(s256[:])}},
		{"sha256 base64", Digest{Algorithm: SHA256, Value: base64.StdEncoding.EncodeToString(s256[:])}},
		{"sha384", NewDigest(SHA384, s384[:])},
		{"sha512", NewDigest(SHA512, s512[:])},
		{"blake3", NewDigest(BLAKE3, b3[:])},
		{"blake3 prefixed", Digest{Algorithm: BLAKE3, Value: "blake3:" + hex.EncodeToString(b3[:])}},
		{"default algorithm", Digest{Value: hex.EncodeToString(s256[:])}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManifest(map[string]Digest{"id": tt.d})
			res := NewVerifier(m).Verify("id", target(data, nil))
			assert.NoError(t, res.Err)
		})
	}
}

func TestVerifyBadDigests(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		d    Digest
		want error
	}{
		{"unknown algorithm", Digest{Algorithm: "MD5", Value: "00"}, ErrUnsupportedAlgorithm},
		{"short hex", Digest{Algorithm: SHA256, Value: "abcd"}, ErrMalformedDigest},
		{"wrong prefix", Digest{Algorithm: SHA256, Value: "sha512:" + strings.Repeat("0", 64)}, ErrMalformedDigest},
		{"bad oci hex", Digest{Algorithm: SHA256, Value: "sha256:" + strings.Repeat("z", 64)}, ErrMalformedDigest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewManifest(map[string]Digest{"id": tt.d})
			res := NewVerifier(m).Verify("id", target([]byte("x"), nil))
			assert.ErrorIs(t, res.Err, tt.want)
			assert.ErrorIs(t, res.Err, ErrUntrusted)
		})
	}
}

type failingReader struct{}

func (failingReader) ReadAt([]byte, int64) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestVerifyIOError(t *testing.T) {
	t.Parallel()

	m := NewManifest(map[string]Digest{"id": {Algorithm: SHA256, Value: sha256Hex(nil)}})
	res := NewVerifier(m).Verify("id", Target{Source: failingReader{}, Size: 10})
	assert.ErrorIs(t, res.Err, ErrVerifyIO)
	assert.ErrorIs(t, res.Err, ErrUntrusted)
	assert.NotErrorIs(t, res.Err, ErrDigestMismatch)
}

func TestParseManifestFormats(t *testing.T) {
	t.Parallel()

	digest := sha256Hex([]byte("x"))

	text := "resources/app.asar\nSHA256\n" + digest + "\n\nresources/other.asar\nSHA512\n" + strings.Repeat("ab", 64) + "\n"
	m, err := ParseManifest([]byte(text))
	require.NoError(t, err)
	assert.Equal(t, []string{"resources/app.asar", "resources/other.asar"}, m.IDs())
	d, ok := m.Lookup("resources/app.asar")
	require.True(t, ok)
	assert.Equal(t, digest, d.Value)

	js := `{
		// shipped with the installer
		"app.asar": {"algorithm": "SHA256", "digest": "` + digest + `"},
	}`
	m, err = ParseManifest([]byte(js))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	enc, err := zstd.NewWriter(nil)
	require.NoError(t, err)
	compressed := enc.EncodeAll([]byte(js), nil)
	require.NoError(t, enc.Close())
	m, err = ParseManifest(compressed)
	require.NoError(t, err)
	_, ok = m.Lookup("app.asar")
	assert.True(t, ok)

	_, err = ParseManifest([]byte("only\ntwo"))
	assert.ErrorIs(t, err, ErrMalformedManifest)

	_, err = ParseManifest([]byte(`{"a": 1}`))
	assert.ErrorIs(t, err, ErrMalformedManifest)
}

func TestManifestWriteText(t *testing.T) {
	t.Parallel()

	digest := sha256Hex([]byte("y"))
	m := NewManifest(map[string]Digest{"b": {Algorithm: SHA256, Value: strings.ToUpper(digest)}})
	var buf bytes.Buffer
	require.NoError(t, m.WriteText(&buf))
	assert.Equal(t, "b\nSHA256\n"+digest+"\n", buf.String())

	again, err := ParseManifest(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, m.IDs(), again.IDs())
}

func TestSignedManifest(t *testing.T) {
	t.Parallel()

	signer, err := openpgp.NewEntity("Release", "", "release@example.com", nil)
	require.NoError(t, err)
	other, err := openpgp.NewEntity("Intruder", "", "intruder@example.com", nil)
	require.NoError(t, err)

	manifest := []byte("app.asar\nSHA256\n" + sha256Hex([]byte("z")) + "\n")
	var sig bytes.Buffer
	require.NoError(t, openpgp.ArmoredDetachSign(&sig, signer, bytes.NewReader(manifest), nil))

	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.txt")
	require.NoError(t, os.WriteFile(path, manifest, 0o644))

	m, err := LoadManifest(path, WithSignature(sig.Bytes(), KeyRing{signer}))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())

	_, err = LoadManifest(path, WithSignature(sig.Bytes(), KeyRing{other}))
	assert.ErrorIs(t, err, ErrBadSignature)
	assert.ErrorIs(t, err, ErrUntrusted)

	tampered := append([]byte(nil), manifest...)
	tampered[0] = 'b'
	_, err = VerifySignature(tampered, sig.Bytes(), KeyRing{signer})
	assert.ErrorIs(t, err, ErrBadSignature)

	var binSig bytes.Buffer
	require.NoError(t, openpgp.DetachSign(&binSig, signer, bytes.NewReader(manifest), nil))
	entity, err := VerifySignature(manifest, binSig.Bytes(), KeyRing{signer})
	require.NoError(t, err)
	assert.Equal(t, signer.PrimaryKey.KeyId, entity.PrimaryKey.KeyId)

	_, err = VerifySignature(manifest, nil, KeyRing{signer})
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestReadKeyRing(t *testing.T) {
	t.Parallel()

	e, err := openpgp.NewEntity("Release", "", "release@example.com", nil)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, e.Serialize(&buf))

	ring, err := ReadKeyRing(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, ring, 1)

	_, err = ReadKeyRing([]byte("garbage"))
	assert.Error(t, err)
}

func TestParseScopeAndAlgorithm(t *testing.T) {
	t.Parallel()

	s, err := ParseScope("Header")
	require.NoError(t, err)
	assert.Equal(t, ScopeHeader, s)
	_, err = ParseScope("blocks")
	assert.Error(t, err)

	a, err := ParseAlgorithm("sha512")
	require.NoError(t, err)
	assert.Equal(t, SHA512, a)
	assert.Equal(t, "sha512", a.Prefix())
	assert.Equal(t, "blake3", BLAKE3.Prefix())
}

var _ io.ReaderAt = failingReader{}
