package integrity

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/tidwall/jsonc"
)

// DefaultID is consulted when a manifest has no entry for an archive's own
// identifier.
const DefaultID = "default"

// maxManifestSize bounds decompressed manifests.
const maxManifestSize = 16 << 20

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Manifest maps archive identifiers to expected digests. It is immutable
// once built and safe for concurrent lookups.
type Manifest struct {
	entries map[string]Digest
}

// NewManifest returns a manifest holding a copy of entries.
func NewManifest(entries map[string]Digest) *Manifest {
	m := &Manifest{entries: make(map[string]Digest, len(entries))}
	maps.Copy(m.entries, entries)
	return m
}

// Lookup returns the digest for id, falling back to DefaultID.
func (m *Manifest) Lookup(id string) (Digest, bool) {
	if m == nil {
		return Digest{}, false
	}
	if d, ok := m.entries[id]; ok {
		return d, true
	}
	d, ok := m.entries[DefaultID]
	return d, ok
}

// Len returns the number of entries.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}

// IDs returns the identifiers in sorted order.
func (m *Manifest) IDs() []string {
	if m == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(m.entries))
}

// MarshalJSON writes the manifest as a JSON object.
func (m *Manifest) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.entries)
}

// WriteText writes the manifest in line-triple form: identifier, algorithm
// and hex digest on consecutive lines.
func (m *Manifest) WriteText(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, id := range m.IDs() {
		d := m.entries[id]
		alg, raw, err := d.Decode()
		if err != nil {
			return fmt.Errorf("entry %q: %w", id, err)
		}
		fmt.Fprintf(bw, "%s\n%s\n%x\n", id, alg, raw)
	}
	return bw.Flush()
}

// ParseManifest decodes manifest bytes. zstd-compressed input is detected by
// its frame magic. Input that starts with '{' once comments are removed is
// JSON (trailing commas allowed); anything else is read as line triples.
func ParseManifest(data []byte) (*Manifest, error) {
	if bytes.HasPrefix(data, zstdMagic) {
		var err error
		if data, err = decompress(data); err != nil {
			return nil, err
		}
	}
	if stripped := bytes.TrimSpace(jsonc.ToJSON(data)); len(stripped) > 0 && stripped[0] == '{' {
		return parseJSON(stripped)
	}
	return parseText(bytes.TrimSpace(data))
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxManifestSize),
	)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()
	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: zstd: %v", ErrMalformedManifest, err)
	}
	return out, nil
}

func parseJSON(data []byte) (*Manifest, error) {
	var entries map[string]Digest
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	for id, d := range entries {
		if id == "" || d.Value == "" {
			return nil, fmt.Errorf("%w: entry %q has no digest", ErrMalformedManifest, id)
		}
	}
	return &Manifest{entries: entries}, nil
}

func parseText(data []byte) (*Manifest, error) {
	var lines []string
	for line := range strings.Lines(string(data)) {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines)%3 != 0 {
		return nil, fmt.Errorf("%w: %d lines is not a whole number of entries", ErrMalformedManifest, len(lines))
	}
	entries := make(map[string]Digest, len(lines)/3)
	for i := 0; i < len(lines); i += 3 {
		id := lines[i]
		if _, dup := entries[id]; dup {
			return nil, fmt.Errorf("%w: duplicate entry %q", ErrMalformedManifest, id)
		}
		entries[id] = Digest{Algorithm: Algorithm(lines[i+1]), Value: lines[i+2]}
	}
	return &Manifest{entries: entries}, nil
}

// LoadOption configures LoadManifest.
type LoadOption func(*loadConfig)

type loadConfig struct {
	signature []byte
	keyring   KeyRing
}

// WithSignature requires the manifest bytes to carry a valid detached
// OpenPGP signature from keyring.
func WithSignature(signature []byte, keyring KeyRing) LoadOption {
	return func(c *loadConfig) {
		c.signature = signature
		c.keyring = keyring
	}
}

// LoadManifest reads and parses the manifest at path. With WithSignature the
// signature is checked over the raw file bytes before parsing.
func LoadManifest(path string, opts ...LoadOption) (*Manifest, error) {
	var cfg loadConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	data, err := os.ReadFile(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if cfg.signature != nil || cfg.keyring != nil {
		if _, err := VerifySignature(data, cfg.signature, cfg.keyring); err != nil {
			return nil, err
		}
	}
	return ParseManifest(data)
}
