// Package testutil provides helpers for building archives in tests.
package testutil

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path"
	"strings"

	asarcore "github.com/meigma/asar/core"
	"github.com/meigma/asar/core/internal/file"
)

// MockByteSource implements a simple in-memory byte source for tests.
type MockByteSource struct {
	data     []byte
	sourceID string
}

// NewMockByteSource returns a byte source backed by the provided data.
func NewMockByteSource(data []byte) *MockByteSource {
	sum := sha256.Sum256(data)
	return &MockByteSource{
		data:     data,
		sourceID: "mock:" + hex.EncodeToString(sum[:]),
	}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockByteSource) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if off+int64(n) >= int64(len(m.data)) {
		return n, io.EOF
	}
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockByteSource) Size() int64 {
	return int64(len(m.data))
}

// SourceID returns a stable identifier for the source data.
func (m *MockByteSource) SourceID() string {
	return m.sourceID
}

// Bytes returns the backing slice for tests that need to mutate data.
func (m *MockByteSource) Bytes() []byte {
	return m.data
}

// Builder assembles a container in memory. Parent directories are created
// on demand and entries keep the order they were added in.
type Builder struct {
	root      *asarcore.Entry
	contents  map[*asarcore.Entry][]byte
	blockSize int
	plain     bool
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{
		root:     asarcore.NewDirectory(),
		contents: make(map[*asarcore.Entry][]byte),
	}
}

// BlockSize sets the integrity block size used for file entries.
func (b *Builder) BlockSize(n int) *Builder {
	b.blockSize = n
	return b
}

// WithoutIntegrity omits integrity metadata from file entries.
func (b *Builder) WithoutIntegrity() *Builder {
	b.plain = true
	return b
}

// Dir adds an empty directory.
func (b *Builder) Dir(name string) *Builder {
	b.dir(name)
	return b
}

// File adds a regular file.
func (b *Builder) File(name, content string) *Builder {
	e := asarcore.NewFile(uint64(len(content)), false)
	b.add(name, e)
	b.contents[e] = []byte(content)
	return b
}

// Exec adds an executable file.
func (b *Builder) Exec(name, content string) *Builder {
	e := asarcore.NewFile(uint64(len(content)), true)
	b.add(name, e)
	b.contents[e] = []byte(content)
	return b
}

// Unpacked adds a file whose content lives outside the container. The
// content is only used for its size and digest.
func (b *Builder) Unpacked(name, content string) *Builder {
	e := asarcore.NewFile(uint64(len(content)), false)
	e.Unpacked = true
	b.add(name, e)
	b.contents[e] = []byte(content)
	return b
}

// Link adds a link entry with the given target.
func (b *Builder) Link(name, target string) *Builder {
	b.add(name, asarcore.NewLink(target))
	return b
}

// Root returns the entry tree built so far.
func (b *Builder) Root() *asarcore.Entry {
	return b.root
}

func (b *Builder) dir(name string) *asarcore.Entry {
	cur := b.root
	if name == "." || name == "" {
		return cur
	}
	for _, part := range strings.Split(name, "/") {
		next, ok := cur.Child(part)
		if !ok {
			next = asarcore.NewDirectory()
			cur.Add(part, next)
		}
		cur = next
	}
	return cur
}

func (b *Builder) add(name string, e *asarcore.Entry) {
	parent := b.dir(path.Dir(name))
	if !parent.Add(path.Base(name), e) {
		panic("testutil: cannot add " + name)
	}
}

// Bytes serializes the container.
func (b *Builder) Bytes() []byte {
	var data bytes.Buffer
	err := asarcore.Walk(b.root, func(_ string, e *asarcore.Entry) error {
		content, ok := b.contents[e]
		if !ok {
			return nil
		}
		if !b.plain {
			in, _, err := file.Compute(bytes.NewReader(content), b.blockSize)
			if err != nil {
				return err
			}
			e.Integrity = in
		}
		if !e.Unpacked {
			data.Write(content)
		}
		return nil
	})
	if err != nil {
		panic(err)
	}
	front, _, err := asarcore.Serialize(b.root)
	if err != nil {
		panic(err)
	}
	return append(front, data.Bytes()...)
}

// Source serializes the container into a MockByteSource.
func (b *Builder) Source() *MockByteSource {
	return NewMockByteSource(b.Bytes())
}
