package asar

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/meigma/asar/core/internal/asartype"
	"github.com/meigma/asar/core/internal/header"
	"github.com/meigma/asar/core/internal/sizing"
)

// PrefixSize is the length of the little-endian header length prefix.
const PrefixSize = 8

// DefaultMaxHeaderSize bounds the JSON header length accepted by ReadHeader.
const DefaultMaxHeaderSize = 64 << 20

// Header is the decoded front of a container.
type Header struct {
	// Root is the top-level directory.
	Root *Entry

	// JSON holds the raw header bytes exactly as stored.
	JSON []byte

	// Size is PrefixSize plus the JSON length: the offset of the data region.
	Size uint64

	// DataSize is the length of the data region.
	DataSize uint64
}

// ReadHeader decodes and validates the header of a container of the given
// total size. maxHeaderSize of zero means DefaultMaxHeaderSize.
func ReadHeader(src io.ReaderAt, size int64, maxHeaderSize uint64) (*Header, error) {
	if maxHeaderSize == 0 {
		maxHeaderSize = DefaultMaxHeaderSize
	}
	if size < PrefixSize {
		return nil, asartype.Malformed("container is %d bytes, shorter than the length prefix", size)
	}
	var prefix [PrefixSize]byte
	if _, err := src.ReadAt(prefix[:], 0); err != nil {
		return nil, fmt.Errorf("read header prefix: %w", err)
	}
	n := binary.LittleEndian.Uint64(prefix[:])
	avail := uint64(size) - PrefixSize
	if n > avail {
		return nil, asartype.Malformed("header length %d exceeds %d available bytes", n, avail)
	}
	if n > maxHeaderSize {
		return nil, asartype.Malformed("header length %d exceeds limit %d", n, maxHeaderSize)
	}
	count, err := sizing.ToInt(n, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	data := make([]byte, count)
	if count > 0 {
		if _, err := src.ReadAt(data, PrefixSize); err != nil && err != io.EOF {
			return nil, fmt.Errorf("read header: %w", err)
		}
	}

	root, err := header.Decode(data)
	if err != nil {
		return nil, err
	}
	h := &Header{
		Root:     root,
		JSON:     data,
		Size:     PrefixSize + n,
		DataSize: avail - n,
	}
	if err := header.Validate(root, h.DataSize); err != nil {
		return nil, err
	}
	return h, nil
}

// ParseHeader decodes a complete in-memory container.
func ParseHeader(data []byte) (*Header, error) {
	return ReadHeader(bytes.NewReader(data), int64(len(data)), 0)
}

// Serialize lays out the tree under root and returns the container front
// (length prefix plus JSON) together with the data region size.
//
// Offsets of packed files are reassigned in depth-first pre-order, so the
// data region is the concatenation of file contents in that order. The
// output is deterministic for a given tree.
func Serialize(root *Entry) ([]byte, uint64, error) {
	if root == nil || !root.IsDir() {
		return nil, 0, fmt.Errorf("serialize: root must be a directory")
	}
	dataSize, err := header.AssignOffsets(root)
	if err != nil {
		return nil, 0, err
	}
	js, err := header.Encode(root)
	if err != nil {
		return nil, 0, fmt.Errorf("serialize: %w", err)
	}
	out := make([]byte, PrefixSize, PrefixSize+len(js))
	binary.LittleEndian.PutUint64(out, uint64(len(js)))
	return append(out, js...), dataSize, nil
}

// Sniff reports whether src starts like a container: a length prefix that
// fits the file followed by a JSON object.
func Sniff(src io.ReaderAt, size int64) bool {
	if size <= PrefixSize {
		return false
	}
	var buf [PrefixSize + 16]byte
	n, err := src.ReadAt(buf[:], 0)
	if n <= PrefixSize || (err != nil && err != io.EOF) {
		return false
	}
	length := binary.LittleEndian.Uint64(buf[:PrefixSize])
	if length < 2 || length > uint64(size)-PrefixSize {
		return false
	}
	for _, c := range buf[PrefixSize:n] {
		switch c {
		case ' ', '\t', '\r', '\n':
			continue
		case '{':
			return true
		default:
			return false
		}
	}
	return false
}

// Walk visits every entry under root in serialization order.
func Walk(root *Entry, fn func(path string, e *Entry) error) error {
	return header.Walk(root, fn)
}
