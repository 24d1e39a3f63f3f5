package file

import (
	"crypto/sha256"
	"fmt"
	"io"

	"github.com/meigma/asar/core/internal/sizing"
)

// ByteSource provides positioned reads over the whole container file.
// Implementations must be safe for concurrent ReadAt calls.
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// Reader reads entry content out of a container's data region.
type Reader struct {
	source ByteSource
	base   uint64
	verify bool
}

// Option configures a Reader.
type Option func(*Reader)

// WithVerify enables block integrity verification on every read.
func WithVerify(enabled bool) Option {
	return func(r *Reader) {
		r.verify = enabled
	}
}

// NewReader creates a Reader whose data region starts at base bytes into source.
func NewReader(source ByteSource, base uint64, opts ...Option) *Reader {
	r := &Reader{source: source, base: base}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Source returns the underlying ByteSource.
func (r *Reader) Source() ByteSource {
	return r.source
}

// Verifying reports whether block verification is enabled.
func (r *Reader) Verifying() bool {
	return r.verify
}

// absolute converts an entry-relative offset into a container offset.
func (r *Reader) absolute(entry *Entry, off uint64) (int64, error) {
	pos, ok := sizing.AddUint64(r.base, entry.Offset)
	if !ok {
		return 0, ErrSizeOverflow
	}
	if pos, ok = sizing.AddUint64(pos, off); !ok {
		return 0, ErrSizeOverflow
	}
	return sizing.ToInt64(pos, ErrSizeOverflow)
}

func (r *Reader) check(entry *Entry) error {
	switch {
	case entry.IsDir():
		return ErrIsDir
	case entry.Unpacked:
		return ErrUnpacked
	case !entry.IsFile():
		return fmt.Errorf("read: entry is a %s", entry.Kind)
	}
	if r.verify {
		return ValidateIntegrity(entry)
	}
	return nil
}

// Read returns up to length bytes of entry starting at off.
// It fails with ErrOutOfRange when off is past the end of the entry.
func (r *Reader) Read(entry *Entry, off, length uint64) ([]byte, error) {
	if err := r.check(entry); err != nil {
		return nil, err
	}
	n, ok := sizing.Window(entry.Size, off, length)
	if !ok {
		return nil, fmt.Errorf("%w: offset %d, size %d", ErrOutOfRange, off, entry.Size)
	}
	count, err := sizing.ToInt(n, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, count)
	if count == 0 {
		return buf, nil
	}
	if r.verify {
		if err := r.readVerified(entry, buf, off); err != nil {
			return nil, err
		}
		return buf, nil
	}
	if err := r.readRaw(entry, buf, off); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadAt implements io.ReaderAt semantics for a single entry.
func (r *Reader) ReadAt(entry *Entry, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if uint64(off) >= entry.Size {
		if err := r.check(entry); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	data, err := r.Read(entry, uint64(off), uint64(len(p)))
	n := copy(p, data)
	if err != nil {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// ReadAll returns the whole entry. With verification enabled the whole-file
// hash is checked in addition to the blocks.
func (r *Reader) ReadAll(entry *Entry) ([]byte, error) {
	data, err := r.Read(entry, 0, entry.Size)
	if err != nil {
		return nil, err
	}
	if r.verify && entry.Size > 0 {
		sum := sha256.Sum256(data)
		if !digestEqual(entry.Integrity.Hash, sum[:]) {
			return nil, fmt.Errorf("%w: file hash mismatch", ErrIntegrity)
		}
	}
	return data, nil
}

// SectionReader returns a reader over the raw entry bytes without
// verification. It is meant for bulk copies that verify separately.
func (r *Reader) SectionReader(entry *Entry) (*io.SectionReader, error) {
	if err := r.check(entry); err != nil {
		return nil, err
	}
	start, err := r.absolute(entry, 0)
	if err != nil {
		return nil, err
	}
	size, err := sizing.ToInt64(entry.Size, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}
	return io.NewSectionReader(r.source, start, size), nil
}

func (r *Reader) readRaw(entry *Entry, buf []byte, off uint64) error {
	pos, err := r.absolute(entry, off)
	if err != nil {
		return err
	}
	n, err := r.source.ReadAt(buf, pos)
	if err == io.EOF && n == len(buf) {
		err = nil
	}
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("read: short read (%d of %d bytes)", n, len(buf))
		}
		return fmt.Errorf("read: %w", err)
	}
	return nil
}

// readVerified reads every block touched by [off, off+len(buf)), checks
// each block digest, then copies the requested window out.
func (r *Reader) readVerified(entry *Entry, buf []byte, off uint64) error {
	bs := uint64(entry.Integrity.BlockSize)
	first := off / bs
	last := (off + uint64(len(buf)) - 1) / bs

	start := first * bs
	end := min((last+1)*bs, entry.Size)
	span, err := sizing.ToInt(end-start, ErrSizeOverflow)
	if err != nil {
		return err
	}
	blocks := make([]byte, span)
	if err := r.readRaw(entry, blocks, start); err != nil {
		return err
	}

	for i := first; i <= last; i++ {
		lo := (i - first) * bs
		hi := min(lo+bs, uint64(len(blocks)))
		sum := sha256.Sum256(blocks[lo:hi])
		if !digestEqual(entry.Integrity.Blocks[i], sum[:]) {
			return fmt.Errorf("%w: block %d hash mismatch", ErrIntegrity, i)
		}
	}
	copy(buf, blocks[off-start:])
	return nil
}

