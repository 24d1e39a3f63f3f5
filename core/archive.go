package asar

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/meigma/asar/core/internal/file"
)

// Interface compliance.
var (
	_ fs.FS         = (*Archive)(nil)
	_ fs.StatFS     = (*Archive)(nil)
	_ fs.ReadFileFS = (*Archive)(nil)
	_ fs.ReadDirFS  = (*Archive)(nil)
)

// Archive is a parsed container. It is immutable after New returns and safe
// for concurrent use.
type Archive struct {
	header        *Header
	source        ByteSource
	reader        *file.Reader
	path          string
	modTime       time.Time
	verify        bool
	maxLinkHops   int
	maxHeaderSize uint64
	logger        *slog.Logger

	closer    io.Closer
	closeOnce sync.Once
	closeErr  error
}

// log returns the logger, falling back to a discard logger if nil.
func (a *Archive) log() *slog.Logger {
	if a.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return a.logger
}

// New parses the header of source and returns an Archive reading from it.
// Errors from a bad container match ErrInvalidArchive.
func New(source ByteSource, opts ...Option) (*Archive, error) {
	a := &Archive{
		source:      source,
		maxLinkHops: DefaultMaxLinkHops,
	}
	for _, opt := range opts {
		opt(a)
	}
	h, err := ReadHeader(source, source.Size(), a.maxHeaderSize)
	if err != nil {
		return nil, err
	}
	a.header = h
	a.reader = file.NewReader(source, h.Size, file.WithVerify(a.verify))
	a.log().Debug("parsed archive header",
		"path", a.path,
		"header_size", h.Size,
		"data_size", h.DataSize,
	)
	return a, nil
}

// Header returns the decoded header. Callers must not modify it.
func (a *Archive) Header() *Header {
	return a.header
}

// HeaderSize returns the offset of the data region.
func (a *Archive) HeaderSize() uint64 {
	return a.header.Size
}

// HeaderBytes returns the raw JSON header.
func (a *Archive) HeaderBytes() []byte {
	return a.header.JSON
}

// Path returns the host path recorded with WithPath or OpenFile.
func (a *Archive) Path() string {
	return a.path
}

// ModTime returns the modification time reported for entries.
func (a *Archive) ModTime() time.Time {
	return a.modTime
}

// Source returns the underlying byte source.
func (a *Archive) Source() ByteSource {
	return a.source
}

// SourceID returns the stable identifier of the underlying content.
func (a *Archive) SourceID() string {
	return a.source.SourceID()
}

// Size returns the total container size in bytes.
func (a *Archive) Size() int64 {
	return a.source.Size()
}

// VerifiesIntegrity reports whether reads check embedded block digests.
func (a *Archive) VerifiesIntegrity() bool {
	return a.verify
}

// Close releases the underlying file when the Archive owns one. It is safe
// to call more than once.
func (a *Archive) Close() error {
	a.closeOnce.Do(func() {
		if a.closer != nil {
			a.closeErr = a.closer.Close()
		}
	})
	return a.closeErr
}

// lookup walks name from the root. Links met on the way are followed
// relative to the directory that contains them; the final component is
// followed only when follow is set. It returns the entry and its resolved
// path.
func (a *Archive) lookup(name string, follow bool) (*Entry, string, error) {
	pending := splitPath(name)
	dirs := []*Entry{a.header.Root}
	names := []string{}
	hops := 0

	for len(pending) > 0 {
		part := pending[0]
		pending = pending[1:]

		switch part {
		case "", ".":
			continue
		case "..":
			if len(names) == 0 {
				return nil, "", fmt.Errorf("%w: path escapes archive root", fs.ErrNotExist)
			}
			dirs = dirs[:len(dirs)-1]
			names = names[:len(names)-1]
			continue
		}

		cur := dirs[len(dirs)-1]
		if !cur.IsDir() {
			return nil, "", ErrNotDir
		}
		child, ok := cur.Child(part)
		if !ok {
			return nil, "", fs.ErrNotExist
		}
		if child.IsLink() && (len(pending) > 0 || follow) {
			hops++
			if hops > a.maxLinkHops {
				return nil, "", errors.Join(ErrLinkCycle, fs.ErrNotExist)
			}
			target := child.Link
			if strings.HasPrefix(target, "/") {
				dirs = dirs[:1]
				names = names[:0]
			}
			pending = append(splitLink(target), pending...)
			continue
		}
		dirs = append(dirs, child)
		names = append(names, part)
	}

	resolved := "."
	if len(names) > 0 {
		resolved = strings.Join(names, "/")
	}
	return dirs[len(dirs)-1], resolved, nil
}

func splitLink(target string) []string {
	return strings.Split(strings.ReplaceAll(target, `\`, "/"), "/")
}

// Resolve returns the entry name refers to after following links, together
// with its link-free path inside the archive.
func (a *Archive) Resolve(name string) (*Entry, string, error) {
	if !fs.ValidPath(name) {
		return nil, "", &fs.PathError{Op: "resolve", Path: name, Err: fs.ErrInvalid}
	}
	e, resolved, err := a.lookup(name, true)
	if err != nil {
		return nil, "", &fs.PathError{Op: "resolve", Path: name, Err: err}
	}
	return e, resolved, nil
}

// Lookup returns the entry for name without following a final link.
func (a *Archive) Lookup(name string) (*Entry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "lookup", Path: name, Err: fs.ErrInvalid}
	}
	e, _, err := a.lookup(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "lookup", Path: name, Err: err}
	}
	return e, nil
}

func (a *Archive) info(e *Entry, name string) *file.Info {
	base := "."
	if name != "." {
		base = baseName(name)
	}
	return file.NewInfo(e, base, a.modTime)
}

// Stat implements fs.StatFS. Links are followed; the returned info carries
// the requested base name.
func (a *Archive) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	e, _, err := a.lookup(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return a.info(e, name), nil
}

// Lstat is like Stat but describes a final link itself.
func (a *Archive) Lstat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: fs.ErrInvalid}
	}
	e, _, err := a.lookup(name, false)
	if err != nil {
		return nil, &fs.PathError{Op: "lstat", Path: name, Err: err}
	}
	return a.info(e, name), nil
}

// Readlink returns the stored target of the link name.
func (a *Archive) Readlink(name string) (string, error) {
	e, err := a.Lookup(name)
	if err != nil {
		return "", err
	}
	if !e.IsLink() {
		return "", &fs.PathError{Op: "readlink", Path: name, Err: fs.ErrInvalid}
	}
	return e.Link, nil
}

// Realpath returns name with every link resolved.
func (a *Archive) Realpath(name string) (string, error) {
	_, resolved, err := a.Resolve(name)
	if err != nil {
		return "", &fs.PathError{Op: "realpath", Path: name, Err: errors.Unwrap(err)}
	}
	return resolved, nil
}

// ReadRange reads up to length bytes of the file name starting at off. The
// result is shorter than length when the file ends first, and empty when
// off equals the file size. Offsets past the end fail with ErrOutOfRange.
func (a *Archive) ReadRange(name string, off, length uint64) ([]byte, error) {
	e, _, err := a.resolveFile("read", name)
	if err != nil {
		return nil, err
	}
	data, err := a.reader.Read(e, off, length)
	if err != nil {
		return nil, &fs.PathError{Op: "read", Path: name, Err: err}
	}
	return data, nil
}

// ReadFile implements fs.ReadFileFS.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	e, _, err := a.resolveFile("readfile", name)
	if err != nil {
		return nil, err
	}
	data, err := a.reader.ReadAll(e)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return data, nil
}

func (a *Archive) resolveFile(op, name string) (*Entry, string, error) {
	if !fs.ValidPath(name) {
		return nil, "", &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	e, resolved, err := a.lookup(name, true)
	if err != nil {
		return nil, "", &fs.PathError{Op: op, Path: name, Err: err}
	}
	if e.IsDir() {
		return nil, "", &fs.PathError{Op: op, Path: name, Err: ErrIsDir}
	}
	return e, resolved, nil
}

// ReadDir implements fs.ReadDirFS. Entries are sorted by name as fs.ReadDirFS
// requires; use Entries for storage order.
func (a *Archive) ReadDir(name string) ([]fs.DirEntry, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrInvalid}
	}
	dir, _, err := a.lookup(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	if !dir.IsDir() {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: ErrNotDir}
	}
	entries := a.dirEntries(dir)
	slices.SortFunc(entries, func(x, y fs.DirEntry) int {
		return strings.Compare(x.Name(), y.Name())
	})
	return entries, nil
}

func (a *Archive) dirEntries(dir *Entry) []fs.DirEntry {
	names := dir.Names()
	entries := make([]fs.DirEntry, 0, len(names))
	for _, n := range names {
		child, _ := dir.Child(n)
		entries = append(entries, file.NewDirEntry(file.NewInfo(child, n, a.modTime)))
	}
	return entries
}

// Open implements fs.FS. Files are returned as File, directories as
// fs.ReadDirFile. Links are followed.
func (a *Archive) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}
	e, _, err := a.lookup(name, true)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if e.IsDir() {
		return &openDir{a: a, name: name, entry: e}, nil
	}
	if e.Unpacked {
		return nil, &fs.PathError{Op: "open", Path: name, Err: ErrUnpacked}
	}
	if a.verify {
		if err := file.ValidateIntegrity(e); err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
	}
	return &openFile{a: a, name: name, entry: e}, nil
}

// OpenEntry is like Open for files but returns the concrete File.
func (a *Archive) OpenEntry(name string) (File, error) {
	f, err := a.Open(name)
	if err != nil {
		return nil, err
	}
	of, ok := f.(*openFile)
	if !ok {
		f.Close()
		return nil, &fs.PathError{Op: "open", Path: name, Err: ErrIsDir}
	}
	return of, nil
}

// Entries yields every entry in serialization order with its path.
func (a *Archive) Entries() iter.Seq2[string, *Entry] {
	return func(yield func(string, *Entry) bool) {
		stop := errors.New("stop")
		_ = Walk(a.header.Root, func(path string, e *Entry) error {
			if !yield(path, e) {
				return stop
			}
			return nil
		})
	}
}

// Len returns the number of entries below the root.
func (a *Archive) Len() int {
	n := 0
	for range a.Entries() {
		n++
	}
	return n
}

// openFile implements File over a packed entry.
type openFile struct {
	a      *Archive
	name   string
	entry  *Entry
	mu     sync.Mutex
	off    int64
	closed bool
}

func (f *openFile) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, &fs.PathError{Op: "read", Path: f.name, Err: fs.ErrClosed}
	}
	n, err := f.a.reader.ReadAt(f.entry, p, f.off)
	f.off += int64(n)
	if err != nil && err != io.EOF {
		return n, &fs.PathError{Op: "read", Path: f.name, Err: err}
	}
	return n, err
}

func (f *openFile) ReadAt(p []byte, off int64) (int, error) {
	n, err := f.a.reader.ReadAt(f.entry, p, off)
	if err != nil && err != io.EOF {
		return n, &fs.PathError{Op: "readat", Path: f.name, Err: err}
	}
	return n, err
}

func (f *openFile) Seek(offset int64, whence int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = f.off + offset
	case io.SeekEnd:
		abs = int64(f.entry.Size) + offset //nolint:gosec // sizes are validated against the container length
	default:
		return 0, &fs.PathError{Op: "seek", Path: f.name, Err: fs.ErrInvalid}
	}
	if abs < 0 {
		return 0, &fs.PathError{Op: "seek", Path: f.name, Err: fs.ErrInvalid}
	}
	f.off = abs
	return abs, nil
}

func (f *openFile) Stat() (fs.FileInfo, error) {
	return f.a.info(f.entry, f.name), nil
}

func (f *openFile) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return &fs.PathError{Op: "close", Path: f.name, Err: fs.ErrClosed}
	}
	f.closed = true
	return nil
}

// openDir implements fs.ReadDirFile for archive directories. Entries are
// returned in storage order.
type openDir struct {
	a       *Archive
	name    string
	entry   *Entry
	entries []fs.DirEntry
	pos     int
	loaded  bool
}

func (d *openDir) Read(_ []byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: ErrIsDir}
}

func (d *openDir) Stat() (fs.FileInfo, error) {
	return d.a.info(d.entry, d.name), nil
}

func (d *openDir) Close() error {
	return nil
}

func (d *openDir) ReadDir(n int) ([]fs.DirEntry, error) {
	if !d.loaded {
		d.entries = d.a.dirEntries(d.entry)
		d.loaded = true
	}
	rest := d.entries[d.pos:]
	if n <= 0 {
		d.pos = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(rest))
	d.pos += n
	return rest[:n], nil
}
