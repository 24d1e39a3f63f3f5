package asar

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/moby/locker"

	asarcore "github.com/meigma/asar/core"
	"github.com/meigma/asar/core/cache"
	"github.com/meigma/asar/core/cache/disk"
	"github.com/meigma/asar/integrity"
)

// FS answers file requests on host paths, reading through containers where
// a path runs through one and delegating to the Host everywhere else.
//
// FS is safe for concurrent use.
type FS struct {
	host          Host
	logger        *slog.Logger
	disabled      bool
	extension     string
	sniff         bool
	verifier      *integrity.Verifier
	identity      func(string) string
	archiveOpts   []asarcore.Option
	cache         cache.Cache
	cacheDir      string
	cacheMaxBytes int64

	resolver *Resolver
	registry *Registry
	locks    *locker.Locker
}

// New returns an FS configured by opts.
func New(opts ...Option) (*FS, error) {
	f := &FS{
		host:      OSHost{},
		extension: DefaultExtension,
		locks:     locker.New(),
	}
	for _, opt := range opts {
		if err := opt(f); err != nil {
			return nil, err
		}
	}

	if f.cache == nil && f.cacheDir != "" {
		c, err := disk.New(f.cacheDir, disk.WithMaxBytes(f.cacheMaxBytes), disk.WithLogger(f.logger))
		if err != nil {
			return nil, fmt.Errorf("asar: copy-out cache: %w", err)
		}
		f.cache = c
	}

	f.resolver = &Resolver{
		host:      f.host,
		extension: f.extension,
		sniff:     f.sniff,
		disabled:  f.disabled,
	}
	regOpts := []RegistryOption{
		RegistryWithArchiveOptions(f.archiveOpts...),
		RegistryWithVerifier(f.verifier),
		RegistryWithLogger(f.logger),
	}
	if f.identity != nil {
		regOpts = append(regOpts, RegistryWithIdentity(f.identity))
	}
	f.registry = NewRegistry(f.host, regOpts...)
	return f, nil
}

func (f *FS) log() *slog.Logger {
	if f.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.logger
}

// Host returns the host primitive.
func (f *FS) Host() Host {
	return f.host
}

// Resolver returns the path resolver.
func (f *FS) Resolver() *Resolver {
	return f.resolver
}

// Registry returns the archive registry.
func (f *FS) Registry() *Registry {
	return f.registry
}

// Close closes every open archive.
func (f *FS) Close() error {
	return f.registry.Clear()
}

// target is a request routed into a container.
type target struct {
	loc     Location
	archive *asarcore.Archive
}

// route splits path. A nil target with a nil error means path is plain.
func (f *FS) route(op, path string) (*target, error) {
	loc, ok, err := f.resolver.Split(path)
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: path, Err: err}
	}
	if !ok {
		return nil, nil
	}
	a, err := f.registry.GetOrCreate(loc.Archive)
	if err != nil {
		return nil, &fs.PathError{Op: op, Path: path, Err: err}
	}
	return &target{loc: loc, archive: a}, nil
}

// unpackedPath returns where an unpacked entry lives on the host.
func unpackedPath(archive, inner string) string {
	return filepath.Join(archive+".unpacked", filepath.FromSlash(inner))
}

// resolveUnpacked follows links to the entry and reports its host path
// when the entry is stored outside the container.
func (t *target) resolveUnpacked() (string, bool, error) {
	e, resolved, err := t.archive.Resolve(t.loc.Inner)
	if err != nil {
		return "", false, err
	}
	if !e.Unpacked || e.IsDir() {
		return "", false, nil
	}
	return unpackedPath(t.loc.Archive, resolved), true, nil
}

// pathError reports err against the caller's path, unwrapping a path error
// that names the inner path.
func pathError(op, path string, err error) error {
	if pe, ok := err.(*fs.PathError); ok { //nolint:errorlint // only the outermost layer is replaced
		err = pe.Err
	}
	return &fs.PathError{Op: op, Path: path, Err: err}
}

// Read returns up to n bytes of the file at path starting at off. The
// result is shorter than n when the file ends first. Offsets past the end
// fail with ErrOutOfRange.
func (f *FS) Read(path string, off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 {
		return nil, &fs.PathError{Op: "read", Path: path, Err: fs.ErrInvalid}
	}
	t, err := f.route("read", path)
	if err != nil {
		return nil, err
	}
	if t == nil {
		data, err := readRangeRaw(f.host, path, off, int64(n))
		if err != nil {
			return nil, pathError("read", path, err)
		}
		return data, nil
	}
	host, unpacked, err := t.resolveUnpacked()
	if err != nil {
		return nil, pathError("read", path, err)
	}
	if unpacked {
		data, err := readRangeRaw(f.host, host, off, int64(n))
		if err != nil {
			return nil, pathError("read", path, err)
		}
		return data, nil
	}
	data, err := t.archive.ReadRange(t.loc.Inner, uint64(off), uint64(n))
	if err != nil {
		return nil, pathError("read", path, err)
	}
	return data, nil
}

// ReadFile returns the whole content of the file at path.
func (f *FS) ReadFile(path string) ([]byte, error) {
	t, err := f.route("readfile", path)
	if err != nil {
		return nil, err
	}
	if t == nil {
		data, err := readAllRaw(f.host, path)
		if err != nil {
			return nil, pathError("readfile", path, err)
		}
		return data, nil
	}
	host, unpacked, err := t.resolveUnpacked()
	if err != nil {
		return nil, pathError("readfile", path, err)
	}
	if unpacked {
		data, err := readAllRaw(f.host, host)
		if err != nil {
			return nil, pathError("readfile", path, err)
		}
		return data, nil
	}
	data, err := t.archive.ReadFile(t.loc.Inner)
	if err != nil {
		return nil, pathError("readfile", path, err)
	}
	return data, nil
}

// Stat describes path, following links. Inside a container it is answered
// from the header alone.
func (f *FS) Stat(path string) (fs.FileInfo, error) {
	t, err := f.route("stat", path)
	if err != nil {
		return nil, err
	}
	if t == nil {
		info, err := f.host.StatRaw(path)
		if err != nil {
			return nil, pathError("stat", path, err)
		}
		return info, nil
	}
	info, err := t.archive.Stat(t.loc.Inner)
	if err != nil {
		return nil, pathError("stat", path, err)
	}
	return info, nil
}

// Lstat is like Stat but does not follow a final link. On plain paths it
// needs a LinkHost and otherwise behaves like Stat.
func (f *FS) Lstat(path string) (fs.FileInfo, error) {
	t, err := f.route("lstat", path)
	if err != nil {
		return nil, err
	}
	if t == nil {
		var info fs.FileInfo
		if lh, ok := f.host.(LinkHost); ok {
			info, err = lh.LstatRaw(path)
		} else {
			info, err = f.host.StatRaw(path)
		}
		if err != nil {
			return nil, pathError("lstat", path, err)
		}
		return info, nil
	}
	info, err := t.archive.Lstat(t.loc.Inner)
	if err != nil {
		return nil, pathError("lstat", path, err)
	}
	return info, nil
}

// ReadDir lists the directory at path sorted by name.
func (f *FS) ReadDir(path string) ([]fs.DirEntry, error) {
	t, err := f.route("readdir", path)
	if err != nil {
		return nil, err
	}
	if t == nil {
		dh, ok := f.host.(DirHost)
		if !ok {
			return nil, &fs.PathError{Op: "readdir", Path: path, Err: errors.ErrUnsupported}
		}
		entries, err := dh.ReadDirRaw(path)
		if err != nil {
			return nil, pathError("readdir", path, err)
		}
		return entries, nil
	}
	entries, err := t.archive.ReadDir(t.loc.Inner)
	if err != nil {
		return nil, pathError("readdir", path, err)
	}
	return entries, nil
}

// Readlink returns the stored target of the link at path.
func (f *FS) Readlink(path string) (string, error) {
	t, err := f.route("readlink", path)
	if err != nil {
		return "", err
	}
	if t == nil {
		lh, ok := f.host.(LinkHost)
		if !ok {
			return "", &fs.PathError{Op: "readlink", Path: path, Err: errors.ErrUnsupported}
		}
		target, err := lh.ReadlinkRaw(path)
		if err != nil {
			return "", pathError("readlink", path, err)
		}
		return target, nil
	}
	target, err := t.archive.Readlink(t.loc.Inner)
	if err != nil {
		return "", pathError("readlink", path, err)
	}
	return target, nil
}

// Realpath returns the absolute host path of path with every link inside a
// container resolved. Plain paths are resolved by a LinkHost, or cleaned
// when the host has no links.
func (f *FS) Realpath(path string) (string, error) {
	t, err := f.route("realpath", path)
	if err != nil {
		return "", err
	}
	if t == nil {
		if lh, ok := f.host.(LinkHost); ok {
			resolved, err := lh.RealpathRaw(path)
			if err != nil {
				return "", pathError("realpath", path, err)
			}
			return resolved, nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			return "", pathError("realpath", path, err)
		}
		return abs, nil
	}
	resolved, err := t.archive.Realpath(t.loc.Inner)
	if err != nil {
		return "", pathError("realpath", path, err)
	}
	if resolved == "." {
		return t.loc.Archive, nil
	}
	return filepath.Join(t.loc.Archive, filepath.FromSlash(resolved)), nil
}

// Open opens path for reading. Container files implement io.ReaderAt and
// io.Seeker; container directories implement fs.ReadDirFile.
func (f *FS) Open(path string) (fs.File, error) {
	t, err := f.route("open", path)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return f.openRaw(path, path)
	}
	host, unpacked, err := t.resolveUnpacked()
	if err != nil {
		return nil, pathError("open", path, err)
	}
	if unpacked {
		return f.openRaw(path, host)
	}
	file, err := t.archive.Open(t.loc.Inner)
	if err != nil {
		return nil, pathError("open", path, err)
	}
	return file, nil
}

// openRaw opens hostPath through the host and reports errors against name.
func (f *FS) openRaw(name, hostPath string) (fs.File, error) {
	info, err := f.host.StatRaw(hostPath)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	if info.IsDir() {
		return &hostDir{fsys: f, name: name, path: hostPath, info: info}, nil
	}
	h, err := f.host.OpenRaw(hostPath)
	if err != nil {
		return nil, pathError("open", name, err)
	}
	return &hostFile{name: name, handle: h, info: info}, nil
}

// IsArchiveTrusted reports whether the container at path is covered by the
// manifest and matches it. Paths that are not containers are untrusted.
func (f *FS) IsArchiveTrusted(path string) bool {
	return f.Trust(path).Trusted()
}

// Trust returns the full verification result for the container at path.
func (f *FS) Trust(path string) integrity.Result {
	loc, ok, err := f.resolver.Split(path)
	switch {
	case err != nil:
		return integrity.Result{ID: path, Err: errors.Join(integrity.ErrUntrusted, err)}
	case !ok || loc.Inner != ".":
		return integrity.Result{ID: path, Err: fmt.Errorf("%w: %s is not a container", integrity.ErrUntrusted, path)}
	}
	return f.registry.Trust(loc.Archive)
}

// hostFile is a plain file opened through the host.
type hostFile struct {
	name   string
	handle Handle
	info   fs.FileInfo

	mu     sync.Mutex
	off    int64
	closed bool
}

func (h *hostFile) Read(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, &fs.PathError{Op: "read", Path: h.name, Err: fs.ErrClosed}
	}
	if h.off >= h.handle.Size() {
		return 0, io.EOF
	}
	n, err := h.handle.ReadAt(p, h.off)
	h.off += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (h *hostFile) ReadAt(p []byte, off int64) (int, error) {
	return h.handle.ReadAt(p, off)
}

func (h *hostFile) Seek(offset int64, whence int) (int64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = h.off + offset
	case io.SeekEnd:
		next = h.handle.Size() + offset
	default:
		return 0, &fs.PathError{Op: "seek", Path: h.name, Err: fs.ErrInvalid}
	}
	if next < 0 {
		return 0, &fs.PathError{Op: "seek", Path: h.name, Err: fs.ErrInvalid}
	}
	h.off = next
	return next, nil
}

func (h *hostFile) Stat() (fs.FileInfo, error) {
	return h.info, nil
}

func (h *hostFile) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.handle.Close()
}

// hostDir is a plain directory opened through the host.
type hostDir struct {
	fsys *FS
	name string
	path string
	info fs.FileInfo

	mu      sync.Mutex
	entries []fs.DirEntry
	loaded  bool
}

func (d *hostDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: ErrIsDir}
}

func (d *hostDir) Stat() (fs.FileInfo, error) {
	return d.info, nil
}

func (d *hostDir) Close() error {
	return nil
}

func (d *hostDir) ReadDir(n int) ([]fs.DirEntry, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.loaded {
		dh, ok := d.fsys.host.(DirHost)
		if !ok {
			return nil, &fs.PathError{Op: "readdir", Path: d.name, Err: errors.ErrUnsupported}
		}
		entries, err := dh.ReadDirRaw(d.path)
		if err != nil {
			return nil, pathError("readdir", d.name, err)
		}
		d.entries = entries
		d.loaded = true
	}
	if n <= 0 {
		rest := d.entries
		d.entries = nil
		return rest, nil
	}
	if len(d.entries) == 0 {
		return nil, io.EOF
	}
	n = min(n, len(d.entries))
	out := d.entries[:n]
	d.entries = d.entries[n:]
	return out, nil
}

// Interface compliance.
var (
	_ io.ReaderAt    = (*hostFile)(nil)
	_ io.Seeker      = (*hostFile)(nil)
	_ fs.ReadDirFile = (*hostDir)(nil)
)
