package asar

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Handle is an open host file supporting positioned reads.
type Handle interface {
	io.ReaderAt
	io.Closer
	Size() int64
}

// Host is the raw file primitive that plain paths are delegated to and
// containers are read through. Paths are absolute host paths.
type Host interface {
	// OpenRaw opens a regular file for positioned reads.
	OpenRaw(path string) (Handle, error)

	// StatRaw describes path, following symlinks.
	StatRaw(path string) (fs.FileInfo, error)
}

// DirHost is implemented by hosts that can list plain directories.
type DirHost interface {
	Host
	ReadDirRaw(path string) ([]fs.DirEntry, error)
}

// LinkHost is implemented by hosts with symbolic links.
type LinkHost interface {
	Host
	LstatRaw(path string) (fs.FileInfo, error)
	ReadlinkRaw(path string) (string, error)
	RealpathRaw(path string) (string, error)
}

// OSHost implements Host on the local filesystem.
type OSHost struct{}

// Interface compliance.
var (
	_ DirHost  = OSHost{}
	_ LinkHost = OSHost{}
)

type osHandle struct {
	*os.File
	size int64
}

func (h *osHandle) Size() int64 {
	return h.size
}

// OpenRaw opens path with os.Open. Directories are rejected.
func (OSHost) OpenRaw(path string) (Handle, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, &fs.PathError{Op: "open", Path: path, Err: ErrIsDir}
	}
	return &osHandle{File: f, size: info.Size()}, nil
}

// StatRaw implements Host with os.Stat.
func (OSHost) StatRaw(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// ReadDirRaw implements DirHost with os.ReadDir.
func (OSHost) ReadDirRaw(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

// LstatRaw implements LinkHost with os.Lstat.
func (OSHost) LstatRaw(path string) (fs.FileInfo, error) {
	return os.Lstat(path)
}

// ReadlinkRaw implements LinkHost with os.Readlink.
func (OSHost) ReadlinkRaw(path string) (string, error) {
	return os.Readlink(path)
}

// RealpathRaw implements LinkHost with filepath.EvalSymlinks.
func (OSHost) RealpathRaw(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Abs(resolved)
}

// readAllRaw reads the whole of path through host.
func readAllRaw(host Host, path string) ([]byte, error) {
	h, err := host.OpenRaw(path)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	size := h.Size()
	if size < 0 {
		return nil, fmt.Errorf("%s: negative size", path)
	}
	buf := make([]byte, size)
	n, err := h.ReadAt(buf, 0)
	if err != nil && err != io.EOF {
		return nil, err
	}
	if int64(n) != size {
		return nil, io.ErrUnexpectedEOF
	}
	return buf, nil
}

// readRangeRaw reads up to n bytes of path starting at off.
func readRangeRaw(host Host, path string, off, n int64) ([]byte, error) {
	h, err := host.OpenRaw(path)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	size := h.Size()
	if off > size {
		return nil, ErrOutOfRange
	}
	n = min(n, size-off)
	buf := make([]byte, n)
	got, err := h.ReadAt(buf, off)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:got], nil
}
