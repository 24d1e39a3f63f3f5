package asar_test

import (
	"bytes"
	"io/fs"
	"path"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meigma/asar"
)

// memHost is an in-memory Host that counts opens.
type memHost struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool
	opens atomic.Int64
}

func newMemHost() *memHost {
	return &memHost{
		files: make(map[string][]byte),
		dirs:  map[string]bool{"/": true},
	}
}

func (h *memHost) put(name string, data []byte) *memHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.files[name] = data
	for dir := path.Dir(name); ; dir = path.Dir(dir) {
		h.dirs[dir] = true
		if dir == "/" {
			break
		}
	}
	return h
}

func (h *memHost) mkdir(name string) *memHost {
	h.mu.Lock()
	defer h.mu.Unlock()
	for dir := name; ; dir = path.Dir(dir) {
		h.dirs[dir] = true
		if dir == "/" {
			break
		}
	}
	return h
}

func (h *memHost) OpenRaw(name string) (asar.Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	data, ok := h.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	h.opens.Add(1)
	return &memHandle{Reader: bytes.NewReader(data)}, nil
}

func (h *memHost) StatRaw(name string) (fs.FileInfo, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if data, ok := h.files[name]; ok {
		return memInfo{name: path.Base(name), size: int64(len(data))}, nil
	}
	if h.dirs[name] {
		return memInfo{name: path.Base(name), dir: true}, nil
	}
	return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
}

func (h *memHost) ReadDirRaw(name string) ([]fs.DirEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.dirs[name] {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: fs.ErrNotExist}
	}
	seen := map[string]fs.DirEntry{}
	prefix := strings.TrimSuffix(name, "/") + "/"
	for f, data := range h.files {
		if rest, ok := strings.CutPrefix(f, prefix); ok && !strings.Contains(rest, "/") {
			seen[rest] = fs.FileInfoToDirEntry(memInfo{name: rest, size: int64(len(data))})
		}
	}
	for d := range h.dirs {
		if rest, ok := strings.CutPrefix(d, prefix); ok && rest != "" && !strings.Contains(rest, "/") {
			seen[rest] = fs.FileInfoToDirEntry(memInfo{name: rest, dir: true})
		}
	}
	entries := make([]fs.DirEntry, 0, len(seen))
	for _, e := range seen {
		entries = append(entries, e)
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int { return strings.Compare(a.Name(), b.Name()) })
	return entries, nil
}

var _ asar.DirHost = (*memHost)(nil)

type memHandle struct {
	*bytes.Reader
	closed atomic.Bool
}

func (h *memHandle) Close() error {
	h.closed.Store(true)
	return nil
}

type memInfo struct {
	name string
	size int64
	dir  bool
}

func (i memInfo) Name() string { return i.name }
func (i memInfo) Size() int64  { return i.size }
func (i memInfo) Mode() fs.FileMode {
	if i.dir {
		return fs.ModeDir | 0o755
	}
	return 0o644
}
func (i memInfo) ModTime() time.Time { return time.Unix(1700000000, 0) }
func (i memInfo) IsDir() bool        { return i.dir }
func (i memInfo) Sys() any           { return nil }

func TestResolverSplit(t *testing.T) {
	t.Parallel()

	container := []byte{12, 0, 0, 0, 0, 0, 0, 0, '{', '"', 'f', 'i', 'l', 'e', 's', '"', ':', '{', '}', '}'}
	host := newMemHost().
		put("/app/resources/app.asar", container).
		put("/app/UPPER.ASAR", container).
		put("/app/plain.txt", []byte("plain")).
		put("/app/packed.bin", container).
		mkdir("/app/folder.asar")
	r := asar.NewResolver(host)

	tests := []struct {
		path    string
		ok      bool
		archive string
		inner   string
	}{
		{"/app/resources/app.asar/lib/index.js", true, "/app/resources/app.asar", "lib/index.js"},
		{"/app/resources/app.asar", true, "/app/resources/app.asar", "."},
		{"/app/resources/app.asar/", true, "/app/resources/app.asar", "."},
		{"/app/resources/./x/../app.asar/a//b", true, "/app/resources/app.asar", "a/b"},
		{"/app/UPPER.ASAR/x", true, "/app/UPPER.ASAR", "x"},
		{"/app/plain.txt", false, "", ""},
		{"/app/missing.asar/x", false, "", ""},
		{"/app/folder.asar/x", false, "", ""},
		{"/app/packed.bin/x", false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			loc, ok, err := r.Split(tt.path)
			if err != nil {
				t.Fatalf("Split() error = %v", err)
			}
			if ok != tt.ok {
				t.Fatalf("Split() ok = %v, want %v", ok, tt.ok)
			}
			if loc.Archive != tt.archive || loc.Inner != tt.inner {
				t.Fatalf("Split() = %+v, want {%s %s}", loc, tt.archive, tt.inner)
			}
		})
	}
}
