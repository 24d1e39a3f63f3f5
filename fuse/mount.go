// Package fuse exposes an archive as a read-only FUSE filesystem.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	asarcore "github.com/meigma/asar/core"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the archive is mounted.
	Mountpoint string

	// Archive is the archive to serve. It must stay open until the
	// server is unmounted.
	Archive *asarcore.Archive

	// AllowOther permits other users (including root) to access the
	// mount. Requires user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Mount mounts the archive at the configured mountpoint. The caller must
// call Unmount on the returned Server when done. The mountpoint directory
// is created if it does not exist.
func Mount(options Options) (*fuse.Server, error) {
	if options.Mountpoint == "" {
		return nil, errors.New("mountpoint is required")
	}
	if options.Archive == nil {
		return nil, errors.New("archive is required")
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(options.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", options.Mountpoint, err)
	}

	root := &dirNode{options: &options, name: "."}

	// Archive content never changes, so the kernel may cache freely.
	timeout := time.Hour
	server, err := gofuse.Mount(options.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &timeout,
		AttrTimeout:     &timeout,
		NegativeTimeout: &timeout,
		MountOptions: fuse.MountOptions{
			FsName:     "asar",
			Name:       "asar",
			AllowOther: options.AllowOther,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", options.Mountpoint, err)
	}

	options.Logger.Info("archive mounted",
		"archive", options.Archive.Path(),
		"mountpoint", options.Mountpoint,
		"entries", options.Archive.Len(),
	)
	return server, nil
}

// dirNode is a directory of the archive. The root builds the whole inode
// tree when it is added.
type dirNode struct {
	gofuse.Inode
	options *Options
	name    string
	entry   *asarcore.Entry
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeOnAdder = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) OnAdd(ctx context.Context) {
	if d.name != "." {
		return
	}
	nodes := map[string]*gofuse.Inode{".": &d.Inode}
	for name, e := range d.options.Archive.Entries() {
		parent, ok := nodes[path.Dir(name)]
		if !ok {
			continue
		}
		var child *gofuse.Inode
		switch {
		case e.IsDir():
			child = d.NewPersistentInode(ctx, &dirNode{options: d.options, name: name, entry: e},
				gofuse.StableAttr{Mode: syscall.S_IFDIR})
		case e.IsLink():
			child = d.NewPersistentInode(ctx, &linkNode{options: d.options, name: name, entry: e},
				gofuse.StableAttr{Mode: syscall.S_IFLNK})
		default:
			child = d.NewPersistentInode(ctx, &fileNode{options: d.options, name: name, entry: e},
				gofuse.StableAttr{Mode: syscall.S_IFREG})
		}
		parent.AddChild(path.Base(name), child, false)
		nodes[name] = child
	}
}

func (d *dirNode) Getattr(_ context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	entry := d.entry
	if entry == nil {
		entry = d.options.Archive.Header().Root
	}
	fillAttr(&out.Attr, entry, d.options.Archive.ModTime())
	return 0
}

// fileNode is a regular file, packed or unpacked.
type fileNode struct {
	gofuse.Inode
	options *Options
	name    string
	entry   *asarcore.Entry
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)
var _ gofuse.NodeReader = (*fileNode)(nil)

func (f *fileNode) Getattr(_ context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, f.entry, f.options.Archive.ModTime())
	return 0
}

func (f *fileNode) Open(_ context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	if flags&(syscall.O_WRONLY|syscall.O_RDWR) != 0 {
		return nil, 0, syscall.EROFS
	}
	if !f.entry.Unpacked {
		return nil, fuse.FOPEN_KEEP_CACHE, 0
	}
	hostPath := unpackedPath(f.options.Archive.Path(), f.name)
	file, err := os.Open(hostPath) //nolint:gosec // path is derived from the archive location
	if err != nil {
		f.options.Logger.Error("open unpacked file failed", "path", hostPath, "error", err)
		return nil, 0, errno(err)
	}
	return &unpackedHandle{file: file}, fuse.FOPEN_KEEP_CACHE, 0
}

func (f *fileNode) Read(ctx context.Context, fh gofuse.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if h, ok := fh.(*unpackedHandle); ok {
		return h.Read(ctx, dest, off)
	}
	if off < 0 {
		return nil, syscall.EINVAL
	}
	if uint64(off) >= f.entry.Size {
		return fuse.ReadResultData(nil), 0
	}
	data, err := f.options.Archive.ReadRange(f.name, uint64(off), uint64(len(dest)))
	if err != nil {
		f.options.Logger.Error("read failed", "path", f.name, "offset", off, "error", err)
		return nil, errno(err)
	}
	return fuse.ReadResultData(data), 0
}

// unpackedHandle reads an unpacked file from its host location.
type unpackedHandle struct {
	mu   sync.Mutex
	file *os.File
}

var _ gofuse.FileReader = (*unpackedHandle)(nil)
var _ gofuse.FileReleaser = (*unpackedHandle)(nil)

func (h *unpackedHandle) Read(_ context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n, err := h.file.ReadAt(dest, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errno(err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (h *unpackedHandle) Release(context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.file == nil {
		return 0
	}
	err := h.file.Close()
	h.file = nil
	if err != nil {
		return syscall.EIO
	}
	return 0
}

// linkNode is a link entry. Targets anchored at the archive root are
// rewritten relative to the link so the kernel stays inside the mount.
type linkNode struct {
	gofuse.Inode
	options *Options
	name    string
	entry   *asarcore.Entry
}

var _ gofuse.InodeEmbedder = (*linkNode)(nil)
var _ gofuse.NodeGetattrer = (*linkNode)(nil)
var _ gofuse.NodeReadlinker = (*linkNode)(nil)

func (l *linkNode) Getattr(_ context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	fillAttr(&out.Attr, l.entry, l.options.Archive.ModTime())
	out.Size = uint64(len(linkTarget(l.name, l.entry.Link)))
	return 0
}

func (l *linkNode) Readlink(context.Context) ([]byte, syscall.Errno) {
	return []byte(linkTarget(l.name, l.entry.Link)), 0
}

// linkTarget returns target as seen from the link at name. Relative targets
// already resolve against the link's directory and pass through.
func linkTarget(name, target string) string {
	if !strings.HasPrefix(target, "/") {
		return target
	}
	rel := strings.TrimPrefix(path.Clean(target), "/")
	if rel == "" {
		rel = "."
	}
	depth := 0
	if dir := path.Dir(name); dir != "." {
		depth = strings.Count(dir, "/") + 1
	}
	return path.Join(strings.Repeat("../", depth), rel)
}

// fillAttr describes e in kernel terms.
func fillAttr(out *fuse.Attr, e *asarcore.Entry, modTime time.Time) {
	mode := e.Mode()
	out.Mode = uint32(mode.Perm())
	switch {
	case e.IsDir():
		out.Mode |= syscall.S_IFDIR
		out.Nlink = 2
	case e.IsLink():
		out.Mode |= syscall.S_IFLNK
		out.Size = uint64(len(e.Link))
		out.Nlink = 1
	default:
		out.Mode |= syscall.S_IFREG
		out.Size = e.Size
		out.Nlink = 1
	}
	out.Blocks = (out.Size + 511) / 512
	if !modTime.IsZero() {
		out.SetTimes(nil, &modTime, &modTime)
	}
}

// errno maps archive errors to kernel error numbers.
func errno(err error) syscall.Errno {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return syscall.ENOENT
	case errors.Is(err, asarcore.ErrIsDir):
		return syscall.EISDIR
	case errors.Is(err, asarcore.ErrNotDir):
		return syscall.ENOTDIR
	case errors.Is(err, os.ErrPermission):
		return syscall.EACCES
	default:
		return syscall.EIO
	}
}

func unpackedPath(archive, inner string) string {
	return filepath.Join(archive+".unpacked", filepath.FromSlash(inner))
}
