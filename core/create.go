package asar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/asar/core/internal/file"
	"github.com/meigma/asar/core/internal/platform"
	"github.com/meigma/asar/core/internal/write"
)

// ErrTooManyFiles is returned when the entry count exceeds the configured limit.
var ErrTooManyFiles = errors.New("asar: too many files")

// Create packs the contents of dir into a container written to w.
//
// Entries are stored in lexical walk order, which is also the order of the
// data region. Every file carries SHA-256 integrity metadata. Symbolic links
// are stored as link entries and must point inside dir. Files selected by
// CreateWithUnpack are marked unpacked and, when CreateWithUnpackDir is set,
// copied there instead of into the container.
//
// Create reads every file twice: once to hash it and once to copy it. Files
// that change size in between fail the operation.
func Create(ctx context.Context, dir string, w io.Writer, opts ...CreateOption) error {
	cfg := createConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	pk, err := newPacker(cfg)
	if err != nil {
		return err
	}

	root, err := os.OpenRoot(dir)
	if err != nil {
		return err
	}
	defer root.Close()

	pk.log().Info("creating archive", "dir", dir)

	tree, files, err := pk.enumerate(ctx, root)
	if err != nil {
		return err
	}
	if err := pk.hash(ctx, root, files); err != nil {
		return err
	}

	front, dataSize, err := Serialize(tree)
	if err != nil {
		return err
	}
	if _, err := w.Write(front); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := pk.writeData(ctx, root, w, files, dataSize); err != nil {
		return err
	}
	if pk.cfg.unpackDir != "" {
		if err := pk.copyUnpacked(ctx, root, files); err != nil {
			return err
		}
	}

	pk.log().Debug("archive written",
		"file_count", len(files),
		"header_size", len(front),
		"data_size", dataSize,
	)
	return nil
}

// CreateFile packs dir into the container at out, replacing it atomically,
// and opens the result. Unpacked files are copied to out + ".unpacked"
// unless CreateWithUnpackDir says otherwise.
func CreateFile(ctx context.Context, dir, out string, opts ...CreateOption) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(out), 0o750); err != nil {
		return nil, fmt.Errorf("create destination directory: %w", err)
	}
	opts = append([]CreateOption{CreateWithUnpackDir(out + ".unpacked")}, opts...)

	tmp, err := os.CreateTemp(filepath.Dir(out), ".asar-*")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()

	if err := Create(ctx, dir, tmp, opts...); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, fmt.Errorf("create archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, out); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}
	return OpenFile(out)
}

// pending is a file collected during enumeration.
type pending struct {
	name  string
	entry *Entry
	info  fs.FileInfo
}

// packer holds state for archive creation.
type packer struct {
	cfg     createConfig
	exclude MatchFunc
	unpack  []MatchFunc
	strict  bool
}

func newPacker(cfg createConfig) (*packer, error) {
	pk := &packer{cfg: cfg, strict: cfg.changeDetection == ChangeDetectionStrict}
	if len(cfg.excludeGlobs) > 0 {
		fn, err := write.Glob(cfg.excludeGlobs...)
		if err != nil {
			return nil, fmt.Errorf("exclude: %w", err)
		}
		pk.exclude = fn
	}
	pk.unpack = append(pk.unpack, cfg.unpack...)
	if len(cfg.unpackGlobs) > 0 {
		fn, err := write.Glob(cfg.unpackGlobs...)
		if err != nil {
			return nil, fmt.Errorf("unpack: %w", err)
		}
		pk.unpack = append(pk.unpack, fn)
	}
	return pk, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (pk *packer) log() *slog.Logger {
	if pk.cfg.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return pk.cfg.logger
}

// reportProgress sends a progress event if a callback is configured.
func (pk *packer) reportProgress(stage ProgressStage, name string, bytesDone, bytesTotal uint64, filesDone, filesTotal int) {
	if pk.cfg.progress == nil {
		return
	}
	pk.cfg.progress(ProgressEvent{
		Stage:      stage,
		Path:       name,
		BytesDone:  bytesDone,
		BytesTotal: bytesTotal,
		FilesDone:  filesDone,
		FilesTotal: filesTotal,
	})
}

// enumerate walks the source tree and builds the entry tree. Files are
// returned in serialization order.
func (pk *packer) enumerate(ctx context.Context, root *os.Root) (*Entry, []pending, error) {
	maxFiles := pk.cfg.maxFiles
	if maxFiles == 0 {
		maxFiles = DefaultMaxFiles
	}

	tree := NewDirectory()
	dirs := map[string]*Entry{".": tree}
	unpackedDirs := map[string]bool{}
	var files []pending
	count := 0

	pk.reportProgress(StageEnumerating, "", 0, 0, 0, 0)

	err := fs.WalkDir(root.FS(), ".", func(name string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if name == "." {
			return nil
		}
		fsPath := filepath.FromSlash(name)
		info, typ, err := write.Classify(root, fsPath)
		if err != nil {
			return err
		}
		if pk.exclude != nil && pk.exclude(name, info) {
			pk.log().Debug("excluded entry", "path", name)
			if typ == write.TypeDir {
				return fs.SkipDir
			}
			return nil
		}
		if typ == write.TypeSkip {
			pk.log().Debug("skipped special file", "path", name, "mode", info.Mode().String())
			return nil
		}
		if maxFiles > 0 && count >= maxFiles {
			return ErrTooManyFiles
		}
		count++

		parentName := path.Dir(name)
		parent := dirs[parentName]
		var e *Entry
		switch typ {
		case write.TypeDir:
			e = NewDirectory()
			dirs[name] = e
			if unpackedDirs[parentName] || write.Any(name, info, pk.unpack) {
				unpackedDirs[name] = true
			}
		case write.TypeLink:
			raw, err := root.Readlink(fsPath)
			if err != nil {
				return err
			}
			target, err := write.LinkTarget(name, raw)
			if err != nil {
				return err
			}
			e = NewLink(target)
		case write.TypeFile:
			e = NewFile(uint64(info.Size()), info.Mode().Perm()&0o111 != 0) //nolint:gosec // regular file sizes are non-negative
			e.Unpacked = unpackedDirs[parentName] || write.Any(name, info, pk.unpack)
			files = append(files, pending{name: name, entry: e, info: info})
		}
		parent.Add(d.Name(), e)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return tree, files, nil
}

// hash computes integrity for every file using a bounded worker group.
func (pk *packer) hash(ctx context.Context, root *os.Root, files []pending) error {
	limit := pk.cfg.concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	var done atomic.Int64
	for i := range files {
		p := &files[i]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			in, err := pk.hashFile(root, p)
			if err != nil {
				return err
			}
			p.entry.Integrity = in
			pk.reportProgress(StageHashing, p.name, p.entry.Size, p.entry.Size, int(done.Add(1)), len(files))
			return nil
		})
	}
	return g.Wait()
}

func (pk *packer) hashFile(root *os.Root, p *pending) (*Integrity, error) {
	f, err := pk.openChecked(root, p)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	in, n, err := file.Compute(f, pk.cfg.blockSize)
	if err != nil {
		return nil, fmt.Errorf("hash %s: %w", p.name, err)
	}
	if n != p.entry.Size {
		return nil, fmt.Errorf("file changed during archive creation: %s", p.name)
	}
	if err := write.CheckFileUnchanged(f, p.name, p.info, pk.strict); err != nil {
		return nil, err
	}
	return in, nil
}

func (pk *packer) openChecked(root *os.Root, p *pending) (*os.File, error) {
	f, err := platform.OpenRegular(root, filepath.FromSlash(p.name))
	if err != nil {
		return nil, err
	}
	finfo, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := write.ValidateFileInfo(p.name, p.info, finfo, pk.strict); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

// writeData copies packed files into w in serialization order.
func (pk *packer) writeData(ctx context.Context, root *os.Root, w io.Writer, files []pending, total uint64) error {
	var written uint64
	for i := range files {
		p := &files[i]
		if p.entry.Unpacked {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := pk.copyPacked(root, w, p); err != nil {
			return err
		}
		written += p.entry.Size
		pk.reportProgress(StageWriting, p.name, written, total, i+1, len(files))
	}
	return nil
}

func (pk *packer) copyPacked(root *os.Root, w io.Writer, p *pending) error {
	f, err := pk.openChecked(root, p)
	if err != nil {
		return err
	}
	defer f.Close()

	src := io.Reader(f)
	var h *file.Hasher
	if pk.strict {
		h = file.NewHasher(int(p.entry.Integrity.BlockSize))
		src = io.TeeReader(f, h)
	}
	size := int64(p.entry.Size) //nolint:gosec // sizes come from os.FileInfo
	if _, err := io.CopyN(w, src, size); err != nil {
		return fmt.Errorf("write %s: %w", p.name, err)
	}
	if h != nil && h.Integrity().Hash != p.entry.Integrity.Hash {
		return fmt.Errorf("file changed during archive creation: %s", p.name)
	}
	return write.CheckFileUnchanged(f, p.name, p.info, pk.strict)
}

// copyUnpacked mirrors unpacked files into the unpack directory.
func (pk *packer) copyUnpacked(ctx context.Context, root *os.Root, files []pending) error {
	for i := range files {
		p := &files[i]
		if !p.entry.Unpacked {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(pk.cfg.unpackDir, filepath.FromSlash(p.name))
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return err
		}
		f, err := pk.openChecked(root, p)
		if err != nil {
			return err
		}
		err = copyFileAtomic(f, target, p.info.Mode().Perm())
		f.Close()
		if err != nil {
			return fmt.Errorf("unpack %s: %w", p.name, err)
		}
	}
	return nil
}

// copyFileAtomic streams r to a temp file next to target, then renames it.
func copyFileAtomic(r io.Reader, target string, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(target), ".asar-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
