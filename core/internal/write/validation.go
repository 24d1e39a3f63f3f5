package write

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"
)

// CheckFileUnchanged verifies a file wasn't modified while it was read.
// In strict mode, it compares size, mtime, and permissions before/after.
func CheckFileUnchanged(f *os.File, name string, before fs.FileInfo, strict bool) error {
	if !strict {
		return nil
	}
	after, err := f.Stat()
	if err != nil {
		return err
	}
	if after.Size() != before.Size() || !after.ModTime().Equal(before.ModTime()) || after.Mode().Perm() != before.Mode().Perm() {
		return fmt.Errorf("file changed during archive creation: %s", name)
	}
	return nil
}

// ValidateFileInfo checks that the walked info and the opened file agree.
// Sizes must always match because the header is written before contents;
// strict mode also requires the same inode.
func ValidateFileInfo(name string, info, finfo fs.FileInfo, strict bool) error {
	if info == nil {
		return fmt.Errorf("missing file info: %s", name)
	}
	if info.Size() != finfo.Size() {
		return fmt.Errorf("file changed during archive creation: %s", name)
	}
	if strict && !os.SameFile(info, finfo) {
		return fmt.Errorf("file changed during archive creation: %s", name)
	}
	return nil
}

// EntryType classifies a walked directory entry.
type EntryType uint8

const (
	TypeSkip EntryType = iota
	TypeDir
	TypeFile
	TypeLink
)

// Classify stats the entry without following links and reports how it
// should be stored. Devices, sockets and pipes are skipped.
func Classify(root *os.Root, fsPath string) (fs.FileInfo, EntryType, error) {
	info, err := root.Lstat(fsPath)
	if err != nil {
		return nil, TypeSkip, err
	}
	mode := info.Mode()
	switch {
	case mode&fs.ModeSymlink != 0:
		return info, TypeLink, nil
	case mode.IsDir():
		return info, TypeDir, nil
	case mode.IsRegular():
		return info, TypeFile, nil
	default:
		return info, TypeSkip, nil
	}
}

// LinkTarget validates a symlink target read from the source tree and
// returns it in slash form. Targets must be relative and stay inside the
// tree when resolved from the link's directory.
func LinkTarget(name, target string) (string, error) {
	target = strings.ReplaceAll(target, `\`, "/")
	if target == "" || path.IsAbs(target) {
		return "", fmt.Errorf("symlink %s: target %q must be relative", name, target)
	}
	resolved := path.Join(path.Dir(name), target)
	if resolved == ".." || strings.HasPrefix(resolved, "../") {
		return "", fmt.Errorf("symlink %s: target %q points outside the source directory", name, target)
	}
	return target, nil
}
