package file

import (
	"io/fs"
	"time"
)

// Info implements fs.FileInfo for an archive entry of any kind.
type Info struct {
	name    string
	entry   *Entry
	modTime time.Time
}

// NewInfo returns file info for entry under the given base name. Archive
// entries carry no timestamps, so modTime is supplied by the caller
// (usually the container file's own mtime).
func NewInfo(entry *Entry, name string, modTime time.Time) *Info {
	return &Info{name: name, entry: entry, modTime: modTime}
}

func (fi *Info) Name() string { return fi.name }

func (fi *Info) Size() int64 {
	if fi.entry.IsFile() {
		return int64(fi.entry.Size) //nolint:gosec // sizes are validated against the container length
	}
	return 0
}

func (fi *Info) Mode() fs.FileMode  { return fi.entry.Mode() }
func (fi *Info) ModTime() time.Time { return fi.modTime }
func (fi *Info) IsDir() bool        { return fi.entry.IsDir() }
func (fi *Info) Sys() any           { return fi.entry }

// Entry returns the underlying entry.
func (fi *Info) Entry() *Entry {
	return fi.entry
}

// DirEntry implements fs.DirEntry on top of an Info.
type DirEntry struct {
	info *Info
}

// NewDirEntry wraps info as a directory listing entry.
func NewDirEntry(info *Info) *DirEntry {
	return &DirEntry{info: info}
}

func (de *DirEntry) Name() string               { return de.info.Name() }
func (de *DirEntry) IsDir() bool                { return de.info.IsDir() }
func (de *DirEntry) Type() fs.FileMode          { return de.info.Mode().Type() }
func (de *DirEntry) Info() (fs.FileInfo, error) { return de.info, nil }
