package asartype

import "io/fs"

// Kind identifies what an Entry describes.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDirectory
	KindLink
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindLink:
		return "link"
	default:
		return "unknown"
	}
}

// Mode returns the fs.FileMode type bits for the kind.
func (k Kind) Mode() fs.FileMode {
	switch k {
	case KindDirectory:
		return fs.ModeDir
	case KindLink:
		return fs.ModeSymlink
	default:
		return 0
	}
}

// Integrity is the embedded per-file digest recorded in the header.
//
// Hash covers the whole file. Blocks holds one digest per BlockSize chunk,
// the last block may be short.
type Integrity struct {
	Algorithm string   `json:"algorithm"`
	Hash      string   `json:"hash"`
	BlockSize uint32   `json:"blockSize"`
	Blocks    []string `json:"blocks"`
}

// Entry is a node in the archive header tree.
//
// Offset is relative to the start of the data region. Directory children
// keep insertion order, which is the order they appear in the header JSON.
// An Entry must not be modified once the header that holds it is shared.
type Entry struct {
	Kind       Kind
	Size       uint64
	Offset     uint64
	Executable bool
	Unpacked   bool
	Link       string
	Integrity  *Integrity

	names    []string
	children map[string]*Entry
}

// NewDirectory returns an empty directory entry.
func NewDirectory() *Entry {
	return &Entry{Kind: KindDirectory, children: make(map[string]*Entry)}
}

// NewFile returns a file entry of the given size. The offset is assigned
// when the tree is serialized.
func NewFile(size uint64, executable bool) *Entry {
	return &Entry{Kind: KindFile, Size: size, Executable: executable}
}

// NewLink returns a link entry pointing at target, interpreted relative to
// the directory that contains the link.
func NewLink(target string) *Entry {
	return &Entry{Kind: KindLink, Link: target}
}

// IsDir reports whether the entry is a directory.
func (e *Entry) IsDir() bool { return e.Kind == KindDirectory }

// IsLink reports whether the entry is a link.
func (e *Entry) IsLink() bool { return e.Kind == KindLink }

// IsFile reports whether the entry is a regular file.
func (e *Entry) IsFile() bool { return e.Kind == KindFile }

// Add appends a child under name. It returns false if the entry is not a
// directory or the name is already taken.
func (e *Entry) Add(name string, child *Entry) bool {
	if e.Kind != KindDirectory || child == nil {
		return false
	}
	if e.children == nil {
		e.children = make(map[string]*Entry)
	}
	if _, exists := e.children[name]; exists {
		return false
	}
	e.children[name] = child
	e.names = append(e.names, name)
	return true
}

// Child returns the named child of a directory.
func (e *Entry) Child(name string) (*Entry, bool) {
	if e.Kind != KindDirectory {
		return nil, false
	}
	c, ok := e.children[name]
	return c, ok
}

// Names returns the child names in insertion order.
// The returned slice must be treated as read-only.
func (e *Entry) Names() []string {
	return e.names
}

// Len returns the number of children.
func (e *Entry) Len() int {
	return len(e.names)
}

// Mode returns a synthetic permission set for the entry. Archives carry no
// ownership or permission bits beyond the executable flag.
func (e *Entry) Mode() fs.FileMode {
	switch e.Kind {
	case KindDirectory:
		return fs.ModeDir | 0o555
	case KindLink:
		return fs.ModeSymlink | 0o777
	}
	if e.Executable {
		return 0o555
	}
	return 0o444
}
