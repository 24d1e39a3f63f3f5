package header

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/meigma/asar/core/internal/asartype"
)

type (
	Entry     = asartype.Entry
	Integrity = asartype.Integrity
)

// MaxDepth bounds directory nesting. Deeper headers are rejected as
// malformed.
const MaxDepth = 1024

// node collects the fields of one JSON entry object before its kind is
// known. Directories are built while their files object streams past.
type node struct {
	files      *Entry
	size       *uint64
	offset     *uint64
	executable bool
	unpacked   bool
	link       *string
	integrity  *Integrity
}

// decoder walks the header once, token by token.
type decoder struct {
	dec *json.Decoder
}

// Decode parses header JSON into its root directory entry.
func Decode(data []byte) (*Entry, error) {
	d := &decoder{dec: json.NewDecoder(bytes.NewReader(data))}
	d.dec.UseNumber()

	n, err := d.node("", 0)
	if err != nil {
		return nil, err
	}
	if n.files == nil {
		return nil, asartype.Malformed("header root has no files object")
	}
	if _, err := d.dec.Token(); !errors.Is(err, io.EOF) {
		return nil, asartype.Malformed("trailing data after header")
	}
	return n.files, nil
}

// node reads one entry object. depth counts the directories above it.
func (d *decoder) node(path string, depth int) (*node, error) {
	if tok, err := d.dec.Token(); err != nil || tok != json.Delim('{') {
		return nil, asartype.Malformed("entry %q: not an object", path)
	}
	var n node
	for d.dec.More() {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, asartype.Malformed("entry %q: %v", path, err)
		}
		key, _ := tok.(string) //nolint:errcheck // object keys are always strings
		switch key {
		case "files":
			if n.files, err = d.files(path, depth); err != nil {
				return nil, err
			}
		case "size":
			if n.size, err = d.readUint(path, key); err != nil {
				return nil, err
			}
		case "offset":
			if n.offset, err = d.readUint(path, key); err != nil {
				return nil, err
			}
		case "executable":
			if n.executable, err = d.readBool(path, key); err != nil {
				return nil, err
			}
		case "unpacked":
			if n.unpacked, err = d.readBool(path, key); err != nil {
				return nil, err
			}
		case "link":
			if n.link, err = d.readString(path, key); err != nil {
				return nil, err
			}
		case "integrity":
			if err := d.dec.Decode(&n.integrity); err != nil {
				return nil, asartype.Malformed("entry %q: integrity: %v", path, err)
			}
		default:
			var skip json.RawMessage
			if err := d.dec.Decode(&skip); err != nil {
				return nil, asartype.Malformed("entry %q: %v", path, err)
			}
		}
	}
	if tok, err := d.dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, asartype.Malformed("entry %q: unterminated object", path)
	}
	return &n, nil
}

// files reads a files object in document order into a new directory.
// A null value leaves the entry without one.
func (d *decoder) files(parent string, depth int) (*Entry, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return nil, asartype.Malformed("directory %q: %v", parent, err)
	}
	if tok == nil {
		return nil, nil
	}
	if tok != json.Delim('{') {
		return nil, asartype.Malformed("directory %q: files is not an object", parent)
	}
	if depth >= MaxDepth {
		return nil, asartype.Malformed("directory %q: nesting exceeds %d levels", parent, MaxDepth)
	}

	dir := asartype.NewDirectory()
	for d.dec.More() {
		tok, err := d.dec.Token()
		if err != nil {
			return nil, asartype.Malformed("directory %q: %v", parent, err)
		}
		name, _ := tok.(string) //nolint:errcheck // object keys are always strings
		path := join(parent, name)
		if !ValidName(name) {
			return nil, asartype.Malformed("entry %q: invalid name", path)
		}
		n, err := d.node(path, depth+1)
		if err != nil {
			return nil, err
		}
		child, err := n.entry(path)
		if err != nil {
			return nil, err
		}
		if !dir.Add(name, child) {
			return nil, asartype.Malformed("entry %q: duplicate name", path)
		}
	}
	if tok, err := d.dec.Token(); err != nil || tok != json.Delim('}') {
		return nil, asartype.Malformed("directory %q: unterminated files object", parent)
	}
	return dir, nil
}

// readUint accepts a number or a numeric string, the two ways offsets appear.
func (d *decoder) readUint(path, key string) (*uint64, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return nil, asartype.Malformed("entry %q: %s: %v", path, key, err)
	}
	var text string
	switch v := tok.(type) {
	case nil:
		return nil, nil
	case json.Number:
		text = string(v)
	case string:
		text = v
	default:
		return nil, asartype.Malformed("entry %q: %s is not a number", path, key)
	}
	n, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return nil, asartype.Malformed("entry %q: %s: %v", path, key, err)
	}
	return &n, nil
}

func (d *decoder) readBool(path, key string) (bool, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return false, asartype.Malformed("entry %q: %s: %v", path, key, err)
	}
	switch v := tok.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	default:
		return false, asartype.Malformed("entry %q: %s is not a boolean", path, key)
	}
}

func (d *decoder) readString(path, key string) (*string, error) {
	tok, err := d.dec.Token()
	if err != nil {
		return nil, asartype.Malformed("entry %q: %s: %v", path, key, err)
	}
	switch v := tok.(type) {
	case nil:
		return nil, nil
	case string:
		return &v, nil
	default:
		return nil, asartype.Malformed("entry %q: %s is not a string", path, key)
	}
}

// entry classifies a decoded node. A link wins over other fields, then a
// directory, then a file.
func (n *node) entry(path string) (*Entry, error) {
	switch {
	case n.link != nil:
		if *n.link == "" {
			return nil, asartype.Malformed("entry %q: empty link target", path)
		}
		return asartype.NewLink(*n.link), nil

	case n.files != nil:
		return n.files, nil

	case n.size != nil:
		e := asartype.NewFile(*n.size, n.executable)
		e.Unpacked = n.unpacked
		e.Integrity = n.integrity
		if n.unpacked {
			return e, nil
		}
		if n.offset == nil {
			return nil, asartype.Malformed("entry %q: missing offset", path)
		}
		e.Offset = *n.offset
		return e, nil

	default:
		return nil, asartype.Malformed("entry %q: unrecognized entry kind", path)
	}
}

// ValidName reports whether name can be a single path component.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

func join(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
