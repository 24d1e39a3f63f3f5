package header

import (
	"cmp"
	"slices"

	"github.com/meigma/asar/core/internal/asartype"
	"github.com/meigma/asar/core/internal/sizing"
)

// WalkFunc is called for every entry below the root in depth-first
// pre-order. Returning a non-nil error stops the walk.
type WalkFunc func(path string, e *Entry) error

// Walk visits every entry under root in the order they are serialized.
func Walk(root *Entry, fn WalkFunc) error {
	return walk(root, "", fn)
}

func walk(dir *Entry, parent string, fn WalkFunc) error {
	for _, name := range dir.Names() {
		child, _ := dir.Child(name)
		path := join(parent, name)
		if err := fn(path, child); err != nil {
			return err
		}
		if child.IsDir() {
			if err := walk(child, path, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// AssignOffsets lays packed files out back to back in traversal order and
// returns the resulting data region size. Unpacked files get no offset.
func AssignOffsets(root *Entry) (uint64, error) {
	var next uint64
	err := Walk(root, func(path string, e *Entry) error {
		if !e.IsFile() || e.Unpacked {
			return nil
		}
		e.Offset = next
		end, ok := sizing.AddUint64(next, e.Size)
		if !ok {
			return asartype.InvalidOffset("entry %q: data region overflows", path)
		}
		next = end
		return nil
	})
	return next, err
}

type span struct {
	path       string
	start, end uint64
}

// Validate checks that every packed file lies inside a data region of
// dataSize bytes and that no two non-empty files overlap.
func Validate(root *Entry, dataSize uint64) error {
	var spans []span
	err := Walk(root, func(path string, e *Entry) error {
		if !e.IsFile() || e.Unpacked {
			return nil
		}
		end, ok := sizing.AddUint64(e.Offset, e.Size)
		if !ok {
			return asartype.InvalidOffset("entry %q: offset %d + size %d overflows", path, e.Offset, e.Size)
		}
		if end > dataSize {
			return asartype.InvalidOffset("entry %q: range [%d, %d) exceeds data region of %d bytes",
				path, e.Offset, end, dataSize)
		}
		if e.Size > 0 {
			spans = append(spans, span{path: path, start: e.Offset, end: end})
		}
		return nil
	})
	if err != nil {
		return err
	}

	slices.SortFunc(spans, func(a, b span) int { return cmp.Compare(a.start, b.start) })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return asartype.InvalidOffset("entries %q and %q overlap", spans[i-1].path, spans[i].path)
		}
	}
	return nil
}
