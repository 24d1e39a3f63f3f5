package asar

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	asarcore "github.com/meigma/asar/core"
)

// DefaultExtension marks container files in host paths.
const DefaultExtension = ".asar"

// Location is a host path split at a container boundary.
type Location struct {
	// Archive is the absolute host path of the container file.
	Archive string

	// Inner is the slash-separated path inside the container, "." for its
	// root.
	Inner string
}

// Resolver decides which host paths run through a container.
//
// The zero value is not usable; build one with NewResolver.
type Resolver struct {
	host      Host
	extension string
	sniff     bool
	disabled  bool
}

// NewResolver returns a Resolver that stats candidates through host.
func NewResolver(host Host) *Resolver {
	return &Resolver{host: host, extension: DefaultExtension}
}

// Split walks from path upward and stops at the first component (path
// itself included) that is a container. The remainder becomes Inner. ok is
// false when no component qualifies; that is not an error.
func (r *Resolver) Split(path string) (loc Location, ok bool, err error) {
	if r.disabled || path == "" {
		return Location{}, false, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return Location{}, false, fmt.Errorf("resolve %q: %w", path, err)
	}

	var rest []string
	cur := abs
	for {
		if r.isArchive(cur) {
			slices.Reverse(rest)
			inner := "."
			if len(rest) > 0 {
				inner = strings.Join(rest, "/")
			}
			return Location{Archive: cur, Inner: inner}, true, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return Location{}, false, nil
		}
		rest = append(rest, filepath.Base(cur))
		cur = parent
	}
}

// isArchive reports whether candidate is a regular file that qualifies as
// a container.
func (r *Resolver) isArchive(candidate string) bool {
	named := strings.EqualFold(filepath.Ext(candidate), r.extension)
	if !named && !r.sniff {
		return false
	}
	info, err := r.host.StatRaw(candidate)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	if named {
		return true
	}
	h, err := r.host.OpenRaw(candidate)
	if err != nil {
		return false
	}
	defer h.Close()
	return asarcore.Sniff(h, h.Size())
}
