package write

import (
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/moby/patternmatcher"
)

// MatchFunc reports whether the file at the slash-separated archive path
// should be selected. It is called once per entry and should be inexpensive.
type MatchFunc func(name string, info fs.FileInfo) bool

// Glob returns a MatchFunc built on dockerignore-style patterns: "**"
// crosses directories, a leading "!" re-includes, and a pattern that
// matches a directory selects everything below it. Patterns without a
// slash match at any depth, so "*.node" selects "a/b/addon.node".
func Glob(patterns ...string) (MatchFunc, error) {
	expanded := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		expanded = append(expanded, anyDepth(p))
	}
	pm, err := patternmatcher.New(expanded)
	if err != nil {
		return nil, fmt.Errorf("patterns %q: %w", patterns, err)
	}
	return func(name string, _ fs.FileInfo) bool {
		ok, err := pm.MatchesOrParentMatches(filepath.FromSlash(name))
		return err == nil && ok
	}, nil
}

func anyDepth(p string) string {
	neg, body := "", p
	if rest, ok := strings.CutPrefix(p, "!"); ok {
		neg, body = "!", rest
	}
	body = strings.TrimPrefix(body, "/")
	if strings.Contains(body, "/") {
		return neg + body
	}
	return neg + "**/" + body
}

// NativeModules selects shared libraries and native addons, which loaders
// can only open from a real path.
func NativeModules(name string, _ fs.FileInfo) bool {
	_, ok := nativeExts[strings.ToLower(path.Ext(name))]
	return ok
}

// Any checks if any predicate returns true for the given entry.
func Any(name string, info fs.FileInfo, predicates []MatchFunc) bool {
	for _, fn := range predicates {
		if fn == nil {
			continue
		}
		if fn(name, info) {
			return true
		}
	}
	return false
}

var nativeExts = map[string]struct{}{
	".node":  {},
	".so":    {},
	".dll":   {},
	".dylib": {},
	".exe":   {},
}
