package asar

import "strings"

// NormalizePath converts a user-provided inner path to fs.ValidPath format.
//
// Leading, trailing and repeated separators are removed, backslashes are
// treated as separators and "." segments are dropped. The empty path and "/"
// both name the archive root ".". ".." segments are kept so that Archive
// methods reject them via fs.ValidPath; link targets are the only place ".."
// is honored.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	parts := strings.Split(p, "/")
	result := parts[:0]
	for _, part := range parts {
		if part != "" && part != "." {
			result = append(result, part)
		}
	}
	if len(result) == 0 {
		return "."
	}
	return strings.Join(result, "/")
}

// splitPath returns the components of a valid path. The root has none.
func splitPath(name string) []string {
	if name == "." || name == "" {
		return nil
	}
	return strings.Split(name, "/")
}

// baseName returns the last component of a valid path.
func baseName(name string) string {
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		return name[i+1:]
	}
	return name
}
