// Package platform opens files being packed without trusting the tree to
// stay put between enumeration and read.
package platform

import (
	"errors"
	"fmt"
	"os"
)

var (
	// ErrBecameLink is returned when a path enumerated as a regular file is
	// a symbolic link by the time its contents are read.
	ErrBecameLink = errors.New("asar: file replaced by a symbolic link during packing")

	// ErrNotRegular is returned when a path to pack is not a regular file.
	ErrNotRegular = errors.New("asar: not a regular file")
)

// OpenRegular opens name under root for packing. Links are never followed
// and anything but a regular file is rejected.
func OpenRegular(root *os.Root, name string) (*os.File, error) {
	f, err := openNoFollow(root, name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, fmt.Errorf("%s: %w", name, ErrNotRegular)
	}
	return f, nil
}
