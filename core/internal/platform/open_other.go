//go:build !unix

package platform

import (
	"fmt"
	"io/fs"
	"os"
)

// openNoFollow checks for a link before opening. The check and the open are
// not atomic here; unix builds close that window with O_NOFOLLOW.
func openNoFollow(root *os.Root, name string) (*os.File, error) {
	info, err := root.Lstat(name)
	if err != nil {
		return nil, err
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return nil, fmt.Errorf("%s: %w", name, ErrBecameLink)
	}
	return root.Open(name)
}
