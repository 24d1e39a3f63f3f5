//go:build unix

package platform

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// openNoFollow fails with ELOOP on a final-component link. O_NONBLOCK keeps
// a FIFO swapped into the tree from blocking the open; it has no effect on
// regular files.
func openNoFollow(root *os.Root, name string) (*os.File, error) {
	f, err := root.OpenFile(name, os.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_NONBLOCK, 0)
	if errors.Is(err, syscall.ELOOP) {
		return nil, fmt.Errorf("%s: %w", name, ErrBecameLink)
	}
	return f, err
}
