package asartype

import (
	"errors"
	"fmt"
)

// Sentinel errors for archive operations.
var (
	// ErrInvalidArchive is the parent of all errors that mean the container
	// cannot be trusted to describe its own contents.
	ErrInvalidArchive = errors.New("asar: invalid archive")

	// ErrMalformedHeader is returned when the length prefix or the JSON
	// header cannot be decoded.
	ErrMalformedHeader = errors.New("asar: malformed header")

	// ErrInvalidOffset is returned when a file range falls outside the data
	// region or overlaps another file.
	ErrInvalidOffset = errors.New("asar: invalid offset")

	// ErrOutOfRange is returned when a read starts past the end of an entry.
	ErrOutOfRange = errors.New("asar: offset out of range")

	// ErrLinkCycle is returned when link resolution exceeds the hop limit.
	ErrLinkCycle = errors.New("asar: too many levels of links")

	// ErrNotDir is returned when a directory operation targets a non-directory.
	ErrNotDir = errors.New("asar: not a directory")

	// ErrIsDir is returned when a file operation targets a directory.
	ErrIsDir = errors.New("asar: is a directory")

	// ErrUnpacked is returned when an entry's content lives outside the
	// container, in the sibling ".unpacked" directory.
	ErrUnpacked = errors.New("asar: entry is unpacked")

	// ErrIntegrity is returned when content does not match its embedded digest.
	ErrIntegrity = errors.New("asar: integrity check failed")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("asar: size overflow")
)

// ArchiveError describes why a container was rejected. It matches both its
// specific sentinel (ErrMalformedHeader or ErrInvalidOffset) and
// ErrInvalidArchive.
type ArchiveError struct {
	Err    error
	Detail string
}

func (e *ArchiveError) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return e.Err.Error() + ": " + e.Detail
}

// Unwrap returns the specific sentinel and ErrInvalidArchive.
func (e *ArchiveError) Unwrap() []error {
	return []error{e.Err, ErrInvalidArchive}
}

// Malformed returns an ArchiveError wrapping ErrMalformedHeader.
func Malformed(format string, args ...any) error {
	return &ArchiveError{Err: ErrMalformedHeader, Detail: fmt.Sprintf(format, args...)}
}

// InvalidOffset returns an ArchiveError wrapping ErrInvalidOffset.
func InvalidOffset(format string, args ...any) error {
	return &ArchiveError{Err: ErrInvalidOffset, Detail: fmt.Sprintf(format, args...)}
}
