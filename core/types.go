package asar

import (
	"io"
	"io/fs"

	"github.com/meigma/asar/core/internal/asartype"
)

// Re-export types from internal/asartype for public API.
type (
	// Entry is one node of the archive tree: a file, a directory or a link.
	Entry = asartype.Entry

	// Kind identifies what an Entry describes.
	Kind = asartype.Kind

	// Integrity is the per-file digest metadata embedded in the header.
	Integrity = asartype.Integrity

	// ArchiveError describes why a container was rejected.
	ArchiveError = asartype.ArchiveError

	// ProgressEvent represents a progress update during operations.
	ProgressEvent = asartype.ProgressEvent

	// ProgressStage identifies the current phase of an operation.
	ProgressStage = asartype.ProgressStage

	// ProgressFunc receives progress updates during operations.
	ProgressFunc = asartype.ProgressFunc

	// File is an open archive file with random access.
	File interface {
		fs.File
		io.ReaderAt
		io.Seeker
	}
)

// Re-export kind constants.
const (
	KindFile      = asartype.KindFile
	KindDirectory = asartype.KindDirectory
	KindLink      = asartype.KindLink
)

// Re-export progress stage constants.
const (
	StageEnumerating = asartype.StageEnumerating
	StageHashing     = asartype.StageHashing
	StageWriting     = asartype.StageWriting
	StageExtracting  = asartype.StageExtracting
)

// Entry constructors.
var (
	NewDirectory = asartype.NewDirectory
	NewFile      = asartype.NewFile
	NewLink      = asartype.NewLink
)

// Sentinel errors re-exported from internal/asartype.
var (
	// ErrInvalidArchive matches every error that rejects a container.
	ErrInvalidArchive = asartype.ErrInvalidArchive

	// ErrMalformedHeader is returned when the prefix or JSON header is unusable.
	ErrMalformedHeader = asartype.ErrMalformedHeader

	// ErrInvalidOffset is returned when a file range escapes the data region
	// or overlaps another file.
	ErrInvalidOffset = asartype.ErrInvalidOffset

	// ErrOutOfRange is returned when a read starts past the end of a file.
	ErrOutOfRange = asartype.ErrOutOfRange

	// ErrLinkCycle is returned when link resolution exceeds the hop limit.
	// It also matches fs.ErrNotExist.
	ErrLinkCycle = asartype.ErrLinkCycle

	ErrNotDir       = asartype.ErrNotDir
	ErrIsDir        = asartype.ErrIsDir
	ErrUnpacked     = asartype.ErrUnpacked
	ErrIntegrity    = asartype.ErrIntegrity
	ErrSizeOverflow = asartype.ErrSizeOverflow
)

// ByteSource provides positioned reads over a whole container file.
//
// SourceID must return a stable identifier for the underlying content; it
// keys extraction caches when entries carry no integrity hash.
type ByteSource interface {
	io.ReaderAt
	Size() int64
	SourceID() string
}
