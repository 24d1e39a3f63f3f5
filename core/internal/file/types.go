package file

import "github.com/meigma/asar/core/internal/asartype"

// Re-export types from asartype to keep signatures short.
type (
	Entry     = asartype.Entry
	Integrity = asartype.Integrity
)

// Re-export sentinel errors.
var (
	ErrOutOfRange   = asartype.ErrOutOfRange
	ErrIntegrity    = asartype.ErrIntegrity
	ErrSizeOverflow = asartype.ErrSizeOverflow
	ErrIsDir        = asartype.ErrIsDir
	ErrUnpacked     = asartype.ErrUnpacked
)
