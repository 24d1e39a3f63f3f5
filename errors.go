package asar

import (
	"errors"

	asarcore "github.com/meigma/asar/core"
	"github.com/meigma/asar/integrity"
)

// Errors re-exported from core.
var (
	// ErrInvalidArchive matches every error that rejects a container.
	ErrInvalidArchive = asarcore.ErrInvalidArchive

	// ErrMalformedHeader is returned when the prefix or JSON header is unusable.
	ErrMalformedHeader = asarcore.ErrMalformedHeader

	// ErrInvalidOffset is returned when a file range escapes the data region
	// or overlaps another file.
	ErrInvalidOffset = asarcore.ErrInvalidOffset

	// ErrOutOfRange is returned when a read starts past the end of a file.
	ErrOutOfRange = asarcore.ErrOutOfRange

	// ErrLinkCycle is returned when link resolution exceeds the hop limit.
	// It also matches fs.ErrNotExist.
	ErrLinkCycle = asarcore.ErrLinkCycle

	// ErrIntegrity is returned when packed content fails its embedded digest.
	ErrIntegrity = asarcore.ErrIntegrity

	ErrNotDir = asarcore.ErrNotDir
	ErrIsDir  = asarcore.ErrIsDir
)

// Errors re-exported from integrity.
var (
	// ErrUntrusted matches every trust rejection.
	ErrUntrusted = integrity.ErrUntrusted

	// ErrNoManifestEntry is returned when no manifest digest covers an archive.
	ErrNoManifestEntry = integrity.ErrNoManifestEntry

	// ErrDigestMismatch is returned when an archive differs from its manifest digest.
	ErrDigestMismatch = integrity.ErrDigestMismatch
)

// ErrNoCache is returned by CopyFileOut when no cache is configured.
var ErrNoCache = errors.New("asar: no copy-out cache configured")
