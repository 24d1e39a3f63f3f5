package asar

import (
	"log/slog"

	"github.com/meigma/asar/core/internal/write"
)

// MatchFunc selects entries by archive path while packing.
type MatchFunc = write.MatchFunc

// NativeModules is a MatchFunc selecting shared libraries and native addons.
var NativeModules MatchFunc = write.NativeModules

// ChangeDetection controls how strictly file changes are detected during creation.
type ChangeDetection uint8

const (
	ChangeDetectionNone ChangeDetection = iota
	ChangeDetectionStrict
)

// DefaultMaxFiles is the default limit used when no MaxFiles option is set.
const DefaultMaxFiles = 200_000

// createConfig holds configuration for archive creation.
type createConfig struct {
	unpackGlobs     []string
	excludeGlobs    []string
	unpack          []MatchFunc
	unpackDir       string
	changeDetection ChangeDetection
	maxFiles        int
	concurrency     int
	blockSize       int
	progress        ProgressFunc
	logger          *slog.Logger
}

// CreateOption configures archive creation.
type CreateOption func(*createConfig)

// CreateWithUnpack stores files matching any glob outside the container.
// Patterns match either the full slash path or the base name.
func CreateWithUnpack(patterns ...string) CreateOption {
	return func(c *createConfig) {
		c.unpackGlobs = append(c.unpackGlobs, patterns...)
	}
}

// CreateWithUnpackFunc stores files selected by fn outside the container.
func CreateWithUnpackFunc(fn MatchFunc) CreateOption {
	return func(c *createConfig) {
		c.unpack = append(c.unpack, fn)
	}
}

// CreateWithUnpackDir sets the directory that receives copies of unpacked
// files. When empty, unpacked files are only marked in the header.
func CreateWithUnpackDir(dir string) CreateOption {
	return func(c *createConfig) {
		c.unpackDir = dir
	}
}

// CreateWithExclude leaves out entries matching any glob. Excluding a
// directory excludes everything under it.
func CreateWithExclude(patterns ...string) CreateOption {
	return func(c *createConfig) {
		c.excludeGlobs = append(c.excludeGlobs, patterns...)
	}
}

// CreateWithChangeDetection sets the change detection mode.
func CreateWithChangeDetection(cd ChangeDetection) CreateOption {
	return func(c *createConfig) {
		c.changeDetection = cd
	}
}

// CreateWithMaxFiles limits the number of entries written.
// Zero uses DefaultMaxFiles. Negative means no limit.
func CreateWithMaxFiles(n int) CreateOption {
	return func(c *createConfig) {
		c.maxFiles = n
	}
}

// CreateWithConcurrency sets how many files are hashed in parallel.
// Values <= 0 use GOMAXPROCS.
func CreateWithConcurrency(n int) CreateOption {
	return func(c *createConfig) {
		c.concurrency = n
	}
}

// CreateWithBlockSize sets the integrity block size. Values <= 0 use 4 MiB.
func CreateWithBlockSize(n int) CreateOption {
	return func(c *createConfig) {
		c.blockSize = n
	}
}

// CreateWithProgress sets a callback to receive progress updates.
// The callback receives events for each file hashed and written.
// The callback may be invoked concurrently and must be safe for concurrent use.
func CreateWithProgress(fn ProgressFunc) CreateOption {
	return func(c *createConfig) {
		c.progress = fn
	}
}

// CreateWithLogger sets the logger for archive creation.
func CreateWithLogger(logger *slog.Logger) CreateOption {
	return func(c *createConfig) {
		c.logger = logger
	}
}
