package asar

import (
	"fmt"
	"os"
	"path/filepath"
)

// fileSource wraps *os.File to implement ByteSource.
// os.File has ReadAt but not Size, so we cache the size at construction.
type fileSource struct {
	file     *os.File
	size     int64
	sourceID string
}

// NewFileSource returns a ByteSource over an open container file. The
// source ID is derived from the absolute path, size and modification time.
func NewFileSource(f *os.File) (ByteSource, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat container: %w", err)
	}
	return &fileSource{file: f, size: info.Size(), sourceID: FileSourceID(f.Name(), info)}, nil
}

// ReadAt implements io.ReaderAt.
func (fs *fileSource) ReadAt(p []byte, off int64) (int, error) {
	return fs.file.ReadAt(p, off)
}

// Size returns the total size of the file.
func (fs *fileSource) Size() int64 {
	return fs.size
}

// SourceID returns a stable identifier for the file content.
func (fs *fileSource) SourceID() string {
	return fs.sourceID
}

// FileSourceID builds the identifier used for file-backed sources.
func FileSourceID(path string, info os.FileInfo) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	return fmt.Sprintf("file:%s:%d:%d", absPath, info.Size(), info.ModTime().UnixNano())
}

// OpenFile opens and parses the container at path. The returned Archive owns
// the file handle and must be closed.
func OpenFile(path string, opts ...Option) (*Archive, error) {
	f, err := os.Open(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat container: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	source := &fileSource{file: f, size: info.Size(), sourceID: FileSourceID(abs, info)}

	opts = append([]Option{WithPath(abs), WithModTime(info.ModTime())}, opts...)
	a, err := New(source, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	a.closer = f
	return a, nil
}

// Interface compliance for fileSource.
var _ ByteSource = (*fileSource)(nil)
