package file

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
)

// DefaultBlockSize is the block size packers use for per-file integrity.
const DefaultBlockSize = 4 << 20

// Hasher computes per-file integrity while content streams through it.
type Hasher struct {
	blockSize int
	whole     hash.Hash
	block     hash.Hash
	inBlock   int
	blocks    []string
}

// NewHasher returns a Hasher using blockSize (DefaultBlockSize when <= 0).
func NewHasher(blockSize int) *Hasher {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Hasher{
		blockSize: blockSize,
		whole:     sha256.New(),
		block:     sha256.New(),
	}
}

// Write feeds p into both the whole-file and block digests.
func (h *Hasher) Write(p []byte) (int, error) {
	n := len(p)
	h.whole.Write(p)
	for len(p) > 0 {
		take := min(h.blockSize-h.inBlock, len(p))
		h.block.Write(p[:take])
		h.inBlock += take
		p = p[take:]
		if h.inBlock == h.blockSize {
			h.flush()
		}
	}
	return n, nil
}

func (h *Hasher) flush() {
	h.blocks = append(h.blocks, hex.EncodeToString(h.block.Sum(nil)))
	h.block.Reset()
	h.inBlock = 0
}

// Integrity finalizes the digests. The Hasher must not be written to after.
func (h *Hasher) Integrity() *Integrity {
	if h.inBlock > 0 {
		h.flush()
	}
	blocks := h.blocks
	if blocks == nil {
		blocks = []string{}
	}
	return &Integrity{
		Algorithm: HashAlgorithm,
		Hash:      hex.EncodeToString(h.whole.Sum(nil)),
		BlockSize: uint32(h.blockSize), //nolint:gosec // block sizes are small positive constants
		Blocks:    blocks,
	}
}

// Compute reads r to EOF and returns its integrity and length.
func Compute(r io.Reader, blockSize int) (*Integrity, uint64, error) {
	h := NewHasher(blockSize)
	n, err := io.Copy(h, r)
	if err != nil {
		return nil, 0, fmt.Errorf("hash content: %w", err)
	}
	return h.Integrity(), uint64(n), nil //nolint:gosec // io.Copy never returns a negative count
}
