package file

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"
)

// HashAlgorithm is the only per-file algorithm written by packers.
const HashAlgorithm = "SHA256"

// ValidateIntegrity checks that entry carries usable block integrity
// metadata for its size.
func ValidateIntegrity(entry *Entry) error {
	in := entry.Integrity
	if in == nil {
		return fmt.Errorf("%w: no integrity recorded", ErrIntegrity)
	}
	if !strings.EqualFold(in.Algorithm, HashAlgorithm) {
		return fmt.Errorf("%w: unsupported algorithm %q", ErrIntegrity, in.Algorithm)
	}
	if in.BlockSize == 0 {
		return fmt.Errorf("%w: zero block size", ErrIntegrity)
	}
	if want := BlockCount(entry.Size, in.BlockSize); uint64(len(in.Blocks)) < want {
		return fmt.Errorf("%w: %d block hashes for %d blocks", ErrIntegrity, len(in.Blocks), want)
	}
	return nil
}

// BlockCount returns the number of blocks of blockSize needed for size bytes.
func BlockCount(size uint64, blockSize uint32) uint64 {
	if size == 0 {
		return 0
	}
	bs := uint64(blockSize)
	return (size + bs - 1) / bs
}

// digestEqual compares a hex digest from the header with computed bytes in
// constant time. Malformed hex never matches.
func digestEqual(expectedHex string, computed []byte) bool {
	expected, err := hex.DecodeString(expectedHex)
	if err != nil || len(expected) != sha256.Size {
		return false
	}
	return subtle.ConstantTimeCompare(expected, computed) == 1
}
