package integrity

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp" //nolint:staticcheck // Using ProtonMail's maintained fork
)

// KeyRing is the set of keys trusted to sign manifests.
type KeyRing = openpgp.EntityList

var armorHeader = []byte("-----BEGIN PGP")

// ReadKeyRing parses an armored or binary OpenPGP keyring.
func ReadKeyRing(data []byte) (KeyRing, error) {
	var (
		keyring KeyRing
		err     error
	)
	if bytes.HasPrefix(bytes.TrimSpace(data), armorHeader) {
		keyring, err = openpgp.ReadArmoredKeyRing(bytes.NewReader(data))
	} else {
		keyring, err = openpgp.ReadKeyRing(bytes.NewReader(data))
	}
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	if len(keyring) == 0 {
		return nil, errors.New("read keyring: keyring is empty")
	}
	return keyring, nil
}

// LoadKeyRing reads a keyring file.
func LoadKeyRing(path string) (KeyRing, error) {
	data, err := os.ReadFile(path) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("read keyring: %w", err)
	}
	return ReadKeyRing(data)
}

// VerifySignature checks a detached signature (armored or binary) over data
// and returns the signing entity.
func VerifySignature(data, signature []byte, keyring KeyRing) (*openpgp.Entity, error) {
	if len(keyring) == 0 {
		return nil, fmt.Errorf("%w: no trusted keys", ErrBadSignature)
	}
	if len(signature) == 0 {
		return nil, fmt.Errorf("%w: signature is empty", ErrBadSignature)
	}
	var (
		signer *openpgp.Entity
		err    error
	)
	if bytes.HasPrefix(bytes.TrimSpace(signature), armorHeader) {
		signer, err = openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(signature), nil)
	} else {
		signer, err = openpgp.CheckDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(signature), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return signer, nil
}
