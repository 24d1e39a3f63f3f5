package asar

import (
	"crypto/sha256"
	"encoding/hex"
	"io/fs"
	"path"
	"strings"

	asarcore "github.com/meigma/asar/core"
)

// CopyFileOut materializes the file at path as a real host file and returns
// its location. Plain paths and unpacked entries are already on disk and
// are returned as is. Packed entries are written once into the copy-out
// cache and reused afterwards; executable entries are written with mode
// 0755 and the extension is kept.
func (f *FS) CopyFileOut(name string) (string, error) {
	t, err := f.route("copyout", name)
	if err != nil {
		return "", err
	}
	if t == nil {
		return name, nil
	}
	e, resolved, err := t.archive.Resolve(t.loc.Inner)
	if err != nil {
		return "", pathError("copyout", name, err)
	}
	if e.IsDir() {
		return "", &fs.PathError{Op: "copyout", Path: name, Err: ErrIsDir}
	}
	if e.Unpacked {
		return unpackedPath(t.loc.Archive, resolved), nil
	}
	if f.cache == nil {
		return "", &fs.PathError{Op: "copyout", Path: name, Err: ErrNoCache}
	}

	key := copyKey(t.archive, resolved, e)
	ext := path.Ext(resolved)
	lockKey := hex.EncodeToString(key) + ext
	f.locks.Lock(lockKey)
	defer f.locks.Unlock(lockKey)

	if p, ok := f.cache.Path(key, ext); ok {
		f.log().Debug("copy-out cache hit", "path", name, "file", p)
		return p, nil
	}
	f.log().Debug("copy-out cache miss", "path", name)

	file, err := t.archive.OpenEntry(resolved)
	if err != nil {
		return "", pathError("copyout", name, err)
	}
	defer file.Close()

	perm := fs.FileMode(0o644)
	if e.Executable {
		perm = 0o755
	}
	p, err := f.cache.Put(key, ext, file, perm)
	if err != nil {
		return "", &fs.PathError{Op: "copyout", Path: name, Err: err}
	}
	return p, nil
}

// copyKey names a copied-out file. Content digests are only trusted as keys
// when the archive verifies them on read; otherwise the key is bound to the
// container content and the entry path.
func copyKey(a *asarcore.Archive, resolved string, e *asarcore.Entry) []byte {
	if a.VerifiesIntegrity() && e.Integrity != nil {
		if raw, err := hex.DecodeString(strings.ToLower(e.Integrity.Hash)); err == nil && len(raw) == sha256.Size {
			return raw
		}
	}
	h := sha256.New()
	h.Write([]byte(a.SourceID()))
	h.Write([]byte{0})
	h.Write([]byte(resolved))
	return h.Sum(nil)
}
