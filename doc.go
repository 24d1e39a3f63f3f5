// Package asar reads files through asar containers transparently.
//
// An asar container packs a directory tree into one file: an 8-byte length
// prefix, a JSON header describing the tree, and the concatenated file
// contents. [FS] accepts ordinary host paths. When a path runs through a
// container (for example "/opt/app/resources/app.asar/lib/index.js") the
// request is answered from the container; every other path is handed to the
// [Host] unchanged.
//
// For low-level container operations (parsing, packing, ranged reads) use
// the [core] subpackage. Manifest based trust decisions live in the
// [integrity] subpackage.
//
// # Quick Start
//
// Read through a container:
//
//	fsys, err := asar.New()
//	if err != nil {
//	    return err
//	}
//	defer fsys.Close()
//	data, err := fsys.ReadFile("/opt/app/resources/app.asar/package.json")
//
// Refuse archives that are not listed in a signed manifest:
//
//	keyring, _ := integrity.LoadKeyRing("release.asc")
//	manifest, err := integrity.LoadManifest("integrity.json",
//	    integrity.WithSignature(sig, keyring),
//	)
//	fsys, err := asar.New(
//	    asar.WithVerifier(integrity.NewVerifier(manifest)),
//	    asar.WithVerifyIntegrity(true),
//	)
//	if !fsys.IsArchiveTrusted("/opt/app/resources/app.asar") {
//	    return errors.New("refusing to load tampered application")
//	}
//
// # Copy-out
//
// Some consumers need a real OS path (loading a native module, executing a
// helper). [FS.CopyFileOut] materializes an entry into an on-disk cache
// configured with [WithCacheDir] and returns its path.
package asar
