// Package asar reads and writes asar containers: a single file holding a
// JSON directory tree followed by the concatenated contents of every packed
// file.
//
// The container layout is
//
//	[8-byte little-endian header length N][N bytes of JSON][data region]
//
// Entry offsets in the JSON are relative to the start of the data region.
// An [Archive] answers metadata queries from the parsed header alone and
// serves content with positioned reads, so a single instance is safe for
// concurrent use. Archive implements fs.FS, fs.StatFS, fs.ReadFileFS and
// fs.ReadDirFS.
package asar
