// Package header encodes and decodes the JSON entry tree stored at the front
// of an archive container.
//
// Decoding preserves the order of keys inside every "files" object so that a
// decoded tree re-encodes to the same bytes. Encoding is deterministic and
// never reorders entries.
package header
