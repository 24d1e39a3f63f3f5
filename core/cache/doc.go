// Package cache defines storage for archive entries copied out to real files.
//
// Some consumers need an operating system path rather than a reader: native
// modules, executables, anything handed to another process. A Cache keeps
// one materialized copy per key so repeated copy-outs are free.
package cache
