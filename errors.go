package strata

import "errors"


//============================================= Strata Errors


// Sentinel error kinds. Node, allocator and group operations wrap one of
// these with fmt.Errorf("...: %w", ...) so callers can classify a failure
// with errors.Is without depending on string matching.
var (
	// ErrNotFound is returned when a read-only open targets a file that does not exist.
	ErrNotFound = errors.New("strata: file not found")
	// ErrIo is returned on a failed read, write, map, truncate or fsync syscall.
	ErrIo = errors.New("strata: io failure")
	// ErrCorrupt is returned when a header or Node violates its on-disk shape, or the free list disagrees with the file size.
	ErrCorrupt = errors.New("strata: corrupt database")
	// ErrOutOfSpace is returned when the file cannot be grown further.
	ErrOutOfSpace = errors.New("strata: out of space")
	// ErrInvalid covers buffer-mode commit, duplicate table names, and free/realloc size mismatches.
	ErrInvalid = errors.New("strata: invalid operation")
	// ErrInterrupted is returned by a writer blocked in the shared protocol after interrupt_transact.
	ErrInterrupted = errors.New("strata: interrupted")
)
