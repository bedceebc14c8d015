// Package errors defines the sentinel errors shared by every layer of the
// index. Layers wrap them with %w as they travel up, so callers can match a
// whole class of failure with errors.Is regardless of where it surfaced.
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrCorruptData reports a checksum or format violation on read. It is
	// fatal to that read; the caller retries elsewhere or reports up.
	ErrCorruptData = errors.New("corrupt data")

	// ErrLockBusy reports that another writer session holds the write lock.
	ErrLockBusy = errors.New("write lock busy")

	// ErrUnsortedInput reports an out-of-order key handed to an on-disk
	// table build or postings encoder. Caller defect, not retried.
	ErrUnsortedInput = errors.New("unsorted input")

	// ErrMissingSegment reports a TOC referencing an absent or unreadable
	// segment file-set.
	ErrMissingSegment = errors.New("missing segment")

	// ErrInvalidState reports a matcher advanced after exhaustion.
	ErrInvalidState = errors.New("matcher is not active")

	// ErrWriterClosed reports use of a writer session after commit or cancel.
	ErrWriterClosed = errors.New("writer session closed")

	// ErrReaderClosed reports use of a reader snapshot after Close.
	ErrReaderClosed = errors.New("reader closed")
)

// Corruptf wraps ErrCorruptData with positional context, e.g. the file and
// offset where decoding failed.
func Corruptf(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrCorruptData)...)
}
