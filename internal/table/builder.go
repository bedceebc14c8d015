// Package table implements the on-disk keyed table behind the term
// dictionary and the field caches. A table is built exactly once from a
// stream of strictly ascending keys and afterwards supports exact lookup
// and ordered prefix scans.
//
// Layout: file header, then one checksummed record per entry (key length,
// key, value), then a single checksummed index record holding every
// indexInterval-th key with its absolute entry offset, then a fixed footer
// pointing at the index.
package table

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/mchaput/tessera/internal/fileio"
	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// indexInterval is the sparse-index stride: one index entry per this many
// table entries.
const indexInterval = 16

// footerSize is the fixed byte size of the trailing footer: index offset,
// entry count, magic.
const footerSize = 16

// Builder writes an on-disk table from a presorted key stream.
type Builder struct {
	w       *fileio.Writer
	kind    uint32
	prev    []byte
	count   int
	sparse  bytes.Buffer
	scratch bytes.Buffer
}

// NewBuilder creates the table file at path. kind distinguishes dictionary
// files from cache files in their headers.
func NewBuilder(path string, kind uint32) (*Builder, error) {
	w, err := fileio.Create(path)
	if err != nil {
		return nil, err
	}
	if err := w.WriteHeader(kind); err != nil {
		w.Close()
		return nil, err
	}
	return &Builder{w: w, kind: kind}, nil
}

// Add appends one entry. Keys must arrive in strictly ascending byte
// order; a violation fails with ErrUnsortedInput.
func (b *Builder) Add(key, value []byte) error {
	if b.count > 0 && bytes.Compare(key, b.prev) <= 0 {
		return fmt.Errorf("table build: key %q after %q: %w", key, b.prev, apperrors.ErrUnsortedInput)
	}
	if b.count%indexInterval == 0 {
		appendBytes(&b.sparse, key)
		var off [8]byte
		binary.LittleEndian.PutUint64(off[:], uint64(b.w.Offset()))
		b.sparse.Write(off[:])
	}
	b.scratch.Reset()
	appendBytes(&b.scratch, key)
	b.scratch.Write(value)
	if err := b.w.WriteRecord(b.scratch.Bytes()); err != nil {
		return err
	}
	b.prev = append(b.prev[:0], key...)
	b.count++
	return nil
}

// Count returns the number of entries added so far.
func (b *Builder) Count() int { return b.count }

// Close writes the sparse index and footer, syncs and closes the file.
func (b *Builder) Close() error {
	indexOff := b.w.Offset()
	if err := b.w.WriteRecord(b.sparse.Bytes()); err != nil {
		b.w.Close()
		return err
	}
	var footer [footerSize]byte
	binary.LittleEndian.PutUint64(footer[0:8], uint64(indexOff))
	binary.LittleEndian.PutUint32(footer[8:12], uint32(b.count))
	binary.LittleEndian.PutUint32(footer[12:16], fileio.Magic)
	if err := b.w.WriteRaw(footer[:]); err != nil {
		b.w.Close()
		return err
	}
	if err := b.w.Sync(); err != nil {
		b.w.Close()
		return err
	}
	return b.w.Close()
}

func appendBytes(buf *bytes.Buffer, b []byte) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(b)))
	buf.Write(tmp[:n])
	buf.Write(b)
}
