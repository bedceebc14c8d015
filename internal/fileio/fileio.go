// Package fileio is the binary file layer: sequenced reads and writes of
// fixed-width integers, varints, length-prefixed byte strings and
// checksummed records, with random access by byte offset. All multi-byte
// integers are little-endian. Decoding failures surface as ErrCorruptData.
package fileio

import (
	"encoding/binary"

	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// Magic identifies every tessera file.
const Magic uint32 = 0x54455353 // "TESS"

// FormatVersion is bumped on incompatible layout changes.
const FormatVersion uint32 = 1

// File kinds, recorded in each file header so a misnamed or cross-wired
// file is rejected at open rather than misdecoded.
const (
	KindDict   uint32 = 1
	KindPost   uint32 = 2
	KindStored uint32 = 3
	KindCache  uint32 = 4
	KindRun    uint32 = 5
	KindTOC    uint32 = 6
	KindSchema uint32 = 7
	KindBitmap uint32 = 8
)

// HeaderSize is the fixed byte size of the file header: magic, kind,
// version.
const HeaderSize = 12

// WriteHeader writes the standard file header for the given kind.
func (w *Writer) WriteHeader(kind uint32) error {
	var buf [HeaderSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint32(buf[4:8], kind)
	binary.LittleEndian.PutUint32(buf[8:12], FormatVersion)
	return w.WriteRaw(buf[:])
}

// CheckHeader validates the header at the reader's current offset and
// leaves the offset just past it.
func (r *Reader) CheckHeader(kind uint32) error {
	magic, err := r.Uint32()
	if err != nil {
		return err
	}
	if magic != Magic {
		return apperrors.Corruptf("bad magic %08x", magic)
	}
	k, err := r.Uint32()
	if err != nil {
		return err
	}
	if k != kind {
		return apperrors.Corruptf("file kind %d, want %d", k, kind)
	}
	version, err := r.Uint32()
	if err != nil {
		return err
	}
	if version != FormatVersion {
		return apperrors.Corruptf("unsupported format version %d", version)
	}
	return nil
}
