// Package segment implements the immutable on-disk segment: the writer
// that emits one segment file-set from a sorted tuple stream, the reader
// that exposes its dictionary, postings, stored fields, caches and
// deletions, the multi-segment composition over one contiguous id space,
// and the merge cursors that feed several segments' live postings back
// through the writer.
package segment

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/mchaput/tessera/internal/fileio"
	"github.com/mchaput/tessera/internal/sortpool"
	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// Segment file extensions: term dictionary, postings, stored fields, field
// caches.
const (
	ExtDict   = ".dic"
	ExtPost   = ".pst"
	ExtStored = ".sto"
	ExtCache  = ".cch"
)

// Info identifies one written segment.
type Info struct {
	ID       uint64
	DocCount uint32
}

// Filename returns the file name for one segment component.
func Filename(id uint64, ext string) string {
	return fmt.Sprintf("seg_%06d%s", id, ext)
}

// Filenames returns all four component file names of a segment.
func Filenames(id uint64) []string {
	return []string{
		Filename(id, ExtDict),
		Filename(id, ExtPost),
		Filename(id, ExtStored),
		Filename(id, ExtCache),
	}
}

// DelFilename returns the deletion-bitmap file name for a segment in a
// given TOC generation. Deletions live beside the segment, one immutable
// file per generation, so older snapshots keep seeing their own bitmaps.
func DelFilename(id uint64, gen uint64) string {
	return fmt.Sprintf("seg_%06d_%010d.del", id, gen)
}

// TermKey builds the dictionary key for (field, term). The separator keeps
// dictionary entries sorted by (field, term) so one-pass merges work.
func TermKey(field, term string) []byte {
	key := make([]byte, 0, len(field)+1+len(term))
	key = append(key, field...)
	key = append(key, 0)
	key = append(key, term...)
	return key
}

// CacheKey builds the field-cache key for (field, doc id). The doc id is
// big-endian so lexicographic key order is numeric id order.
func CacheKey(field string, docID uint32) []byte {
	key := make([]byte, 0, len(field)+5)
	key = append(key, field...)
	key = append(key, 0)
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], docID)
	return append(key, id[:]...)
}

// SplitKey splits a dictionary or cache key into its field and rest parts.
func SplitKey(key []byte) (field, rest []byte, err error) {
	i := bytes.IndexByte(key, 0)
	if i < 0 {
		return nil, nil, apperrors.Corruptf("key %q has no field separator", key)
	}
	return key[:i], key[i+1:], nil
}

// DictValue is the dictionary payload for one term: where its postings
// live and its collection statistics.
type DictValue struct {
	PostOffset    uint64
	PostLen       uint64
	DocFreq       uint32
	TotalTermFreq uint64
}

const dictValueSize = 8 + 8 + 4 + 8

// Encode appends the fixed-width encoding of v to dst.
func (v DictValue) Encode(dst []byte) []byte {
	var buf [dictValueSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], v.PostOffset)
	binary.LittleEndian.PutUint64(buf[8:16], v.PostLen)
	binary.LittleEndian.PutUint32(buf[16:20], v.DocFreq)
	binary.LittleEndian.PutUint64(buf[20:28], v.TotalTermFreq)
	return append(dst, buf[:]...)
}

// DecodeDictValue decodes a dictionary payload.
func DecodeDictValue(b []byte) (DictValue, error) {
	if len(b) != dictValueSize {
		return DictValue{}, apperrors.Corruptf("dictionary value of %d bytes, want %d", len(b), dictValueSize)
	}
	return DictValue{
		PostOffset:    binary.LittleEndian.Uint64(b[0:8]),
		PostLen:       binary.LittleEndian.Uint64(b[8:16]),
		DocFreq:       binary.LittleEndian.Uint32(b[16:20]),
		TotalTermFreq: binary.LittleEndian.Uint64(b[20:28]),
	}, nil
}

// EncodeOccurrence packs one term occurrence (frequency plus positions)
// into the payload carried through the sort pool.
func EncodeOccurrence(freq uint32, positions []uint32) []byte {
	buf := make([]byte, 0, 2+len(positions)*2)
	buf = binary.AppendUvarint(buf, uint64(freq))
	buf = binary.AppendUvarint(buf, uint64(len(positions)))
	prev := uint32(0)
	for _, p := range positions {
		buf = binary.AppendUvarint(buf, uint64(p-prev))
		prev = p
	}
	return buf
}

// DecodeOccurrence unpacks an occurrence payload.
func DecodeOccurrence(payload []byte) (freq uint32, positions []uint32, err error) {
	r := fileio.NewReader(payload)
	f, err := r.Uvarint()
	if err != nil {
		return 0, nil, err
	}
	n, err := r.Uvarint()
	if err != nil {
		return 0, nil, err
	}
	prev := uint32(0)
	for i := uint64(0); i < n; i++ {
		d, err := r.Uvarint()
		if err != nil {
			return 0, nil, err
		}
		prev += uint32(d)
		positions = append(positions, prev)
	}
	return uint32(f), positions, nil
}

// TupleStream yields (key, doc id, payload) tuples in (key, doc id) order.
// Both the sort pool's merged stream and the segment-merge cursor satisfy
// it.
type TupleStream interface {
	Next() (sortpool.Tuple, bool, error)
}

// RecordStream yields per-document stored records in doc-id order.
type RecordStream interface {
	Next() ([]byte, bool, error)
}

// WriteDeletionFile persists a deletion bitmap: header, one checksummed
// record of the serialized bitmap, fsync.
func WriteDeletionFile(path string, bm *roaring.Bitmap) error {
	body, err := bm.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding deletion bitmap: %w", err)
	}
	w, err := fileio.Create(path)
	if err != nil {
		return err
	}
	if err := w.WriteHeader(fileio.KindBitmap); err != nil {
		w.Close()
		return err
	}
	if err := w.WriteRecord(body); err != nil {
		w.Close()
		return err
	}
	if err := w.Sync(); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// LoadDeletionFile reads a deletion bitmap written by WriteDeletionFile.
func LoadDeletionFile(data []byte) (*roaring.Bitmap, error) {
	r := fileio.NewReader(data)
	if err := r.CheckHeader(fileio.KindBitmap); err != nil {
		return nil, err
	}
	body, err := r.Record()
	if err != nil {
		return nil, err
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(body); err != nil {
		return nil, apperrors.Corruptf("decoding deletion bitmap: %v", err)
	}
	return bm, nil
}
