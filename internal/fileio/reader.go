package fileio

import (
	"encoding/binary"
	"hash/crc32"

	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// Reader decodes primitives from an in-memory byte region, typically an
// mmap of a segment file. It keeps an explicit offset for sequential
// decoding; Seek gives random access.
type Reader struct {
	data []byte
	off  int
}

// NewReader wraps data starting at offset zero.
func NewReader(data []byte) *Reader {
	return &Reader{data: data}
}

// Len returns the total size of the underlying region.
func (r *Reader) Len() int64 { return int64(len(r.data)) }

// Offset returns the current decode offset.
func (r *Reader) Offset() int64 { return int64(r.off) }

// Seek positions the reader at an absolute offset.
func (r *Reader) Seek(off int64) error {
	if off < 0 || off > int64(len(r.data)) {
		return apperrors.Corruptf("seek to %d outside region of %d bytes", off, len(r.data))
	}
	r.off = int(off)
	return nil
}

// Raw returns the next n bytes without copying.
func (r *Reader) Raw(n int) ([]byte, error) {
	if n < 0 || r.off+n > len(r.data) {
		return nil, apperrors.Corruptf("read of %d bytes at offset %d overruns region of %d bytes", n, r.off, len(r.data))
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b, nil
}

// Uint32 decodes a fixed-width little-endian uint32.
func (r *Reader) Uint32() (uint32, error) {
	b, err := r.Raw(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 decodes a fixed-width little-endian uint64.
func (r *Reader) Uint64() (uint64, error) {
	b, err := r.Raw(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Uvarint decodes a varint-encoded uint64.
func (r *Reader) Uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.data[r.off:])
	if n <= 0 {
		return 0, apperrors.Corruptf("bad uvarint at offset %d", r.off)
	}
	r.off += n
	return v, nil
}

// Bytes decodes a length-prefixed byte string without copying.
func (r *Reader) Bytes() ([]byte, error) {
	n, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	return r.Raw(int(n))
}

// Record decodes a checksummed record and verifies its crc32.
func (r *Reader) Record() ([]byte, error) {
	start := r.off
	payload, err := r.Bytes()
	if err != nil {
		return nil, err
	}
	sum, err := r.Uint32()
	if err != nil {
		return nil, err
	}
	if sum != crc32.ChecksumIEEE(payload) {
		return nil, apperrors.Corruptf("record checksum mismatch at offset %d", start)
	}
	return payload, nil
}
