package fileio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// StreamReader decodes primitives sequentially from a buffered file. Run
// files can exceed memory, so they are streamed rather than mapped.
// A clean end of file surfaces as io.EOF from the first read of a value;
// EOF in the middle of a value is ErrCorruptData.
type StreamReader struct {
	f  *os.File
	br *bufio.Reader
}

// OpenStream opens path for sequential decoding.
func OpenStream(path string) (*StreamReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return &StreamReader{f: f, br: bufio.NewReaderSize(f, 1<<16)}, nil
}

// CheckHeader validates the file header at the start of the stream.
func (s *StreamReader) CheckHeader(kind uint32) error {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(s.br, buf[:]); err != nil {
		return apperrors.Corruptf("reading header of %s", s.f.Name())
	}
	if binary.LittleEndian.Uint32(buf[0:4]) != Magic {
		return apperrors.Corruptf("bad magic in %s", s.f.Name())
	}
	if k := binary.LittleEndian.Uint32(buf[4:8]); k != kind {
		return apperrors.Corruptf("file kind %d in %s, want %d", k, s.f.Name(), kind)
	}
	if v := binary.LittleEndian.Uint32(buf[8:12]); v != FormatVersion {
		return apperrors.Corruptf("unsupported format version %d in %s", v, s.f.Name())
	}
	return nil
}

// Uvarint decodes the next varint. io.EOF means a clean end of stream.
func (s *StreamReader) Uvarint() (uint64, error) {
	v, err := binary.ReadUvarint(s.br)
	if err == io.EOF {
		return 0, io.EOF
	}
	if err != nil {
		return 0, apperrors.Corruptf("bad uvarint in %s", s.f.Name())
	}
	return v, nil
}

// Uint32 decodes the next fixed-width uint32.
func (s *StreamReader) Uint32() (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(s.br, buf[:]); err != nil {
		return 0, apperrors.Corruptf("truncated uint32 in %s", s.f.Name())
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Record decodes the next checksummed record. io.EOF means a clean end of
// stream.
func (s *StreamReader) Record() ([]byte, error) {
	n, err := s.Uvarint()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, err
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(s.br, payload); err != nil {
		return nil, apperrors.Corruptf("truncated record in %s", s.f.Name())
	}
	sum, err := s.Uint32()
	if err != nil {
		return nil, err
	}
	if sum != crc32.ChecksumIEEE(payload) {
		return nil, apperrors.Corruptf("record checksum mismatch in %s", s.f.Name())
	}
	return payload, nil
}

// Close closes the underlying file.
func (s *StreamReader) Close() error {
	return s.f.Close()
}
