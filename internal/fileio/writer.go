package fileio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
)

// Writer appends primitive values to a file through a buffer, tracking the
// absolute offset of the next write. Nothing is guaranteed on disk until
// Sync; writers must sync before another process opens the file.
type Writer struct {
	f   *os.File
	buf *bufio.Writer
	off int64
}

// Create opens path for writing, truncating any existing content.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", path, err)
	}
	return &Writer{f: f, buf: bufio.NewWriterSize(f, 1<<16)}, nil
}

// Offset returns the absolute byte offset of the next write.
func (w *Writer) Offset() int64 { return w.off }

// WriteRaw appends b verbatim.
func (w *Writer) WriteRaw(b []byte) error {
	n, err := w.buf.Write(b)
	w.off += int64(n)
	if err != nil {
		return fmt.Errorf("writing %s: %w", w.f.Name(), err)
	}
	return nil
}

// WriteUint32 appends a fixed-width little-endian uint32.
func (w *Writer) WriteUint32(v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return w.WriteRaw(buf[:])
}

// WriteUint64 appends a fixed-width little-endian uint64.
func (w *Writer) WriteUint64(v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return w.WriteRaw(buf[:])
}

// WriteUvarint appends a varint-encoded uint64.
func (w *Writer) WriteUvarint(v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	return w.WriteRaw(buf[:n])
}

// WriteBytes appends a length-prefixed byte string.
func (w *Writer) WriteBytes(b []byte) error {
	if err := w.WriteUvarint(uint64(len(b))); err != nil {
		return err
	}
	return w.WriteRaw(b)
}

// WriteRecord appends a checksummed record: length, payload, crc32 of the
// payload.
func (w *Writer) WriteRecord(payload []byte) error {
	if err := w.WriteUvarint(uint64(len(payload))); err != nil {
		return err
	}
	if err := w.WriteRaw(payload); err != nil {
		return err
	}
	return w.WriteUint32(crc32.ChecksumIEEE(payload))
}

// Sync flushes the buffer and fsyncs the file.
func (w *Writer) Sync() error {
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", w.f.Name(), err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("syncing %s: %w", w.f.Name(), err)
	}
	return nil
}

// Close flushes and closes the file without syncing.
func (w *Writer) Close() error {
	if err := w.buf.Flush(); err != nil {
		w.f.Close()
		return fmt.Errorf("flushing %s: %w", w.f.Name(), err)
	}
	return w.f.Close()
}

// Name returns the underlying file path.
func (w *Writer) Name() string { return w.f.Name() }
