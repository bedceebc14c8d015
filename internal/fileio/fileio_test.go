package fileio

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	apperrors "github.com/mchaput/tessera/pkg/errors"
)

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roundtrip.bin")
	w, err := Create(path)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := w.WriteHeader(KindDict); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	if err := w.WriteUint32(42); err != nil {
		t.Fatalf("WriteUint32: %v", err)
	}
	if err := w.WriteUint64(1 << 40); err != nil {
		t.Fatalf("WriteUint64: %v", err)
	}
	if err := w.WriteUvarint(300); err != nil {
		t.Fatalf("WriteUvarint: %v", err)
	}
	if err := w.WriteBytes([]byte("hello")); err != nil {
		t.Fatalf("WriteBytes: %v", err)
	}
	if err := w.WriteRecord([]byte("checked payload")); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	r := NewReader(data)
	if err := r.CheckHeader(KindDict); err != nil {
		t.Fatalf("CheckHeader: %v", err)
	}
	if v, err := r.Uint32(); err != nil || v != 42 {
		t.Fatalf("Uint32 = %d, %v; want 42", v, err)
	}
	if v, err := r.Uint64(); err != nil || v != 1<<40 {
		t.Fatalf("Uint64 = %d, %v; want 2^40", v, err)
	}
	if v, err := r.Uvarint(); err != nil || v != 300 {
		t.Fatalf("Uvarint = %d, %v; want 300", v, err)
	}
	if b, err := r.Bytes(); err != nil || string(b) != "hello" {
		t.Fatalf("Bytes = %q, %v; want hello", b, err)
	}
	if b, err := r.Record(); err != nil || string(b) != "checked payload" {
		t.Fatalf("Record = %q, %v", b, err)
	}
}

func TestCheckHeaderRejectsWrongKind(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kind.bin")
	w, _ := Create(path)
	if err := w.WriteHeader(KindPost); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	w.Close()

	data, _ := os.ReadFile(path)
	err := NewReader(data).CheckHeader(KindDict)
	if !errors.Is(err, apperrors.ErrCorruptData) {
		t.Fatalf("CheckHeader error = %v, want ErrCorruptData", err)
	}
}

func TestCorruptRecordChecksum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.bin")
	w, _ := Create(path)
	if err := w.WriteRecord([]byte("payload bytes")); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	w.Close()

	data, _ := os.ReadFile(path)
	// Flip a payload byte; the stored crc32 no longer matches.
	data[3] ^= 0xff
	_, err := NewReader(data).Record()
	if !errors.Is(err, apperrors.ErrCorruptData) {
		t.Fatalf("Record error = %v, want ErrCorruptData", err)
	}
}

func TestSeekOutOfRange(t *testing.T) {
	r := NewReader(make([]byte, 16))
	if err := r.Seek(17); !errors.Is(err, apperrors.ErrCorruptData) {
		t.Fatalf("Seek error = %v, want ErrCorruptData", err)
	}
	if err := r.Seek(16); err != nil {
		t.Fatalf("Seek to end: %v", err)
	}
	if _, err := r.Raw(1); !errors.Is(err, apperrors.ErrCorruptData) {
		t.Fatalf("Raw past end = %v, want ErrCorruptData", err)
	}
}

func TestStreamReaderRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stream.bin")
	w, _ := Create(path)
	if err := w.WriteHeader(KindRun); err != nil {
		t.Fatalf("WriteHeader: %v", err)
	}
	records := []string{"first", "second", "third"}
	for _, rec := range records {
		if err := w.WriteRecord([]byte(rec)); err != nil {
			t.Fatalf("WriteRecord: %v", err)
		}
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
	w.Close()

	s, err := OpenStream(path)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer s.Close()
	if err := s.CheckHeader(KindRun); err != nil {
		t.Fatalf("CheckHeader: %v", err)
	}
	for i, want := range records {
		got, err := s.Record()
		if err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
		if string(got) != want {
			t.Fatalf("Record %d = %q, want %q", i, got, want)
		}
	}
	if _, err := s.Record(); err != io.EOF {
		t.Fatalf("Record past end = %v, want io.EOF", err)
	}
}
