package table

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/mchaput/tessera/internal/fileio"
	apperrors "github.com/mchaput/tessera/pkg/errors"
)

type sparseEntry struct {
	key []byte
	off int64
}

// Table provides exact-key lookup and ordered prefix scans over a built
// table file, given its full byte region (typically an mmap).
type Table struct {
	data       []byte
	sparse     []sparseEntry
	count      int
	entriesOff int64
	entriesEnd int64
}

// Open validates the region and loads the sparse index into memory.
func Open(data []byte, kind uint32) (*Table, error) {
	r := fileio.NewReader(data)
	if err := r.CheckHeader(kind); err != nil {
		return nil, err
	}
	entriesOff := r.Offset()
	if int64(len(data)) < entriesOff+footerSize {
		return nil, apperrors.Corruptf("table region of %d bytes too small", len(data))
	}
	footer := data[len(data)-footerSize:]
	indexOff := int64(binary.LittleEndian.Uint64(footer[0:8]))
	count := int(binary.LittleEndian.Uint32(footer[8:12]))
	if binary.LittleEndian.Uint32(footer[12:16]) != fileio.Magic {
		return nil, apperrors.Corruptf("bad table footer magic")
	}
	if err := r.Seek(indexOff); err != nil {
		return nil, err
	}
	indexBlob, err := r.Record()
	if err != nil {
		return nil, err
	}
	t := &Table{
		data:       data,
		count:      count,
		entriesOff: entriesOff,
		entriesEnd: indexOff,
	}
	ir := fileio.NewReader(indexBlob)
	for ir.Offset() < ir.Len() {
		key, err := ir.Bytes()
		if err != nil {
			return nil, err
		}
		off, err := ir.Uint64()
		if err != nil {
			return nil, err
		}
		if int64(off) < entriesOff || int64(off) >= indexOff {
			return nil, apperrors.Corruptf("sparse index offset %d outside entry region", off)
		}
		t.sparse = append(t.sparse, sparseEntry{key: key, off: int64(off)})
	}
	return t, nil
}

// Count returns the number of entries in the table.
func (t *Table) Count() int { return t.count }

// Get returns the value for key, or ok=false when absent.
func (t *Table) Get(key []byte) ([]byte, bool, error) {
	c := t.scanFrom(key)
	for c.Next() {
		switch bytes.Compare(c.Key(), key) {
		case 0:
			return c.Value(), true, c.Err()
		case 1:
			return nil, false, nil
		}
	}
	return nil, false, c.Err()
}

// Scan returns a forward cursor over all entries whose key starts with
// prefix. A nil prefix scans the whole table.
func (t *Table) Scan(prefix []byte) *Cursor {
	c := t.scanFrom(prefix)
	c.prefix = prefix
	return c
}

// scanFrom positions a cursor at the start of the sparse block that could
// contain from, so at most indexInterval entries precede it.
func (t *Table) scanFrom(from []byte) *Cursor {
	off := t.entriesOff
	if len(t.sparse) > 0 {
		// First sparse key strictly greater than from; the block before it
		// is where from would live.
		i := sort.Search(len(t.sparse), func(i int) bool {
			return bytes.Compare(t.sparse[i].key, from) > 0
		})
		if i > 0 {
			off = t.sparse[i-1].off
		}
	}
	c := &Cursor{t: t, r: fileio.NewReader(t.data), from: from}
	if err := c.r.Seek(off); err != nil {
		c.err = err
	}
	return c
}

// Cursor iterates table entries in key order.
type Cursor struct {
	t      *Table
	r      *fileio.Reader
	from   []byte
	prefix []byte
	key    []byte
	value  []byte
	err    error
	done   bool
}

// Next advances to the next entry, returning false at the end of the scan
// or on error.
func (c *Cursor) Next() bool {
	if c.done || c.err != nil {
		return false
	}
	for {
		if c.r.Offset() >= c.t.entriesEnd {
			c.done = true
			return false
		}
		payload, err := c.r.Record()
		if err != nil {
			c.err = err
			return false
		}
		pr := fileio.NewReader(payload)
		key, err := pr.Bytes()
		if err != nil {
			c.err = err
			return false
		}
		// Skip the leading part of the sparse block before the target key.
		if c.from != nil && bytes.Compare(key, c.from) < 0 {
			continue
		}
		if c.prefix != nil && !bytes.HasPrefix(key, c.prefix) {
			c.done = true
			return false
		}
		c.key = key
		c.value = payload[pr.Offset():]
		return true
	}
}

// Key returns the current entry's key. Valid until the next call to Next.
func (c *Cursor) Key() []byte { return c.key }

// Value returns the current entry's value. Valid until the next call to
// Next.
func (c *Cursor) Value() []byte { return c.value }

// Err returns the first error encountered during the scan.
func (c *Cursor) Err() error { return c.err }
