// Package sortpool buffers indexing tuples, spills sorted runs to
// temporary storage once a memory threshold is exceeded, and k-way merges
// all runs back into one fully sorted stream. A worker pool fans disjoint
// document batches across independent pools whose runs join in a single
// final merge.
package sortpool

import (
	"bytes"
	"encoding/binary"

	"github.com/mchaput/tessera/internal/fileio"
)

// Tuple is one indexing fact: a term key (field, 0x00, term) paired with
// the doc id it occurred in and an opaque codec payload for that
// occurrence. Cache pools reuse the same shape with different keys.
type Tuple struct {
	Key     []byte
	DocID   uint32
	Payload []byte
}

// Less orders tuples by (key, doc id), the order the segment writer
// consumes.
func (t Tuple) Less(o Tuple) bool {
	if c := bytes.Compare(t.Key, o.Key); c != 0 {
		return c < 0
	}
	return t.DocID < o.DocID
}

// approxSize estimates the buffered memory held by the tuple.
func (t Tuple) approxSize() int64 {
	return int64(len(t.Key) + len(t.Payload) + 16)
}

func (t Tuple) encode(buf *bytes.Buffer) []byte {
	buf.Reset()
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], uint64(len(t.Key)))
	buf.Write(tmp[:n])
	buf.Write(t.Key)
	var doc [4]byte
	binary.LittleEndian.PutUint32(doc[:], t.DocID)
	buf.Write(doc[:])
	buf.Write(t.Payload)
	return buf.Bytes()
}

func decodeTuple(payload []byte) (Tuple, error) {
	r := fileio.NewReader(payload)
	key, err := r.Bytes()
	if err != nil {
		return Tuple{}, err
	}
	doc, err := r.Uint32()
	if err != nil {
		return Tuple{}, err
	}
	return Tuple{Key: key, DocID: doc, Payload: payload[r.Offset():]}, nil
}
