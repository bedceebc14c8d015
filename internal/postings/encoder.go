package postings

import (
	"bytes"
	"encoding/binary"
	"fmt"

	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// Encoder accumulates one term's postings and encodes them into blocks.
// Doc ids must arrive strictly increasing; the final bytes come from
// Finish.
type Encoder struct {
	blockSize int
	positions bool
	payloads  bool

	buf     []Posting
	blocks  bytes.Buffer
	nblocks int
	prevDoc uint32
	count   int
}

// NewEncoder returns an encoder producing blocks of up to blockSize
// postings. positions and payloads control which optional streams the list
// carries.
func NewEncoder(blockSize int, positions, payloads bool) *Encoder {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	return &Encoder{blockSize: blockSize, positions: positions, payloads: payloads}
}

// Add appends one posting. Doc ids must be strictly increasing within the
// list.
func (e *Encoder) Add(p Posting) error {
	if e.count > 0 && p.DocID <= e.lastDoc() {
		return fmt.Errorf("posting doc %d after %d: %w", p.DocID, e.lastDoc(), apperrors.ErrUnsortedInput)
	}
	e.buf = append(e.buf, p)
	e.count++
	if len(e.buf) == e.blockSize {
		e.flushBlock()
	}
	return nil
}

// Count returns the number of postings added.
func (e *Encoder) Count() int { return e.count }

func (e *Encoder) lastDoc() uint32 {
	if len(e.buf) > 0 {
		return e.buf[len(e.buf)-1].DocID
	}
	return e.prevDoc
}

func (e *Encoder) flushBlock() {
	var body bytes.Buffer
	prev := e.prevDoc
	for i, p := range e.buf {
		if i == 0 && e.nblocks == 0 {
			// First doc id of the list is absolute.
			putUvarint(&body, uint64(p.DocID))
		} else {
			putUvarint(&body, uint64(p.DocID-prev))
		}
		prev = p.DocID
	}
	for _, p := range e.buf {
		putUvarint(&body, uint64(p.Freq))
	}
	if e.positions {
		for _, p := range e.buf {
			putUvarint(&body, uint64(len(p.Positions)))
			prevPos := uint32(0)
			for _, pos := range p.Positions {
				putUvarint(&body, uint64(pos-prevPos))
				prevPos = pos
			}
		}
	}
	if e.payloads {
		for _, p := range e.buf {
			putUvarint(&body, uint64(len(p.Payload)))
			body.Write(p.Payload)
		}
	}
	maxDoc := e.buf[len(e.buf)-1].DocID
	putUvarint(&e.blocks, uint64(len(e.buf)))
	putUvarint(&e.blocks, uint64(maxDoc))
	putUvarint(&e.blocks, uint64(body.Len()))
	e.blocks.Write(body.Bytes())
	e.prevDoc = maxDoc
	e.buf = e.buf[:0]
	e.nblocks++
}

// Finish encodes any buffered remainder and returns the complete list
// bytes: flags, block count, blocks.
func (e *Encoder) Finish() []byte {
	if len(e.buf) > 0 {
		e.flushBlock()
	}
	var out bytes.Buffer
	var flags byte
	if e.positions {
		flags |= flagPositions
	}
	if e.payloads {
		flags |= flagPayloads
	}
	out.WriteByte(flags)
	putUvarint(&out, uint64(e.nblocks))
	out.Write(e.blocks.Bytes())
	return out.Bytes()
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}
