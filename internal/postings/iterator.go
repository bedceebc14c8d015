package postings

import (
	"github.com/mchaput/tessera/internal/fileio"
	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// Iterator is a lazy, finite, forward-only cursor over one encoded
// postings list. It starts positioned before the first posting; Next and
// SkipTo advance it and report false once the list is exhausted. It is
// restartable by constructing a new Iterator over the same bytes.
type Iterator struct {
	r          *fileio.Reader
	positions  bool
	payloads   bool
	blocksLeft int
	firstBlock bool
	prevDoc    uint32

	// current decoded block
	docs  []uint32
	freqs []uint32
	poss  [][]uint32
	pays  [][]byte
	i     int

	err  error
	done bool
}

// NewIterator opens an iterator over list bytes produced by an Encoder.
func NewIterator(data []byte) (*Iterator, error) {
	r := fileio.NewReader(data)
	flagBytes, err := r.Raw(1)
	if err != nil {
		return nil, err
	}
	nblocks, err := r.Uvarint()
	if err != nil {
		return nil, err
	}
	return &Iterator{
		r:          r,
		positions:  flagBytes[0]&flagPositions != 0,
		payloads:   flagBytes[0]&flagPayloads != 0,
		blocksLeft: int(nblocks),
		firstBlock: true,
		i:          -1,
	}, nil
}

// Next advances to the next posting.
func (it *Iterator) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	if it.i+1 < len(it.docs) {
		it.i++
		return true
	}
	if !it.decodeBlock() {
		return false
	}
	it.i = 0
	return true
}

// SkipTo advances to the first posting with doc id >= target. Targets at
// or before the current doc id leave the iterator in place; the cursor
// never regresses.
func (it *Iterator) SkipTo(target uint32) bool {
	if it.done || it.err != nil {
		return false
	}
	if it.i >= 0 && it.i < len(it.docs) && it.docs[it.i] >= target {
		return true
	}
	for {
		// Walk the rest of the current decoded block.
		for it.i+1 < len(it.docs) {
			it.i++
			if it.docs[it.i] >= target {
				return true
			}
		}
		// Consult the next block's header; jump the body when the whole
		// block is below the target.
		if it.blocksLeft == 0 {
			it.done = true
			return false
		}
		save := it.r.Offset()
		_, maxDoc, bodyLen, ok := it.readHeader()
		if !ok {
			return false
		}
		if maxDoc < target {
			if err := it.r.Seek(it.r.Offset() + int64(bodyLen)); err != nil {
				it.fail(err)
				return false
			}
			// prevDoc becomes the skipped block's max, so the following
			// block's leading delta still resolves.
			it.prevDoc = maxDoc
			it.firstBlock = false
			it.blocksLeft--
			it.docs = it.docs[:0]
			it.i = -1
			continue
		}
		if err := it.r.Seek(save); err != nil {
			it.fail(err)
			return false
		}
		if !it.decodeBlock() {
			return false
		}
		it.i = -1
	}
}

// DocID returns the current posting's doc id.
func (it *Iterator) DocID() uint32 { return it.docs[it.i] }

// Freq returns the current posting's term frequency.
func (it *Iterator) Freq() uint32 { return it.freqs[it.i] }

// Positions returns the current posting's positions, or nil when the list
// was encoded without them.
func (it *Iterator) Positions() []uint32 {
	if !it.positions {
		return nil
	}
	return it.poss[it.i]
}

// Payload returns the current posting's payload bytes, or nil.
func (it *Iterator) Payload() []byte {
	if !it.payloads {
		return nil
	}
	return it.pays[it.i]
}

// Err returns the first decoding error encountered.
func (it *Iterator) Err() error { return it.err }

// readHeader consumes the next block header.
func (it *Iterator) readHeader() (count int, maxDoc uint32, bodyLen int, ok bool) {
	c, err := it.r.Uvarint()
	if err != nil {
		it.fail(err)
		return 0, 0, 0, false
	}
	m, err := it.r.Uvarint()
	if err != nil {
		it.fail(err)
		return 0, 0, 0, false
	}
	b, err := it.r.Uvarint()
	if err != nil {
		it.fail(err)
		return 0, 0, 0, false
	}
	if c == 0 {
		it.fail(apperrors.Corruptf("empty postings block"))
		return 0, 0, 0, false
	}
	return int(c), uint32(m), int(b), true
}

// decodeBlock reads the next block fully, including its header. Returns
// false at the end of the list or on error.
func (it *Iterator) decodeBlock() bool {
	if it.blocksLeft == 0 {
		it.done = true
		return false
	}
	count, _, _, ok := it.readHeader()
	if !ok {
		return false
	}
	it.docs = it.docs[:0]
	it.freqs = it.freqs[:0]
	it.poss = it.poss[:0]
	it.pays = it.pays[:0]
	prev := it.prevDoc
	for n := 0; n < count; n++ {
		delta, err := it.r.Uvarint()
		if err != nil {
			it.fail(err)
			return false
		}
		var doc uint32
		if it.firstBlock && n == 0 {
			doc = uint32(delta)
		} else {
			doc = prev + uint32(delta)
		}
		it.docs = append(it.docs, doc)
		prev = doc
	}
	for n := 0; n < count; n++ {
		f, err := it.r.Uvarint()
		if err != nil {
			it.fail(err)
			return false
		}
		it.freqs = append(it.freqs, uint32(f))
	}
	if it.positions {
		for n := 0; n < count; n++ {
			nps, err := it.r.Uvarint()
			if err != nil {
				it.fail(err)
				return false
			}
			ps := make([]uint32, 0, nps)
			prevPos := uint32(0)
			for k := uint64(0); k < nps; k++ {
				d, err := it.r.Uvarint()
				if err != nil {
					it.fail(err)
					return false
				}
				prevPos += uint32(d)
				ps = append(ps, prevPos)
			}
			it.poss = append(it.poss, ps)
		}
	}
	if it.payloads {
		for n := 0; n < count; n++ {
			b, err := it.r.Bytes()
			if err != nil {
				it.fail(err)
				return false
			}
			it.pays = append(it.pays, b)
		}
	}
	it.prevDoc = it.docs[count-1]
	it.firstBlock = false
	it.blocksLeft--
	return true
}

func (it *Iterator) fail(err error) {
	it.err = err
	it.done = true
}
