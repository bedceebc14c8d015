// Package postings implements the block-structured codec for per-term
// posting lists: doc-id deltas, frequencies, optional position deltas and
// payload bytes, in fixed-size blocks. Each block header carries its max
// doc id, so a skip-to touches O(blocks) headers instead of decoding every
// posting.
package postings

// Posting is one document occurrence record for a term within a field.
type Posting struct {
	DocID     uint32
	Freq      uint32
	Positions []uint32
	Payload   []byte
}

// Flags recorded in the list header.
const (
	flagPositions byte = 1 << 0
	flagPayloads  byte = 1 << 1
)

// DefaultBlockSize is the number of postings per block when the caller
// does not choose one.
const DefaultBlockSize = 128
