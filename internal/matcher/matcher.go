// Package matcher implements the cursor algebra queries are evaluated
// with: a Term leaf per postings list and And/Or/AndNot/Not/Phrase
// combinators composing into arbitrary boolean trees.
//
// Every matcher obeys one cursor contract: it is positioned on its first
// match at construction, DocID is monotonically non-decreasing across
// advances, SkipTo with a target at or below the current doc is a no-op,
// and exhaustion is terminal. Next or SkipTo on an exhausted matcher
// fails with ErrInvalidState.
package matcher

// Weight scores one term occurrence. The doc id is global (multi-segment)
// and freq is the term's frequency within the document.
type Weight func(docID, freq uint32) float64

// TFWeight is the default weighting: raw term frequency.
func TFWeight(_ uint32, freq uint32) float64 { return float64(freq) }

// Matcher is the uniform cursor over query matches.
type Matcher interface {
	// DocID returns the current match. Valid only while IsActive.
	DocID() uint32
	// IsActive reports whether the matcher has a current match.
	IsActive() bool
	// Next advances to the following match. Exhaustion deactivates the
	// matcher without error; a further call fails with ErrInvalidState.
	Next() error
	// SkipTo advances to the first match at or past target. Targets at or
	// below the current doc are ignored.
	SkipTo(target uint32) error
	// Score returns the current match's weight.
	Score() float64
}
