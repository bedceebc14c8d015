package matcher

import (
	"sort"

	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// Phrase matches documents containing its terms in order: a leapfrog
// intersection over the term leaves, with candidate docs accepted only
// when the position lists chain within the slop. Slop is the largest
// allowed gap between consecutive terms; 1 means exact adjacency.
type Phrase struct {
	terms  []*Term
	slop   uint32
	cur    uint32
	score  float64
	active bool
}

// NewPhrase builds the phrase matcher and positions it on its first
// match. A slop below 1 is treated as 1.
func NewPhrase(terms []*Term, slop uint32) (*Phrase, error) {
	if slop < 1 {
		slop = 1
	}
	p := &Phrase{terms: terms, slop: slop}
	if len(terms) == 0 {
		return p, nil
	}
	for _, t := range terms {
		if !t.IsActive() {
			return p, nil
		}
	}
	p.active = true
	if err := p.settle(); err != nil {
		return nil, err
	}
	return p, nil
}

// settle leapfrogs the terms to a common doc whose positions chain, and
// keeps advancing until one is found or a term exhausts.
func (p *Phrase) settle() error {
	for {
		if err := p.align(); err != nil || !p.active {
			return err
		}
		if p.chains() {
			return nil
		}
		if err := p.terms[0].Next(); err != nil {
			p.active = false
			return err
		}
		if !p.terms[0].IsActive() {
			p.active = false
			return nil
		}
	}
}

// align leapfrogs the terms to doc agreement.
func (p *Phrase) align() error {
	for {
		max := p.terms[0].DocID()
		agree := true
		for _, t := range p.terms[1:] {
			id := t.DocID()
			if id != max {
				agree = false
			}
			if id > max {
				max = id
			}
		}
		if agree {
			p.cur = max
			return nil
		}
		for _, t := range p.terms {
			if t.DocID() >= max {
				continue
			}
			if err := t.SkipTo(max); err != nil {
				p.active = false
				return err
			}
			if !t.IsActive() {
				p.active = false
				return nil
			}
		}
	}
}

// chains checks position adjacency at the agreed doc: each successive
// term must occur within slop positions after some occurrence of the
// chain so far. On a match it records the score.
func (p *Phrase) chains() bool {
	cand := p.terms[0].Positions()
	for _, t := range p.terms[1:] {
		poss := t.Positions()
		var next []uint32
		for _, base := range cand {
			for _, pos := range poss {
				if pos > base && pos-base <= p.slop {
					next = append(next, pos)
				}
			}
		}
		if len(next) == 0 {
			return false
		}
		cand = dedupe(next)
	}
	var s float64
	for _, t := range p.terms {
		s += t.Score()
	}
	p.score = s
	return true
}

// dedupe restores ascending order and drops duplicates. With slop above
// one, chain candidates reached from different bases can interleave.
func dedupe(xs []uint32) []uint32 {
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	out := xs[:0]
	for i, x := range xs {
		if i == 0 || x != out[len(out)-1] {
			out = append(out, x)
		}
	}
	return out
}

func (p *Phrase) DocID() uint32  { return p.cur }
func (p *Phrase) IsActive() bool { return p.active }

// Score sums the terms' scores at the matched doc.
func (p *Phrase) Score() float64 {
	if !p.active {
		return 0
	}
	return p.score
}

func (p *Phrase) Next() error {
	if !p.active {
		return apperrors.ErrInvalidState
	}
	if err := p.terms[0].Next(); err != nil {
		p.active = false
		return err
	}
	if !p.terms[0].IsActive() {
		p.active = false
		return nil
	}
	return p.settle()
}

func (p *Phrase) SkipTo(target uint32) error {
	if !p.active {
		return apperrors.ErrInvalidState
	}
	if target <= p.cur {
		return nil
	}
	for _, t := range p.terms {
		if err := t.SkipTo(target); err != nil {
			p.active = false
			return err
		}
		if !t.IsActive() {
			p.active = false
			return nil
		}
	}
	return p.settle()
}
