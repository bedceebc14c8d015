package matcher

import (
	apperrors "github.com/mchaput/tessera/pkg/errors"
)

// And intersects its children by leapfrog: repeatedly skip every child to
// the maximum of the children's current ids until all agree or one
// exhausts. Short lists drive long ones, so the cost follows the smallest
// child.
type And struct {
	kids   []Matcher
	cur    uint32
	active bool
}

// NewAnd builds the intersection and positions it on its first match.
func NewAnd(kids ...Matcher) (*And, error) {
	a := &And{kids: kids}
	if len(kids) == 0 {
		return a, nil
	}
	for _, k := range kids {
		if !k.IsActive() {
			return a, nil
		}
	}
	a.active = true
	if err := a.align(); err != nil {
		return nil, err
	}
	return a, nil
}

// align leapfrogs the children to agreement.
func (a *And) align() error {
	for {
		max := a.kids[0].DocID()
		agree := true
		for _, k := range a.kids[1:] {
			id := k.DocID()
			if id != max {
				agree = false
			}
			if id > max {
				max = id
			}
		}
		if agree {
			a.cur = max
			return nil
		}
		for _, k := range a.kids {
			if k.DocID() >= max {
				continue
			}
			if err := k.SkipTo(max); err != nil {
				a.active = false
				return err
			}
			if !k.IsActive() {
				a.active = false
				return nil
			}
		}
	}
}

func (a *And) DocID() uint32  { return a.cur }
func (a *And) IsActive() bool { return a.active }

// Score sums the children's scores at the agreed doc.
func (a *And) Score() float64 {
	if !a.active {
		return 0
	}
	var s float64
	for _, k := range a.kids {
		s += k.Score()
	}
	return s
}

func (a *And) Next() error {
	if !a.active {
		return apperrors.ErrInvalidState
	}
	if err := a.kids[0].Next(); err != nil {
		a.active = false
		return err
	}
	if !a.kids[0].IsActive() {
		a.active = false
		return nil
	}
	return a.align()
}

func (a *And) SkipTo(target uint32) error {
	if !a.active {
		return apperrors.ErrInvalidState
	}
	if target <= a.cur {
		return nil
	}
	for _, k := range a.kids {
		if err := k.SkipTo(target); err != nil {
			a.active = false
			return err
		}
		if !k.IsActive() {
			a.active = false
			return nil
		}
	}
	return a.align()
}

// Or unions its children: the current doc is the minimum of the active
// children's ids, and an advance moves every child sitting at that
// minimum. Scores of children agreeing on the current doc are summed.
type Or struct {
	kids   []Matcher
	cur    uint32
	active bool
}

// NewOr builds the union and positions it on its first match.
func NewOr(kids ...Matcher) (*Or, error) {
	o := &Or{kids: kids}
	o.settle()
	return o, nil
}

// settle recomputes the minimum over active children.
func (o *Or) settle() {
	o.active = false
	for _, k := range o.kids {
		if !k.IsActive() {
			continue
		}
		if !o.active || k.DocID() < o.cur {
			o.cur = k.DocID()
			o.active = true
		}
	}
}

func (o *Or) DocID() uint32  { return o.cur }
func (o *Or) IsActive() bool { return o.active }

// Score sums the scores of the children matching the current doc.
func (o *Or) Score() float64 {
	if !o.active {
		return 0
	}
	var s float64
	for _, k := range o.kids {
		if k.IsActive() && k.DocID() == o.cur {
			s += k.Score()
		}
	}
	return s
}

func (o *Or) Next() error {
	if !o.active {
		return apperrors.ErrInvalidState
	}
	for _, k := range o.kids {
		if k.IsActive() && k.DocID() == o.cur {
			if err := k.Next(); err != nil {
				o.active = false
				return err
			}
		}
	}
	o.settle()
	return nil
}

func (o *Or) SkipTo(target uint32) error {
	if !o.active {
		return apperrors.ErrInvalidState
	}
	if target <= o.cur {
		return nil
	}
	for _, k := range o.kids {
		if k.IsActive() && k.DocID() < target {
			if err := k.SkipTo(target); err != nil {
				o.active = false
				return err
			}
		}
	}
	o.settle()
	return nil
}

// AndNot passes the positive side through, dropping docs the negative
// side also matches. The negative side is advanced lazily by SkipTo, so
// its cost is bounded by the positive side's.
type AndNot struct {
	pos Matcher
	neg Matcher
}

// NewAndNot builds the difference and positions it on its first match.
func NewAndNot(pos, neg Matcher) (*AndNot, error) {
	an := &AndNot{pos: pos, neg: neg}
	if err := an.settle(); err != nil {
		return nil, err
	}
	return an, nil
}

// settle advances the positive side past docs the negative side matches.
func (an *AndNot) settle() error {
	for an.pos.IsActive() {
		id := an.pos.DocID()
		if an.neg.IsActive() && an.neg.DocID() < id {
			if err := an.neg.SkipTo(id); err != nil {
				return err
			}
		}
		if !an.neg.IsActive() || an.neg.DocID() != id {
			return nil
		}
		if err := an.pos.Next(); err != nil {
			return err
		}
	}
	return nil
}

func (an *AndNot) DocID() uint32  { return an.pos.DocID() }
func (an *AndNot) IsActive() bool { return an.pos.IsActive() }
func (an *AndNot) Score() float64 { return an.pos.Score() }

func (an *AndNot) Next() error {
	if err := an.pos.Next(); err != nil {
		return err
	}
	return an.settle()
}

func (an *AndNot) SkipTo(target uint32) error {
	if !an.pos.IsActive() {
		return apperrors.ErrInvalidState
	}
	if target <= an.pos.DocID() {
		return nil
	}
	if err := an.pos.SkipTo(target); err != nil {
		return err
	}
	return an.settle()
}

// Not matches every doc id in [0, maxDoc) the wrapped matcher does not.
// The complement runs over the full doc-id domain, deleted ids included;
// callers normally intersect it with a positive matcher.
type Not struct {
	neg    Matcher
	maxDoc uint32
	cur    uint32
	active bool
}

// NewNot builds the complement and positions it on its first match.
func NewNot(neg Matcher, maxDoc uint32) (*Not, error) {
	n := &Not{neg: neg, maxDoc: maxDoc, active: maxDoc > 0}
	if !n.active {
		return n, nil
	}
	if err := n.settle(); err != nil {
		return nil, err
	}
	return n, nil
}

// settle moves cur forward past ids the wrapped matcher holds.
func (n *Not) settle() error {
	for n.cur < n.maxDoc && n.neg.IsActive() && n.neg.DocID() == n.cur {
		n.cur++
		if n.cur > n.neg.DocID() && n.neg.IsActive() {
			if err := n.neg.SkipTo(n.cur); err != nil {
				n.active = false
				return err
			}
		}
	}
	if n.cur >= n.maxDoc {
		n.active = false
	}
	return nil
}

func (n *Not) DocID() uint32  { return n.cur }
func (n *Not) IsActive() bool { return n.active }

// Score is zero: absence carries no weight.
func (n *Not) Score() float64 { return 0 }

func (n *Not) Next() error {
	if !n.active {
		return apperrors.ErrInvalidState
	}
	n.cur++
	return n.settle()
}

func (n *Not) SkipTo(target uint32) error {
	if !n.active {
		return apperrors.ErrInvalidState
	}
	if target <= n.cur {
		return nil
	}
	n.cur = target
	if n.neg.IsActive() && n.neg.DocID() < target {
		if err := n.neg.SkipTo(target); err != nil {
			n.active = false
			return err
		}
	}
	return n.settle()
}
