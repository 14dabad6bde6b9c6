// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package curve

import (
	"math/big"

	"github.com/luxfi/omnivault/types"
)

// segment is an affine piece of the curve on [from, to]. A nil to is
// unbounded and only ever carries a flat rate.
type segment struct {
	from, to   *big.Int
	rFrom, rTo *big.Int
}

func (s segment) flat() bool {
	return s.rFrom.Cmp(s.rTo) == 0
}

func (c Curve) segments() []segment {
	var (
		zero    = new(big.Int)
		kink    = new(big.Int).SetUint64(c.Kink)
		maxRate = new(big.Int).SetUint64(c.MaxRate)
		optRate = new(big.Int).SetUint64(c.OptimalRate)
		segs    = make([]segment, 0, 3)
	)
	if c.Kink > 0 {
		segs = append(segs, segment{from: zero, to: kink, rFrom: maxRate, rTo: optRate})
	}
	switch c.Shape {
	case DepositBonus:
		if c.Kink < types.MaxPercent {
			segs = append(segs, segment{from: kink, to: types.MaxPercentBig, rFrom: optRate, rTo: optRate})
		}
		segs = append(segs, segment{from: types.MaxPercentBig, rFrom: zero, rTo: zero})
	default:
		segs = append(segs, segment{from: kink, rFrom: optRate, rTo: optRate})
	}
	return segs
}

// Integrate returns the exact definite integral of the rate between two
// utilizations, in rate*utilization units (both scaled by MaxPercent).
// Bounds may be given in either order; the area is always non-negative.
//
// Each clipped segment contributes width * rate(midpoint). The midpoint
// rate is evaluated as an exact rational so the only rounding is one floor
// division per segment.
func (c Curve) Integrate(from, to *big.Int) *big.Int {
	lo, hi := from, to
	if lo.Cmp(hi) > 0 {
		lo, hi = hi, lo
	}
	area := new(big.Int)
	if lo.Cmp(hi) == 0 {
		return area
	}

	segs := c.segments()
	if from.Cmp(to) > 0 {
		// Withdrawals sweep downward.
		for i, j := 0, len(segs)-1; i < j; i, j = i+1, j-1 {
			segs[i], segs[j] = segs[j], segs[i]
		}
	}
	for _, s := range segs {
		x1 := maxBig(lo, s.from)
		x2 := hi
		if s.to != nil {
			x2 = minBig(hi, s.to)
		}
		if x2.Cmp(x1) <= 0 {
			continue
		}
		area.Add(area, s.area(x1, x2))
	}
	return area
}

// area integrates the segment over [x1, x2] inside [from, to]:
//
//	(x2-x1) * (2*rFrom*(to-from) + (rTo-rFrom)*(x1+x2-2*from)) / (2*(to-from))
func (s segment) area(x1, x2 *big.Int) *big.Int {
	width := new(big.Int).Sub(x2, x1)
	if s.flat() {
		return width.Mul(width, s.rFrom)
	}
	span := new(big.Int).Sub(s.to, s.from)

	num := new(big.Int).Mul(s.rFrom, span)
	num.Lsh(num, 1)

	offset := new(big.Int).Add(x1, x2)
	offset.Sub(offset, new(big.Int).Lsh(s.from, 1))
	slope := new(big.Int).Sub(s.rTo, s.rFrom)
	num.Add(num, slope.Mul(slope, offset))
	num.Mul(num, width)

	den := span.Lsh(span, 1)
	return num.Quo(num, den)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
