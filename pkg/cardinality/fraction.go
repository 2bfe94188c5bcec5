package cardinality

import (
	"math"
	"sort"

	"github.com/cockroachdb/errors"
)

// Fraction is a product of widely scaled factors kept symbolically as
// numerator and denominator multisets, each factor >= 1. Collapsing to a
// float64 happens only in Eval, which interleaves multiplications and
// divisions so intermediate values stay near 1.
//
// Fraction values are immutable; every operation returns a new value.
type Fraction struct {
	num []float64 // sorted ascending
	den []float64 // sorted ascending
}

// One is the empty product.
func One() Fraction { return Fraction{} }

// Of returns the fraction equal to v.
func Of(v float64) Fraction { return One().Mul(v) }

func (f Fraction) clone() Fraction {
	return Fraction{
		num: append([]float64(nil), f.num...),
		den: append([]float64(nil), f.den...),
	}
}

// Mul multiplies by v > 0.
func (f Fraction) Mul(v float64) Fraction {
	if !(v > 0) || math.IsInf(v, 0) {
		panic(errors.AssertionFailedf("fraction: multiplying by %v", v))
	}
	r := f.clone()
	if v < 1 {
		r.den, r.num = addFactor(r.den, r.num, 1/v)
	} else if v > 1 {
		r.num, r.den = addFactor(r.num, r.den, v)
	}
	return r
}

// Div divides by v > 0.
func (f Fraction) Div(v float64) Fraction {
	if !(v > 0) || math.IsInf(v, 0) {
		panic(errors.AssertionFailedf("fraction: dividing by %v", v))
	}
	r := f.clone()
	if v < 1 {
		r.num, r.den = addFactor(r.num, r.den, 1/v)
	} else if v > 1 {
		r.den, r.num = addFactor(r.den, r.num, v)
	}
	return r
}

// MulFrac multiplies two fractions.
func (f Fraction) MulFrac(o Fraction) Fraction {
	r := f.clone()
	for _, v := range o.num {
		r.num, r.den = addFactor(r.num, r.den, v)
	}
	for _, v := range o.den {
		r.den, r.num = addFactor(r.den, r.num, v)
	}
	return r
}

// Inv returns 1/f.
func (f Fraction) Inv() Fraction {
	r := f.clone()
	r.num, r.den = r.den, r.num
	return r
}

// addFactor inserts v (>= 1) into side unless an equal factor on the other
// side cancels it.
func addFactor(side, other []float64, v float64) ([]float64, []float64) {
	if i := sort.SearchFloat64s(other, v); i < len(other) && other[i] == v {
		return side, append(other[:i], other[i+1:]...)
	}
	i := sort.SearchFloat64s(side, v)
	side = append(side, 0)
	copy(side[i+1:], side[i:])
	side[i] = v
	return side, other
}

// Eval collapses the fraction, clamped to [floor, ceil].
func (f Fraction) Eval(floor, ceil float64) float64 {
	val := 1.0
	i, j := 0, 0
	for i < len(f.num) && j < len(f.den) {
		if val < 1 {
			val *= f.num[i]
			i++
		} else {
			val /= f.den[j]
			j++
		}
	}
	for ; i < len(f.num); i++ {
		if val > ceil {
			return ceil
		}
		val *= f.num[i]
	}
	for ; j < len(f.den); j++ {
		if val < floor {
			return floor
		}
		val /= f.den[j]
	}
	return math.Max(floor, math.Min(ceil, val))
}

// Value evaluates with the full float64 range.
func (f Fraction) Value() float64 {
	return f.Eval(0, math.MaxFloat64)
}

// OneMinusXN approximates (1-x)^n for x, n >= 0 without forming either power
// directly, clamped to [0, 1].
func OneMinusXN(x, n Fraction) float64 {
	xv := x.Value()
	nx := x.MulFrac(n).Value()
	var r float64
	switch {
	case xv >= 1:
		r = 0
	case nx < 0.01:
		r = 1 - nx
	case xv < 0.1 && nx < 0.1:
		r = 1 - nx + nx*(nx-xv)/2
	case xv < 0.1:
		r = math.Exp(-nx)
	default:
		r = math.Pow(1-xv, n.Value())
	}
	return math.Max(0, math.Min(1, r))
}
