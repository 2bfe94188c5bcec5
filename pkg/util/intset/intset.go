// Package intset provides an ordered set of small non-negative integers, used
// for goal-id and variable-id sets.
//
// A Set is a value type wrapping a bitset. Mutating methods (Add, Remove,
// UnionWith, DifferenceWith) modify the receiver in place and share storage
// with any value copied from it; call Copy before mutating a set that is
// reachable from elsewhere.
package intset

import (
	"strconv"
	"strings"

	"github.com/bits-and-blooms/bitset"
	"github.com/cockroachdb/errors"
)

type Set struct {
	bits *bitset.BitSet
}

// Make returns a set containing vals.
func Make(vals ...int) Set {
	var s Set
	for _, v := range vals {
		s.Add(v)
	}
	return s
}

// Range returns {lo, ..., hi-1}.
func Range(lo, hi int) Set {
	var s Set
	for i := lo; i < hi; i++ {
		s.Add(i)
	}
	return s
}

func (s *Set) ensure() *bitset.BitSet {
	if s.bits == nil {
		s.bits = bitset.New(64)
	}
	return s.bits
}

func (s *Set) Add(v int) {
	if v < 0 {
		panic(errors.AssertionFailedf("intset: negative element %d", v))
	}
	s.ensure().Set(uint(v))
}

func (s *Set) Remove(v int) {
	if s.bits == nil || v < 0 {
		return
	}
	s.bits.Clear(uint(v))
}

func (s Set) Contains(v int) bool {
	if s.bits == nil || v < 0 {
		return false
	}
	return s.bits.Test(uint(v))
}

func (s Set) Len() int {
	if s.bits == nil {
		return 0
	}
	return int(s.bits.Count())
}

func (s Set) Empty() bool { return s.Len() == 0 }

// Min returns the smallest element; ok is false for the empty set.
func (s Set) Min() (int, bool) {
	if s.bits == nil {
		return 0, false
	}
	i, ok := s.bits.NextSet(0)
	return int(i), ok
}

// ForEach visits the elements in increasing order.
func (s Set) ForEach(f func(v int)) {
	if s.bits == nil {
		return
	}
	for i, ok := s.bits.NextSet(0); ok; i, ok = s.bits.NextSet(i + 1) {
		f(int(i))
	}
}

// Ordered returns the elements in increasing order.
func (s Set) Ordered() []int {
	out := make([]int, 0, s.Len())
	s.ForEach(func(v int) { out = append(out, v) })
	return out
}

func (s Set) Copy() Set {
	if s.bits == nil {
		return Set{}
	}
	return Set{bits: s.bits.Clone()}
}

func (s *Set) UnionWith(o Set) {
	o.ForEach(func(v int) { s.Add(v) })
}

func (s *Set) DifferenceWith(o Set) {
	o.ForEach(func(v int) { s.Remove(v) })
}

func (s Set) Union(o Set) Set {
	r := s.Copy()
	r.UnionWith(o)
	return r
}

func (s Set) Intersection(o Set) Set {
	var r Set
	s.ForEach(func(v int) {
		if o.Contains(v) {
			r.Add(v)
		}
	})
	return r
}

func (s Set) Difference(o Set) Set {
	var r Set
	s.ForEach(func(v int) {
		if !o.Contains(v) {
			r.Add(v)
		}
	})
	return r
}

func (s Set) Intersects(o Set) bool {
	found := false
	s.ForEach(func(v int) {
		if !found && o.Contains(v) {
			found = true
		}
	})
	return found
}

// SubsetOf reports whether every element of s is in o.
func (s Set) SubsetOf(o Set) bool {
	ok := true
	s.ForEach(func(v int) {
		if ok && !o.Contains(v) {
			ok = false
		}
	})
	return ok
}

func (s Set) Equals(o Set) bool {
	return s.Len() == o.Len() && s.SubsetOf(o)
}

// String renders the set as "{1,4,7}". Equal sets render identically, so the
// result doubles as a map key.
func (s Set) String() string {
	var b strings.Builder
	b.WriteByte('{')
	first := true
	s.ForEach(func(v int) {
		if !first {
			b.WriteByte(',')
		}
		first = false
		b.WriteString(strconv.Itoa(v))
	})
	b.WriteByte('}')
	return b.String()
}
