// Package bimap implements a one-to-one map kept consistent in both directions.
package bimap

import "github.com/cockroachdb/errors"

type Map[L, R comparable] struct {
	fwd map[L]R
	bwd map[R]L
}

func New[L, R comparable]() *Map[L, R] {
	return &Map[L, R]{fwd: make(map[L]R), bwd: make(map[R]L)}
}

// TryInsert adds l <-> r. It reports false, leaving the map unchanged, if
// either side is already paired (an identical existing pair counts as success).
func (m *Map[L, R]) TryInsert(l L, r R) bool {
	if cur, ok := m.fwd[l]; ok {
		return cur == r
	}
	if _, ok := m.bwd[r]; ok {
		return false
	}
	m.fwd[l] = r
	m.bwd[r] = l
	return true
}

// Insert adds l <-> r and panics if either side is already occupied.
func (m *Map[L, R]) Insert(l L, r R) {
	if _, ok := m.fwd[l]; ok {
		panic(errors.AssertionFailedf("bimap: left key %v already mapped", l))
	}
	if _, ok := m.bwd[r]; ok {
		panic(errors.AssertionFailedf("bimap: right key %v already mapped", r))
	}
	m.fwd[l] = r
	m.bwd[r] = l
}

func (m *Map[L, R]) Get(l L) (R, bool) {
	r, ok := m.fwd[l]
	return r, ok
}

func (m *Map[L, R]) Inverse(r R) (L, bool) {
	l, ok := m.bwd[r]
	return l, ok
}

// Erase removes the pair containing l, if any.
func (m *Map[L, R]) Erase(l L) {
	r, ok := m.fwd[l]
	if !ok {
		return
	}
	delete(m.fwd, l)
	delete(m.bwd, r)
}

func (m *Map[L, R]) Len() int { return len(m.fwd) }

func (m *Map[L, R]) Clone() *Map[L, R] {
	c := New[L, R]()
	for l, r := range m.fwd {
		c.fwd[l] = r
		c.bwd[r] = l
	}
	return c
}

// Forward returns a copy of the left-to-right direction.
func (m *Map[L, R]) Forward() map[L]R {
	out := make(map[L]R, len(m.fwd))
	for l, r := range m.fwd {
		out[l] = r
	}
	return out
}
