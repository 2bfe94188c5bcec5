package bimap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertAndLookup(t *testing.T) {
	m := New[int, string]()
	m.Insert(1, "a")
	m.Insert(2, "b")

	r, ok := m.Get(1)
	require.True(t, ok)
	require.Equal(t, "a", r)
	l, ok := m.Inverse("b")
	require.True(t, ok)
	require.Equal(t, 2, l)

	require.True(t, m.TryInsert(1, "a"))
	require.False(t, m.TryInsert(1, "c"))
	require.False(t, m.TryInsert(3, "a"))
	require.Equal(t, 2, m.Len())

	require.Panics(t, func() { m.Insert(3, "a") })
	require.Panics(t, func() { m.Insert(1, "z") })
}

func TestEraseAndClone(t *testing.T) {
	m := New[int, int]()
	m.Insert(1, 10)
	c := m.Clone()
	m.Erase(1)

	_, ok := m.Inverse(10)
	require.False(t, ok)
	require.True(t, m.TryInsert(2, 10))

	r, ok := c.Get(1)
	require.True(t, ok)
	require.Equal(t, 10, r)
	require.Equal(t, map[int]int{1: 10}, c.Forward())
}
