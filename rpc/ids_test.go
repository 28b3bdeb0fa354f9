package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdgenMonotonic(t *testing.T) {
	var g idgen
	require.EqualValues(t, 0, g.alloc())
	require.EqualValues(t, 1, g.alloc())
	require.EqualValues(t, 2, g.alloc())
}

func TestIdgenReusesReleasedIds(t *testing.T) {
	var g idgen
	a := g.alloc()
	b := g.alloc()
	g.release(a)
	reused := g.alloc()
	require.Equal(t, a, reused)

	c := g.alloc()
	require.NotEqual(t, b, c)
}
